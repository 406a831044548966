// Package memoria implementa el pager: TLB-Refill, el manejador de fallos de página y el
// swap pool con reemplazo FIFO respaldado en los dispositivos flash.
package memoria

import (
	"context"
	"fmt"

	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/kernel"
	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/machine"
	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/pcb"
	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/tracing"
	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/utils"
)

// Nucleo es lo que el pager consulta del kernel
type Nucleo interface {
	Contexto() context.Context
	ProcesoActual() *pcb.PCB
	Soporte(handle uint32) *pcb.Soporte
}

// Terminacion finaliza al proceso de usuario en curso; no vuelve
type Terminacion func(cpu *machine.CPU, sop *pcb.Soporte)

// Pager administra el swap pool
type Pager struct {
	m      *machine.Maquina
	nucleo Nucleo

	base  uint32
	swap  []EntradaSwap
	mutex uint32

	fallos   int
	pcFallo  uint32
	terminar Terminacion

	vista *utils.Semaforo
	foto  []EntradaSwap
}

// Nuevo reserva marcos marcos para el swap pool y el semáforo que lo protege
func Nuevo(m *machine.Maquina, nucleo Nucleo, marcos int) (*Pager, error) {
	if marcos <= 0 {
		return nil, fmt.Errorf("swap pool de %d marcos", marcos)
	}

	mutex, err := m.ReservarMemoria(machine.TamPalabra, machine.TamPalabra)
	if err != nil {
		return nil, fmt.Errorf("error reservando mutex del swap pool: %w", err)
	}
	base, err := m.ReservarMarcos(marcos)
	if err != nil {
		return nil, fmt.Errorf("error reservando swap pool: %w", err)
	}
	m.Bus().EscribirPalabra(mutex, 1)

	p := &Pager{
		m:      m,
		nucleo: nucleo,
		base:   base,
		swap:   make([]EntradaSwap, marcos),
		mutex:  mutex,
		vista:  utils.NewSemaforo(1),
		terminar: func(cpu *machine.CPU, _ *pcb.Soporte) {
			cpu.Syscall(kernel.SysTerminarProc, 0, 0, 0)
		},
	}
	for i := range p.swap {
		p.swap[i].liberar()
	}
	p.pcFallo = m.RutinaKernel(p.manejarFallo)
	p.publicar()

	utils.InfoLog.Info("Swap pool inicializado", "marcos", marcos, "base", fmt.Sprintf("%#x", base))
	return p, nil
}

// InstalarTerminacion define cómo se termina un proceso con un fallo irrecuperable
func (p *Pager) InstalarTerminacion(f Terminacion) {
	p.terminar = f
}

// Contexto devuelve el contexto de soporte de fallos de página con stack en stackTope
func (p *Pager) Contexto(stackTope uint32) pcb.Contexto {
	return pcb.Contexto{
		StackPtr: stackTope,
		Status:   machine.IEPON | machine.IMON | machine.TEBITON,
		PC:       p.pcFallo,
	}
}

// Fallos devuelve la cantidad de fallos de página atendidos
func (p *Pager) Fallos() int {
	return p.fallos
}

// Refill carga en la TLB la entrada de la tabla privada del proceso actual y reintenta.
// Corre como manejador del kernel.
func (p *Pager) Refill() {
	e := p.m.EstadoExcepcion()
	vpn := machine.VPN(e.EntryHi)

	i := machine.IndicePagina(vpn)
	if i < 0 {
		// fuera del espacio de usuario: el reintento da TLBL/TLBS y termina en el pager
		p.m.TLBWR(machine.EntryHi(vpn, machine.ASID(e.EntryHi)), 0)
	} else {
		entrada := p.nucleo.ProcesoActual().Soporte.TablaPaginas[i]
		p.m.TLBWR(entrada.EntryHi, entrada.EntryLo)
	}
	p.m.LDST(e)
}

// manejarFallo es el manejador de fallos de página del nivel de soporte
func (p *Pager) manejarFallo(cpu *machine.CPU) {
	sop := p.nucleo.Soporte(cpu.Syscall(kernel.SysSoporte, 0, 0, 0))
	estado := sop.Estados[pcb.ExcPagina]

	vpn := machine.VPN(estado.EntryHi)
	indice := machine.IndicePagina(vpn)
	if exc := machine.ExcCode(estado.Cause); exc == machine.ExcMod || indice < 0 {
		utils.InfoLog.Info(fmt.Sprintf("(ASID %d) - Fallo de página inválido", sop.ASID),
			"exc", exc, "vpn", fmt.Sprintf("%#x", vpn))
		p.terminar(cpu, sop)
		return
	}

	_, span := tracing.IniciarSpan(p.nucleo.Contexto(), "pager.fallo")
	span.ConAtributos(map[string]int{"asid": sop.ASID, "pagina": indice})

	p.tomarMutex(cpu)
	err := p.traerPagina(cpu, sop, vpn, indice, span)
	p.soltarMutex(cpu)

	tracing.FinalizarSpan(span, err)
	if err != nil {
		utils.ErrorLog.Error(fmt.Sprintf("(ASID %d) - Error de flash en fallo de página", sop.ASID), "error", err)
		p.terminar(cpu, sop)
		return
	}
	cpu.LDST(&estado)
}

// traerPagina elige la víctima en orden FIFO, la desaloja si hace falta y carga la página
func (p *Pager) traerPagina(cpu *machine.CPU, sop *pcb.Soporte, vpn uint32, indice int, span *tracing.Span) error {
	victima := p.fallos % len(p.swap)
	p.fallos++
	marco := p.Marco(victima)
	ocupante := &p.swap[victima]

	if ocupante.Valida() {
		desalojada := *ocupante
		p.atomico(cpu, func() {
			desalojada.entrada.EntryLo &^= machine.VALIDON
			cpu.TLBClear()
		})
		span.Evento("desalojo", map[string]int{"asid": desalojada.ASID, "pagina": desalojada.Indice, "marco": victima})
		utils.InfoLog.Debug(fmt.Sprintf("(ASID %d) - Desalojo de página %d", desalojada.ASID, desalojada.Indice), "marco", victima)

		if err := p.operacionFlash(cpu, desalojada.ASID, desalojada.Indice, marco, machine.CmdEscribirBloque); err != nil {
			return err
		}
	}

	if err := p.operacionFlash(cpu, sop.ASID, indice, marco, machine.CmdLeerBloque); err != nil {
		return err
	}

	p.atomico(cpu, func() {
		*ocupante = EntradaSwap{ASID: sop.ASID, VPN: vpn, Indice: indice, entrada: &sop.TablaPaginas[indice]}
		sop.TablaPaginas[indice].EntryLo = marco | machine.VALIDON | machine.DIRTYON
		cpu.TLBClear()
	})
	p.publicar()

	utils.InfoLog.Info(fmt.Sprintf("(ASID %d) - Página %d cargada en marco %d", sop.ASID, indice, victima))
	return nil
}

// atomico corre f con las interrupciones deshabilitadas
func (p *Pager) atomico(cpu *machine.CPU, f func()) {
	status := cpu.Status()
	cpu.SetStatus(status &^ machine.IECON)
	f()
	cpu.SetStatus(status)
}

func (p *Pager) tomarMutex(cpu *machine.CPU) {
	cpu.Syscall(kernel.SysPasseren, p.mutex, 0, 0)
}

func (p *Pager) soltarMutex(cpu *machine.CPU) {
	cpu.Syscall(kernel.SysVerhogen, p.mutex, 0, 0)
}
