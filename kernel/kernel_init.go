// Package kernel es el nivel 3: planificador, despacho de excepciones e interrupciones,
// pass-up-or-die y las syscalls de control de procesos y sincronización.
package kernel

import (
	"context"
	"fmt"

	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/asl"
	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/machine"
	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/pcb"
	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/tracing"
	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/utils"
)

// Config define los parámetros del kernel
type Config struct {
	MaxProc     int
	PIDMin      int
	PIDMax      int
	Quantum     uint32 // µs de time slice para LOW
	PseudoReloj uint32 // µs entre ticks del pseudo reloj
}

const (
	defaultMaxProc     = 20
	defaultPIDMin      = 1
	defaultPIDMax      = 32767
	defaultQuantum     = 5000
	defaultPseudoReloj = 100000
)

// Semáforos de dispositivo: una palabra por (línea, dispositivo) para las líneas 3..7
// (en la 7 el transmisor), luego los receptores de terminal y al final el pseudo reloj.
const (
	semsLineas     = machine.CantLineasDispositivo * machine.DispositivosPorLinea
	semsReceptores = machine.DispositivosPorLinea
	cantSemsKernel = semsLineas + semsReceptores + 1
)

// Kernel es el contexto global del núcleo. Sólo lo tocan los manejadores que corre la máquina.
type Kernel struct {
	m   *machine.Maquina
	cfg Config

	pcbs *pcb.Pool
	asl  *asl.ASL

	listosAlta pcb.Cola
	listosBaja pcb.Cola
	actual     *pcb.PCB
	forzarBaja bool

	cantProcesos int
	bloqueadosES int
	vivos        map[int]*pcb.PCB
	ultimoPID    int

	inicioRafaga uint64
	despachos    uint64

	// semDispositivos es la dirección del primer semáforo de dispositivo
	semDispositivos uint32

	soportes []*pcb.Soporte
	handles  map[*pcb.Soporte]uint32

	refill        func()
	ocupacionSwap func() int
	monitor       *Monitor

	// ctx lleva el span de la ejecución en curso
	ctx context.Context
}

func (c Config) conDefaults() Config {
	if c.MaxProc <= 0 {
		c.MaxProc = defaultMaxProc
	}
	if c.PIDMin <= 0 {
		c.PIDMin = defaultPIDMin
	}
	if c.PIDMax < c.PIDMin {
		c.PIDMax = max(defaultPIDMax, c.PIDMin)
	}
	if c.Quantum == 0 {
		c.Quantum = defaultQuantum
	}
	if c.PseudoReloj == 0 {
		c.PseudoReloj = defaultPseudoReloj
	}
	return c
}

// Nuevo crea el kernel sobre la máquina m y reserva en RAM los semáforos de dispositivo
func Nuevo(m *machine.Maquina, cfg Config) (*Kernel, error) {
	cfg = cfg.conDefaults()

	base, err := m.ReservarMemoria(cantSemsKernel*machine.TamPalabra, machine.TamPalabra)
	if err != nil {
		return nil, fmt.Errorf("error reservando semáforos de dispositivo: %w", err)
	}

	k := &Kernel{
		m:               m,
		cfg:             cfg,
		pcbs:            pcb.NuevoPool(cfg.MaxProc),
		asl:             asl.Nueva(cfg.MaxProc),
		vivos:           make(map[int]*pcb.PCB, cfg.MaxProc),
		semDispositivos: base,
		handles:         make(map[*pcb.Soporte]uint32),
		monitor:         NuevoMonitor(),
	}
	return k, nil
}

// InstalarRefill reemplaza el manejador de TLB-Refill (lo provee el pager)
func (k *Kernel) InstalarRefill(f func()) {
	k.refill = f
}

// InstalarOcupacionSwap registra la consulta de marcos ocupados para el resumen
func (k *Kernel) InstalarOcupacionSwap(f func() int) {
	k.ocupacionSwap = f
}

// RegistrarSoporte publica una estructura de soporte y devuelve el handle que se pasa a
// CREATEPROCESS en a3. El handle 0 significa "sin soporte".
func (k *Kernel) RegistrarSoporte(s *pcb.Soporte) uint32 {
	if h, ok := k.handles[s]; ok {
		return h
	}
	k.soportes = append(k.soportes, s)
	h := uint32(len(k.soportes))
	k.handles[s] = h
	return h
}

// Soporte resuelve un handle de soporte; nil si no existe
func (k *Kernel) Soporte(handle uint32) *pcb.Soporte {
	if handle == 0 || int(handle) > len(k.soportes) {
		return nil
	}
	return k.soportes[handle-1]
}

// ProcesoActual devuelve el proceso en ejecución (nil mientras se espera)
func (k *Kernel) ProcesoActual() *pcb.PCB {
	return k.actual
}

// Contexto devuelve el contexto de la ejecución iniciada con Iniciar, con su span
func (k *Kernel) Contexto() context.Context {
	if k.ctx == nil {
		return context.Background()
	}
	return k.ctx
}

// Maquina devuelve la máquina sobre la que corre el kernel
func (k *Kernel) Maquina() *machine.Maquina {
	return k.m
}

// Monitor devuelve el publicador del resumen de estado
func (k *Kernel) Monitor() *Monitor {
	return k.monitor
}

// EstadoInicial arma el estado de un proceso de kernel que arranca en pc
func EstadoInicial(pc uint32) machine.State {
	s := machine.State{
		PC:     pc,
		Status: machine.IEPON | machine.IMON | machine.TEBITON,
	}
	s.SetReg(machine.RegT9, pc)
	return s
}

// Iniciar arranca el sistema con un único proceso de prioridad baja en el estado inicial y
// corre hasta HALT (nil) o PANIC.
func (k *Kernel) Iniciar(ctx context.Context, inicial machine.State) error {
	ctx, span := tracing.IniciarSpan(ctx, "kernel.ejecucion")
	k.ctx = ctx

	err := k.m.Arrancar(ctx, k.arranque(inicial))

	span.ConAtributos(map[string]int{
		"despachos": int(k.despachos),
		"vivos":     k.cantProcesos,
		"tod":       int(k.m.TOD()),
	})
	tracing.FinalizarSpan(span, err)

	if err != nil {
		utils.ErrorLog.Error("Sistema detenido con error", "error", err, "tod", k.m.TOD())
		return err
	}
	utils.InfoLog.Info("Sistema detenido", "tod", k.m.TOD(), "despachos", k.despachos)
	return nil
}

func (k *Kernel) arranque(inicial machine.State) func() {
	return func() {
		k.m.InstalarVectores(machine.Vectores{
			Refill:    k.manejarRefill,
			Excepcion: k.manejarExcepcion,
		})

		for i := uint32(0); i < cantSemsKernel; i++ {
			k.m.Bus().EscribirPalabra(k.semDispositivos+i*machine.TamPalabra, 0)
		}
		k.m.LDIT(k.cfg.PseudoReloj)

		p := k.pcbs.Asignar()
		p.PID = k.cfg.PIDMin
		p.Prioridad = pcb.PrioridadBaja
		p.Estado = inicial
		k.ultimoPID = p.PID
		k.vivos[p.PID] = p
		k.cantProcesos++
		k.insertarListo(p)

		utils.InfoLog.Info(fmt.Sprintf("(%d) - Se crea el proceso - Estado: READY", p.PID))
		k.planificar()
	}
}
