package machine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrPanico se devuelve (envuelto) cuando el kernel ejecuta PANIC
	ErrPanico = errors.New("PANIC del kernel")
	// ErrSinTransferencia indica que un manejador del kernel terminó sin LDST/LDCXT/WAIT/HALT/PANIC
	ErrSinTransferencia = errors.New("manejador del kernel terminó sin transferir el control")
	// ErrTransferenciaDoble indica que un manejador pidió más de una transferencia
	ErrTransferenciaDoble = errors.New("manejador del kernel pidió dos transferencias de control")
	// ErrEsperaEterna indica un WAIT sin ningún evento futuro que pueda despertarlo
	ErrEsperaEterna = errors.New("WAIT sin interrupciones posibles")
)

// TextoKernelBase es la primera dirección que se asigna a las rutinas de kernel registradas
const TextoKernelBase uint32 = 0x00002000

const separacionRutinas uint32 = 0x100

// Programa es el código que ejecuta un hilo. Sólo accede a la máquina a través de la CPU.
type Programa func(cpu *CPU)

// Config define el hardware simulado
type Config struct {
	Marcos      int // marcos de RAM física
	EntradasTLB int
}

// Vectores son los puntos de entrada del kernel (equivalente al Pass Up Vector)
type Vectores struct {
	Refill    func()
	Excepcion func()
}

type tipoTransferencia int

const (
	transferirEstado tipoTransferencia = iota
	transferirEspera
	transferirDetencion
	transferirPanico
)

type transferencia struct {
	tipo   tipoTransferencia
	estado State
	motivo string
}

type tipoEvento int

const (
	eventoExcepcion tipoEvento = iota
	eventoCarga
	eventoFalla
)

// evento es lo que un hilo le comunica al driver al ceder el procesador
type evento struct {
	tipo   tipoEvento
	refill bool
	estado State
	origen *hilo
	err    error
}

type claveCodigo struct {
	asid int
	pc   uint32
}

// Maquina es el procesador simulado junto con su memoria, TLB, timers y dispositivos.
// Un solo contexto ejecuta a la vez: el driver (manejadores del kernel) o un hilo.
type Maquina struct {
	cpu          State
	bus          *Bus
	dispositivos *Dispositivos
	tlb          *TLB

	tod      uint64
	plt      int64
	pltLatch bool
	it       int64
	itLatch  bool

	vectores      Vectores
	excepcion     State
	transferencia *transferencia
	errManejador  error

	codigo          map[claveCodigo]Programa
	proximaRutina   uint32
	proximaReservar uint32
	hilos           int

	eventos chan evento
	apagado chan struct{}
}

// Nueva crea una máquina con la RAM y TLB indicadas y sin dispositivos instalados
func Nueva(cfg Config) *Maquina {
	if cfg.Marcos <= 0 {
		cfg.Marcos = 64
	}
	m := &Maquina{
		dispositivos:    &Dispositivos{},
		tlb:             nuevaTLB(cfg.EntradasTLB),
		plt:             -1,
		it:              -1,
		codigo:          make(map[claveCodigo]Programa),
		proximaRutina:   TextoKernelBase,
		proximaReservar: RAMBase,
		eventos:         make(chan evento),
		apagado:         make(chan struct{}),
	}
	m.dispositivos.ahora = m.TOD
	m.bus = nuevoBus(cfg.Marcos, m.dispositivos)
	return m
}

// Bus da acceso físico a RAM y registros (uso del kernel)
func (m *Maquina) Bus() *Bus { return m.bus }

// TLB permite inspeccionar la caché de traducciones
func (m *Maquina) TLB() *TLB { return m.tlb }

// InstalarVectores registra los manejadores de TLB-Refill y del resto de las excepciones
func (m *Maquina) InstalarVectores(v Vectores) {
	m.vectores = v
}

// RegistrarCodigo asocia un programa al punto de entrada (asid, pc). Las direcciones de
// kernel (menores a KUSEG) se buscan siempre con ASID 0.
func (m *Maquina) RegistrarCodigo(asid int, pc uint32, prog Programa) {
	if pc < KUSEG {
		asid = 0
	}
	m.codigo[claveCodigo{asid: asid, pc: pc}] = prog
}

// RutinaKernel registra un programa de modo kernel y devuelve la dirección asignada
func (m *Maquina) RutinaKernel(prog Programa) uint32 {
	pc := m.proximaRutina
	m.proximaRutina += separacionRutinas
	m.RegistrarCodigo(0, pc, prog)
	return pc
}

// ReservarMemoria reserva tam bytes de RAM alineados a alineacion (potencia de 2)
func (m *Maquina) ReservarMemoria(tam, alineacion uint32) (uint32, error) {
	if alineacion == 0 {
		alineacion = TamPalabra
	}
	dir := (m.proximaReservar + alineacion - 1) &^ (alineacion - 1)
	if dir+tam > m.bus.RAMTope() || dir+tam < dir {
		return 0, fmt.Errorf("sin RAM para reservar %d bytes (tope %#x)", tam, m.bus.RAMTope())
	}
	m.proximaReservar = dir + tam
	return dir, nil
}

// ReservarMarcos reserva n marcos contiguos y devuelve la dirección del primero
func (m *Maquina) ReservarMarcos(n int) (uint32, error) {
	return m.ReservarMemoria(uint32(n)*TamPagina, TamPagina)
}

// ============================================================================
// Dispositivos
// ============================================================================

// InstalarDisco instala un disco de bloques en la línea 3
func (m *Maquina) InstalarDisco(nro, bloques int, latencia uint64) *DispositivoBloques {
	d := nuevoDispositivoBloques(m.bus, bloques, latencia)
	m.dispositivos.instalar(LineaDisco, nro, d)
	return d
}

// InstalarFlash instala un dispositivo flash en la línea 4
func (m *Maquina) InstalarFlash(nro, bloques int, latencia uint64) *DispositivoBloques {
	d := nuevoDispositivoBloques(m.bus, bloques, latencia)
	m.dispositivos.instalar(LineaFlash, nro, d)
	return d
}

// Flash devuelve el dispositivo flash nro, o nil si no está instalado
func (m *Maquina) Flash(nro int) *DispositivoBloques {
	d, _ := m.dispositivos.obtener(LineaFlash, nro).(*DispositivoBloques)
	return d
}

// InstalarImpresora instala una impresora en la línea 6
func (m *Maquina) InstalarImpresora(nro int, salida io.Writer, latencia uint64) {
	m.dispositivos.instalar(LineaImpresora, nro, &impresora{
		canal:    nuevoCanal(),
		salida:   salida,
		latencia: latencia,
	})
}

// InstalarTerminal instala una terminal en la línea 7. entrada puede ser nil.
func (m *Maquina) InstalarTerminal(nro int, entrada io.Reader, salida io.Writer, latencia uint64) {
	t := &terminal{
		recepcion:   nuevoCanal(),
		transmision: nuevoCanal(),
		salida:      salida,
		latencia:    latencia,
	}
	if entrada != nil {
		t.entrada = bufio.NewReader(entrada)
	}
	m.dispositivos.instalar(LineaTerminal, nro, t)
}

// ============================================================================
// Registros de control (CP0) y timers
// ============================================================================

// Status devuelve el registro Status vivo
func (m *Maquina) Status() uint32 { return m.cpu.Status }

// SetStatus reemplaza el registro Status vivo
func (m *Maquina) SetStatus(s uint32) { m.cpu.Status = s }

// TOD devuelve el reloj del sistema en microsegundos
func (m *Maquina) TOD() uint64 { return m.tod }

// SetTIMER carga el PLT y reconoce su interrupción
func (m *Maquina) SetTIMER(v uint32) {
	m.plt = int64(v)
	m.pltLatch = false
}

// LDIT carga el interval timer y reconoce su interrupción
func (m *Maquina) LDIT(v uint32) {
	m.it = int64(v)
	m.itLatch = false
}

// TLBWR escribe una entrada en la TLB
func (m *Maquina) TLBWR(entryHi, entryLo uint32) {
	m.tlb.escribir(EntradaTLB{EntryHi: entryHi, EntryLo: entryLo})
}

// TLBCLR invalida toda la TLB
func (m *Maquina) TLBCLR() { m.tlb.limpiar() }

// EstadoExcepcion es el estado del procesador guardado por la última excepción
func (m *Maquina) EstadoExcepcion() *State { return &m.excepcion }

// ============================================================================
// Transferencias de control pedidas por los manejadores del kernel
// ============================================================================

func (m *Maquina) solicitar(t transferencia) {
	if m.transferencia != nil {
		m.errManejador = ErrTransferenciaDoble
		return
	}
	m.transferencia = &t
}

// LDST carga el estado s en el procesador
func (m *Maquina) LDST(s *State) {
	m.solicitar(transferencia{tipo: transferirEstado, estado: *s})
}

// LDCXT arranca un contexto nuevo: stack, status y pc
func (m *Maquina) LDCXT(sp, status, pc uint32) {
	s := m.cpu
	s.GPR[RegSP] = sp
	s.Status = status
	s.PC = pc
	s.hilo = nil
	m.solicitar(transferencia{tipo: transferirEstado, estado: s})
}

// Esperar detiene el procesador hasta la próxima interrupción habilitada
func (m *Maquina) Esperar() {
	m.solicitar(transferencia{tipo: transferirEspera})
}

// Detener apaga la máquina ordenadamente
func (m *Maquina) Detener() {
	m.solicitar(transferencia{tipo: transferirDetencion})
}

// Panico apaga la máquina con error
func (m *Maquina) Panico(motivo string) {
	m.solicitar(transferencia{tipo: transferirPanico, motivo: motivo})
}

// ============================================================================
// Ciclo principal
// ============================================================================

// Arrancar ejecuta inicio como manejador de arranque y luego atiende transferencias
// y excepciones hasta HALT (devuelve nil), PANIC (ErrPanico) o un error de la máquina.
func (m *Maquina) Arrancar(ctx context.Context, inicio func()) error {
	defer m.apagar()

	if err := m.correrManejador(inicio); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		t := m.transferencia
		m.transferencia = nil

		switch t.tipo {
		case transferirDetencion:
			return nil

		case transferirPanico:
			return fmt.Errorf("%w: %s", ErrPanico, t.motivo)

		case transferirEspera:
			if err := m.esperarInterrupcion(); err != nil {
				return err
			}
			if err := m.correrManejador(m.vectores.Excepcion); err != nil {
				return err
			}

		case transferirEstado:
			if err := m.cargar(t.estado); err != nil {
				return err
			}

			var ev evento
			select {
			case ev = <-m.eventos:
			case <-ctx.Done():
				return ctx.Err()
			}

			switch ev.tipo {
			case eventoFalla:
				return ev.err
			case eventoCarga:
				// LDST emitido por el hilo: el driver lo ejecuta como cualquier otro
				if ev.estado.hilo != ev.origen {
					ev.origen.terminado = true
				}
				m.transferencia = &transferencia{tipo: transferirEstado, estado: ev.estado}
			case eventoExcepcion:
				m.excepcion = ev.estado
				manejador := m.vectores.Excepcion
				if ev.refill {
					manejador = m.vectores.Refill
				}
				if err := m.correrManejador(manejador); err != nil {
					return err
				}
			}
		}
	}
}

func (m *Maquina) correrManejador(f func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("falla en manejador del kernel: %v", r)
		}
	}()

	m.transferencia = nil
	m.errManejador = nil
	if f == nil {
		return fmt.Errorf("vector de excepción sin instalar")
	}
	f()

	if m.errManejador != nil {
		return m.errManejador
	}
	if m.transferencia == nil {
		return ErrSinTransferencia
	}
	return nil
}

// cargar pone el estado s en el procesador y le cede la ejecución a su hilo
func (m *Maquina) cargar(s State) error {
	m.cpu = s
	m.cpu.Status = desapilar(s.Status)

	h := s.hilo
	if h == nil {
		asid := 0
		if s.PC >= KUSEG {
			asid = ASID(s.EntryHi)
		}
		m.lanzarHilo(m.codigo[claveCodigo{asid: asid, pc: s.PC}])
		return nil
	}

	if h.terminado {
		return fmt.Errorf("se intentó reanudar el hilo %d que ya no existe", h.id)
	}
	h.reanudar <- struct{}{}
	return nil
}

// esperarInterrupcion adelanta el reloj hasta que haya una interrupción habilitada y la toma
func (m *Maquina) esperarInterrupcion() error {
	for !m.interrupcionHabilitada() {
		t, ok := m.proximoEvento()
		if !ok {
			return ErrEsperaEterna
		}
		m.avanzar(t - m.tod)
	}

	guardado := m.cpu
	guardado.Cause = ConExcCode(guardado.Cause, ExcInt)
	guardado.Status = apilar(m.cpu.Status)
	guardado.hilo = nil
	m.cpu.Status = guardado.Status
	m.excepcion = guardado
	return nil
}

func (m *Maquina) apagar() {
	select {
	case <-m.apagado:
	default:
		close(m.apagado)
	}
}

// ============================================================================
// Reloj, timers e interrupciones
// ============================================================================

// avanzar hace pasar delta microsegundos
func (m *Maquina) avanzar(delta uint64) {
	if delta == 0 {
		return
	}
	m.tod += delta

	if m.cpu.Status&TEBITON != 0 && m.plt >= 0 {
		m.plt -= int64(delta)
		if m.plt < 0 {
			m.plt = -1
			m.pltLatch = true
		}
	}

	if m.it >= 0 {
		m.it -= int64(delta)
		if m.it < 0 {
			m.it = -1
			m.itLatch = true
		}
	}

	m.dispositivos.avanzar(m.tod)
}

// proximoEvento devuelve el instante del próximo cambio en timers o dispositivos
func (m *Maquina) proximoEvento() (uint64, bool) {
	t, hay := m.dispositivos.proximoEvento()

	candidato := func(c uint64) {
		if !hay || c < t {
			t, hay = c, true
		}
	}
	if m.it >= 0 {
		candidato(m.tod + uint64(m.it) + 1)
	}
	if m.cpu.Status&TEBITON != 0 && m.plt >= 0 {
		candidato(m.tod + uint64(m.plt) + 1)
	}
	return t, hay
}

// pasoHastaEvento acota un avance de hasta max microsegundos al próximo evento
func (m *Maquina) pasoHastaEvento(max uint64) uint64 {
	t, ok := m.proximoEvento()
	if !ok || t <= m.tod {
		return max
	}
	return min(max, t-m.tod)
}

// lineasPendientes devuelve el bitmap de líneas (bit i = línea i) con interrupción pendiente
func (m *Maquina) lineasPendientes() uint32 {
	bits := m.dispositivos.lineasPendientes()
	if m.pltLatch && m.cpu.Status&TEBITON != 0 {
		bits |= 1 << LineaPLT
	}
	if m.itLatch {
		bits |= 1 << LineaIntervalo
	}
	return bits
}

// interrupcionHabilitada actualiza los bits IP de Cause e indica si hay que tomar una interrupción
func (m *Maquina) interrupcionHabilitada() bool {
	ip := m.lineasPendientes() << causaIPBit
	m.cpu.Cause = (m.cpu.Cause &^ IMON) | ip
	return m.cpu.Status&IECON != 0 && ip&m.cpu.Status&IMON != 0
}
