package machine

import (
	"fmt"
	"runtime"
)

// hilo es un contexto de ejecución: una goroutine que corre un Programa y que sólo
// avanza cuando el driver le cede el procesador
type hilo struct {
	id        int
	reanudar  chan struct{}
	terminado bool
}

// CPU es la vista del procesador que tiene el código que corre en un hilo
type CPU struct {
	m *Maquina
	h *hilo
}

type acceso int

const (
	accesoLectura acceso = iota
	accesoEscritura
	accesoInstruccion
)

// falla describe la excepción que provoca una instrucción
type falla struct {
	exc    uint32
	refill bool
}

func (m *Maquina) lanzarHilo(prog Programa) *hilo {
	m.hilos++
	h := &hilo{id: m.hilos, reanudar: make(chan struct{})}
	cpu := &CPU{m: m, h: h}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				select {
				case m.eventos <- evento{tipo: eventoFalla, err: fmt.Errorf("falla en hilo %d: %v", h.id, r)}:
				case <-m.apagado:
				}
			}
		}()

		if prog == nil {
			// no hay código en el PC de arranque
			cpu.repetir(ExcIBE)
		}
		prog(cpu)
		// el programa terminó sin ceder el procesador: lo que sigue no son instrucciones
		cpu.repetir(ExcRI)
	}()
	return h
}

func (c *CPU) repetir(exc uint32) {
	for {
		c.ejecutar(func() *falla { return &falla{exc: exc} })
	}
}

func (c *CPU) notificar(ev evento) {
	ev.origen = c.h
	select {
	case c.m.eventos <- ev:
	case <-c.m.apagado:
		runtime.Goexit()
	}
}

func (c *CPU) esperar() {
	select {
	case <-c.h.reanudar:
	case <-c.m.apagado:
		runtime.Goexit()
	}
}

// trap guarda el estado, cede el procesador al kernel y espera a ser reanudado.
// Devuelve true si el estado reanudado vuelve a apuntar a la instrucción que falló.
func (c *CPU) trap(f falla) bool {
	m := c.m
	pcTrap := m.cpu.PC

	m.interrupcionHabilitada()
	m.cpu.Cause = ConExcCode(m.cpu.Cause, f.exc)

	guardado := m.cpu
	guardado.Status = apilar(m.cpu.Status)
	guardado.hilo = c.h
	m.cpu.Status = guardado.Status

	c.notificar(evento{tipo: eventoExcepcion, refill: f.refill, estado: guardado})
	c.esperar()
	return m.cpu.PC == pcTrap
}

// frontera atiende interrupciones y la búsqueda de la instrucción antes de ejecutarla
func (c *CPU) frontera() {
	for {
		if c.m.interrupcionHabilitada() {
			c.trap(falla{exc: ExcInt})
			continue
		}
		if _, f := c.m.traducir(c.m.cpu.PC, accesoInstruccion); f != nil {
			c.trap(*f)
			continue
		}
		return
	}
}

// ejecutar corre una instrucción de un ciclo. op devuelve la falla si no pudo completarse;
// en ese caso la instrucción se reintenta salvo que el kernel haya movido el PC.
func (c *CPU) ejecutar(op func() *falla) {
	for {
		c.frontera()
		f := op()
		if f == nil {
			c.m.cpu.PC += TamPalabra
			c.m.avanzar(1)
			return
		}
		if !c.trap(*f) {
			return
		}
	}
}

// traducir convierte una dirección virtual en física o informa la excepción correspondiente
func (m *Maquina) traducir(virt uint32, tipo acceso) (uint32, *falla) {
	escritura := tipo == accesoEscritura
	errDir := ExcAdEL
	errTLB := ExcTLBL
	if escritura {
		errDir = ExcAdES
		errTLB = ExcTLBS
	}

	if virt < KUSEG {
		if m.cpu.Status&KUCON != 0 {
			return 0, &falla{exc: errDir}
		}
		return virt, nil
	}

	vpn := virt >> EntryHiVPNBit
	asid := ASID(m.cpu.EntryHi)
	e, ok := m.tlb.buscar(vpn, asid)
	if !ok {
		m.cpu.EntryHi = EntryHi(vpn, asid)
		return 0, &falla{exc: errTLB, refill: true}
	}
	if e.EntryLo&VALIDON == 0 {
		m.cpu.EntryHi = EntryHi(vpn, asid)
		return 0, &falla{exc: errTLB}
	}
	if escritura && e.EntryLo&DIRTYON == 0 {
		m.cpu.EntryHi = EntryHi(vpn, asid)
		return 0, &falla{exc: ExcMod}
	}
	return (e.EntryLo & EntryLoPFNMask) | (virt &^ EntryLoPFNMask), nil
}

// ============================================================================
// Instrucciones
// ============================================================================

// Reg lee un registro de propósito general
func (c *CPU) Reg(r int) uint32 { return c.m.cpu.GPR[r] }

// SetReg escribe un registro de propósito general
func (c *CPU) SetReg(r int, v uint32) { c.m.cpu.GPR[r] = v }

// PC devuelve el contador de programa actual
func (c *CPU) PC() uint32 { return c.m.cpu.PC }

// EnModoUsuario indica si el hilo corre en modo usuario
func (c *CPU) EnModoUsuario() bool { return c.m.cpu.Status&KUCON != 0 }

// TOD lee el reloj del sistema
func (c *CPU) TOD() uint64 { return c.m.tod }

// Compute consume n ciclos de cómputo. Puede ser interrumpida entre ciclos.
func (c *CPU) Compute(n int) {
	restante := uint64(max(n, 1))
	pc := c.m.cpu.PC
	for restante > 0 {
		c.frontera()
		if c.m.cpu.PC != pc {
			return
		}
		paso := c.m.pasoHastaEvento(restante)
		c.m.avanzar(paso)
		restante -= paso
	}
	c.m.cpu.PC += TamPalabra
}

// Load lee una palabra
func (c *CPU) Load(dir uint32) uint32 {
	var v uint32
	c.ejecutar(func() *falla {
		if dir%TamPalabra != 0 {
			return &falla{exc: ExcAdEL}
		}
		fis, f := c.m.traducir(dir, accesoLectura)
		if f != nil {
			return f
		}
		valor, ok := c.m.bus.Leer(fis)
		if !ok {
			return &falla{exc: ExcDBE}
		}
		v = valor
		return nil
	})
	return v
}

// Store escribe una palabra
func (c *CPU) Store(dir, v uint32) {
	c.ejecutar(func() *falla {
		if dir%TamPalabra != 0 {
			return &falla{exc: ExcAdES}
		}
		fis, f := c.m.traducir(dir, accesoEscritura)
		if f != nil {
			return f
		}
		if !c.m.bus.Escribir(fis, v) {
			return &falla{exc: ExcDBE}
		}
		return nil
	})
}

// LoadByte lee un byte
func (c *CPU) LoadByte(dir uint32) byte {
	var v byte
	c.ejecutar(func() *falla {
		fis, f := c.m.traducir(dir, accesoLectura)
		if f != nil {
			return f
		}
		b, ok := c.m.bus.LeerByte(fis)
		if !ok {
			return &falla{exc: ExcDBE}
		}
		v = b
		return nil
	})
	return v
}

// StoreByte escribe un byte
func (c *CPU) StoreByte(dir uint32, v byte) {
	c.ejecutar(func() *falla {
		fis, f := c.m.traducir(dir, accesoEscritura)
		if f != nil {
			return f
		}
		if !c.m.bus.EscribirByte(fis, v) {
			return &falla{exc: ExcDBE}
		}
		return nil
	})
}

// StoreEstado serializa s a partir de dir con una escritura por palabra
func (c *CPU) StoreEstado(dir uint32, s *State) {
	for i, p := range s.palabras() {
		c.Store(dir+uint32(i*TamPalabra), p)
	}
}

// Syscall ejecuta SYSCALL con a0 = num y devuelve v0
func (c *CPU) Syscall(num int, a1, a2, a3 uint32) uint32 {
	c.m.cpu.GPR[RegA0] = uint32(int32(num))
	c.m.cpu.GPR[RegA1] = a1
	c.m.cpu.GPR[RegA2] = a2
	c.m.cpu.GPR[RegA3] = a3
	c.ejecutar(func() *falla { return &falla{exc: ExcSys} })
	return c.m.cpu.GPR[RegV0]
}

// privilegiada ejecuta op sólo en modo kernel; en modo usuario provoca CpU
func (c *CPU) privilegiada(op func()) {
	c.ejecutar(func() *falla {
		if c.EnModoUsuario() {
			return &falla{exc: ExcCpU}
		}
		op()
		return nil
	})
}

// Status lee el registro Status (privilegiada)
func (c *CPU) Status() uint32 {
	var s uint32
	c.privilegiada(func() { s = c.m.cpu.Status })
	return s
}

// SetStatus escribe el registro Status (privilegiada)
func (c *CPU) SetStatus(s uint32) {
	c.privilegiada(func() { c.m.cpu.Status = s })
}

// TLBClear invalida la TLB (privilegiada)
func (c *CPU) TLBClear() {
	c.privilegiada(c.m.TLBCLR)
}

// LDST carga el estado s (privilegiada). No vuelve salvo que s reanude a este mismo hilo.
func (c *CPU) LDST(s *State) {
	cargado := false
	c.ejecutar(func() *falla {
		if c.EnModoUsuario() {
			return &falla{exc: ExcCpU}
		}
		cargado = true
		return nil
	})
	if !cargado {
		return
	}

	objetivo := *s
	c.notificar(evento{tipo: eventoCarga, estado: objetivo})
	if objetivo.hilo == c.h {
		c.esperar()
		return
	}
	runtime.Goexit()
}
