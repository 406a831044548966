package kernel

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/machine"
	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/pcb"
)

type sistema struct {
	t *testing.T
	m *machine.Maquina
	k *Kernel
}

func nuevoSistema(t *testing.T, cfg Config) *sistema {
	m := machine.Nueva(machine.Config{Marcos: 16, EntradasTLB: 4})
	k, err := Nuevo(m, cfg)
	require.NoError(t, err)
	return &sistema{t: t, m: m, k: k}
}

// semaforo reserva una palabra de RAM con valor inicial v
func (s *sistema) semaforo(v uint32) uint32 {
	dir, err := s.m.ReservarMemoria(machine.TamPalabra, machine.TamPalabra)
	require.NoError(s.t, err)
	s.m.Bus().EscribirPalabra(dir, v)
	return dir
}

func (s *sistema) areaEstado() uint32 {
	dir, err := s.m.ReservarMemoria(machine.PalabrasEstado*machine.TamPalabra, machine.TamPalabra)
	require.NoError(s.t, err)
	return dir
}

func (s *sistema) correr(inicio machine.Programa) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.k.Iniciar(ctx, EstadoInicial(s.m.RutinaKernel(inicio)))
}

func crear(cpu *machine.CPU, dir, pc uint32, prioridad int) int {
	estado := EstadoInicial(pc)
	cpu.StoreEstado(dir, &estado)
	return int(int32(cpu.Syscall(SysCrearProceso, dir, uint32(prioridad), 0)))
}

func terminar(cpu *machine.CPU) {
	cpu.Syscall(SysTerminarProc, 0, 0, 0)
}

func verificarInvariantes(t *testing.T, k *Kernel) {
	assert.Equal(t, k.pcbs.Capacidad(), k.pcbs.Libres()+k.cantProcesos)
	assert.Len(t, k.vivos, k.cantProcesos)
	for _, p := range k.vivos {
		estados := 0
		if p == k.actual {
			estados++
		}
		if p.Bloqueado() {
			estados++
			assert.Positive(t, k.asl.Bloqueados(p.Semaforo))
		}
		if k.listosAlta.Contiene(p) || k.listosBaja.Contiene(p) {
			estados++
		}
		assert.Equal(t, 1, estados, p.String())
	}
}

func TestHaltCuandoNoQuedanProcesos(t *testing.T) {
	s := nuevoSistema(t, Config{})
	var pid, padre, soporte uint32

	err := s.correr(func(cpu *machine.CPU) {
		pid = cpu.Syscall(SysPID, 0, 0, 0)
		padre = cpu.Syscall(SysPID, 1, 0, 0)
		soporte = cpu.Syscall(SysSoporte, 0, 0, 0)
		terminar(cpu)
	})

	require.NoError(t, err)
	assert.EqualValues(t, 1, pid)
	assert.Zero(t, padre, "el proceso raíz no tiene padre")
	assert.Zero(t, soporte)

	r := s.k.Monitor().Resumen()
	assert.True(t, r.Detenido)
	assert.Zero(t, r.Vivos)
	assert.EqualValues(t, 1, r.Despachos)
	assert.Equal(t, s.k.pcbs.Capacidad(), s.k.pcbs.Libres())
}

func TestDeadlockEsPanico(t *testing.T) {
	s := nuevoSistema(t, Config{})
	sem := s.semaforo(0)

	err := s.correr(func(cpu *machine.CPU) {
		cpu.Syscall(SysPasseren, sem, 0, 0)
	})

	assert.ErrorIs(t, err, machine.ErrPanico)
	assert.ErrorContains(t, err, "deadlock")
}

func TestAltaAntesQueBaja(t *testing.T) {
	s := nuevoSistema(t, Config{})
	listo := s.semaforo(0)
	dir := s.areaEstado()
	var orden []string

	hijo := func(nombre string) uint32 {
		return s.m.RutinaKernel(func(cpu *machine.CPU) {
			orden = append(orden, nombre)
			cpu.Syscall(SysVerhogen, listo, 0, 0)
			terminar(cpu)
		})
	}
	h1, h2, l := hijo("H1"), hijo("H2"), hijo("L")

	err := s.correr(func(cpu *machine.CPU) {
		crear(cpu, dir, h1, pcb.PrioridadAlta)
		crear(cpu, dir, h2, pcb.PrioridadAlta)
		crear(cpu, dir, l, pcb.PrioridadBaja)
		// crear no desaloja al llamador
		orden = append(orden, "init")
		for i := 0; i < 3; i++ {
			cpu.Syscall(SysPasseren, listo, 0, 0)
		}
		terminar(cpu)
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"init", "H1", "H2", "L"}, orden)
}

func TestCederFuerzaUnaDecisionBaja(t *testing.T) {
	s := nuevoSistema(t, Config{})
	listo := s.semaforo(0)
	dir := s.areaEstado()
	var orden []string

	h1 := s.m.RutinaKernel(func(cpu *machine.CPU) {
		orden = append(orden, "H1")
		cpu.Syscall(SysCederProcesador, 0, 0, 0)
		orden = append(orden, "H1b")
		cpu.Syscall(SysVerhogen, listo, 0, 0)
		terminar(cpu)
	})
	otro := func(nombre string) uint32 {
		return s.m.RutinaKernel(func(cpu *machine.CPU) {
			orden = append(orden, nombre)
			cpu.Syscall(SysVerhogen, listo, 0, 0)
			terminar(cpu)
		})
	}
	h2, l := otro("H2"), otro("L")

	err := s.correr(func(cpu *machine.CPU) {
		crear(cpu, dir, h1, pcb.PrioridadAlta)
		crear(cpu, dir, h2, pcb.PrioridadAlta)
		crear(cpu, dir, l, pcb.PrioridadBaja)
		for i := 0; i < 3; i++ {
			cpu.Syscall(SysPasseren, listo, 0, 0)
		}
		terminar(cpu)
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"H1", "L", "H2", "H1b"}, orden)
}

func TestSignalTransfiereSinCambiarValor(t *testing.T) {
	s := nuevoSistema(t, Config{})
	sem := s.semaforo(0)
	uno := s.semaforo(1)
	dir := s.areaEstado()

	var (
		bloqueados, bloqueadosEnUno int
		valor, valorUno             uint32
		despertado, liberado        bool
	)

	a := s.m.RutinaKernel(func(cpu *machine.CPU) {
		cpu.Syscall(SysPasseren, sem, 0, 0)
		despertado = true
		// V sobre un semáforo en 1 bloquea
		cpu.Syscall(SysVerhogen, uno, 0, 0)
		liberado = true
		terminar(cpu)
	})

	err := s.correr(func(cpu *machine.CPU) {
		crear(cpu, dir, a, pcb.PrioridadAlta)
		cpu.Syscall(SysCederProcesador, 0, 0, 0)

		bloqueados = s.k.asl.Bloqueados(sem)
		verificarInvariantes(t, s.k)
		cpu.Syscall(SysVerhogen, sem, 0, 0)
		valor = cpu.Load(sem)

		cpu.Syscall(SysCederProcesador, 0, 0, 0)
		bloqueadosEnUno = s.k.asl.Bloqueados(uno)
		cpu.Syscall(SysPasseren, uno, 0, 0)
		valorUno = cpu.Load(uno)

		cpu.Syscall(SysCederProcesador, 0, 0, 0)
		terminar(cpu)
	})

	require.NoError(t, err)
	assert.Equal(t, 1, bloqueados)
	assert.True(t, despertado)
	assert.Zero(t, valor, "el signal despierta sin tocar el contador")
	assert.Equal(t, 1, bloqueadosEnUno)
	assert.True(t, liberado)
	assert.EqualValues(t, 1, valorUno, "el wait despierta sin tocar el contador")
}

func TestTerminarPadreConHijosBloqueados(t *testing.T) {
	s := nuevoSistema(t, Config{})
	s1, s2, s3 := s.semaforo(0), s.semaforo(0), s.semaforo(0)
	dir := s.areaEstado()

	bloquearseEn := func(sem uint32) uint32 {
		return s.m.RutinaKernel(func(cpu *machine.CPU) {
			cpu.Syscall(SysPasseren, sem, 0, 0)
			terminar(cpu)
		})
	}
	c1, c2 := bloquearseEn(s1), bloquearseEn(s2)
	padre := s.m.RutinaKernel(func(cpu *machine.CPU) {
		crear(cpu, dir, c1, pcb.PrioridadAlta)
		crear(cpu, dir, c2, pcb.PrioridadAlta)
		cpu.Syscall(SysPasseren, s3, 0, 0)
		terminar(cpu)
	})

	var vivosAntes, vivosDespues, semdsAntes, semdsDespues int
	err := s.correr(func(cpu *machine.CPU) {
		pid := crear(cpu, dir, padre, pcb.PrioridadAlta)
		cpu.Syscall(SysCederProcesador, 0, 0, 0)

		vivosAntes, semdsAntes = s.k.cantProcesos, s.k.asl.Activos()
		verificarInvariantes(t, s.k)
		cpu.Syscall(SysTerminarProc, uint32(pid), 0, 0)
		vivosDespues, semdsDespues = s.k.cantProcesos, s.k.asl.Activos()
		verificarInvariantes(t, s.k)

		// un PID inexistente no hace nada
		cpu.Syscall(SysTerminarProc, uint32(pid), 0, 0)
		terminar(cpu)
	})

	require.NoError(t, err)
	assert.Equal(t, 4, vivosAntes)
	assert.Equal(t, 3, semdsAntes)
	assert.Equal(t, 3, vivosAntes-vivosDespues, "padre más dos descendientes")
	assert.Zero(t, semdsDespues)
}

func TestTerminarHijosEsperandoDispositivoYReloj(t *testing.T) {
	s := nuevoSistema(t, Config{PseudoReloj: 1_000_000})
	s.m.InstalarDisco(0, 1, 1_000_000)
	registro := machine.DireccionRegistro(machine.LineaDisco, 0)
	destino, err := s.m.ReservarMarcos(1)
	require.NoError(t, err)
	sem := s.semaforo(0)
	dir := s.areaEstado()

	disco := s.m.RutinaKernel(func(cpu *machine.CPU) {
		cpu.Store(registro+machine.OffData0, destino)
		cpu.Syscall(SysDoIO, registro+machine.OffCommand, machine.CmdLeerBloque, 0)
		terminar(cpu)
	})
	reloj := s.m.RutinaKernel(func(cpu *machine.CPU) {
		cpu.Syscall(SysEsperarReloj, 0, 0, 0)
		terminar(cpu)
	})
	padre := s.m.RutinaKernel(func(cpu *machine.CPU) {
		crear(cpu, dir, disco, pcb.PrioridadAlta)
		crear(cpu, dir, reloj, pcb.PrioridadAlta)
		cpu.Syscall(SysPasseren, sem, 0, 0)
		terminar(cpu)
	})

	var esAntes, esDespues, vivosDespues, semdsDespues int
	err = s.correr(func(cpu *machine.CPU) {
		pid := crear(cpu, dir, padre, pcb.PrioridadAlta)
		cpu.Syscall(SysCederProcesador, 0, 0, 0)

		esAntes = s.k.bloqueadosES
		cpu.Syscall(SysTerminarProc, uint32(pid), 0, 0)
		esDespues, vivosDespues, semdsDespues = s.k.bloqueadosES, s.k.cantProcesos, s.k.asl.Activos()
		verificarInvariantes(t, s.k)
		terminar(cpu)
	})

	require.NoError(t, err, "sin bloqueados de E/S colgados el kernel hace HALT")
	assert.Equal(t, 2, esAntes)
	assert.Zero(t, esDespues)
	assert.Equal(t, 1, vivosDespues)
	assert.Zero(t, semdsDespues)
	assert.True(t, s.k.Monitor().Resumen().Detenido)
}

func TestCrearSinPCBsLibres(t *testing.T) {
	s := nuevoSistema(t, Config{MaxProc: 2})
	dir := s.areaEstado()
	hijo := s.m.RutinaKernel(terminar)

	var pids []int
	err := s.correr(func(cpu *machine.CPU) {
		pids = append(pids, crear(cpu, dir, hijo, pcb.PrioridadBaja))
		pids = append(pids, crear(cpu, dir, hijo, pcb.PrioridadBaja))
		terminar(cpu)
	})

	require.NoError(t, err)
	assert.Equal(t, []int{2, ErrorCreacion}, pids)
}

func TestPIDsRotanSalteandoVivos(t *testing.T) {
	s := nuevoSistema(t, Config{MaxProc: 5, PIDMin: 1, PIDMax: 3})
	dir := s.areaEstado()
	hijo := s.m.RutinaKernel(terminar)

	var pids []int
	var libres int
	err := s.correr(func(cpu *machine.CPU) {
		pids = append(pids, crear(cpu, dir, hijo, pcb.PrioridadBaja))
		// el hijo corre y termina
		cpu.Syscall(SysCederProcesador, 0, 0, 0)
		pids = append(pids, crear(cpu, dir, hijo, pcb.PrioridadBaja))
		pids = append(pids, crear(cpu, dir, hijo, pcb.PrioridadBaja))
		pids = append(pids, crear(cpu, dir, hijo, pcb.PrioridadBaja))
		// sin PID libre el PCB vuelve al pool
		libres = s.k.pcbs.Libres()
		verificarInvariantes(t, s.k)
		terminar(cpu)
	})

	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 2, ErrorCreacion}, pids)
	assert.Equal(t, 2, libres)
}

func TestQuantumDesalojaProcesosBaja(t *testing.T) {
	s := nuevoSistema(t, Config{Quantum: 100})
	listo := s.semaforo(0)
	dir := s.areaEstado()
	var orden []string
	tiempos := map[string]uint32{}

	trabajador := func(nombre string) uint32 {
		return s.m.RutinaKernel(func(cpu *machine.CPU) {
			for i := 0; i < 3; i++ {
				orden = append(orden, nombre)
				cpu.Compute(250)
			}
			tiempos[nombre] = cpu.Syscall(SysTiempoCPU, 0, 0, 0)
			cpu.Syscall(SysVerhogen, listo, 0, 0)
			terminar(cpu)
		})
	}
	a, b := trabajador("A"), trabajador("B")

	err := s.correr(func(cpu *machine.CPU) {
		crear(cpu, dir, a, pcb.PrioridadBaja)
		crear(cpu, dir, b, pcb.PrioridadBaja)
		cpu.Syscall(SysPasseren, listo, 0, 0)
		cpu.Syscall(SysPasseren, listo, 0, 0)
		terminar(cpu)
	})

	require.NoError(t, err)
	require.Len(t, orden, 6)
	assert.Equal(t, []string{"A", "B"}, orden[:2], "B corre antes de que A termine")
	assert.GreaterOrEqual(t, tiempos["A"], uint32(750))
	assert.Less(t, uint64(tiempos["A"]), s.m.TOD())
	assert.Greater(t, s.k.despachos, uint64(6))
}

func TestEsperarRelojYDoIO(t *testing.T) {
	s := nuevoSistema(t, Config{PseudoReloj: 1000})
	var salida bytes.Buffer
	s.m.InstalarTerminal(0, nil, &salida, 20)
	registro := machine.DireccionRegistro(machine.LineaTerminal, 0)

	var t0, t1, t2 uint64
	var estados []uint32
	var bloqueadosDurante int
	err := s.correr(func(cpu *machine.CPU) {
		t0 = cpu.TOD()
		cpu.Syscall(SysEsperarReloj, 0, 0, 0)
		t1 = cpu.TOD()
		cpu.Syscall(SysEsperarReloj, 0, 0, 0)
		t2 = cpu.TOD()

		for _, c := range []byte("ok") {
			st := cpu.Syscall(SysDoIO, registro+machine.OffTransmCommand, uint32(c)<<machine.BitsByte|machine.CmdTransmitir, 0)
			estados = append(estados, st)
		}
		bloqueadosDurante = s.k.bloqueadosES
		terminar(cpu)
	})

	require.NoError(t, err)
	assert.GreaterOrEqual(t, t1-t0, uint64(900))
	assert.GreaterOrEqual(t, t2-t1, uint64(900))
	assert.Equal(t, "ok", salida.String())
	assert.Equal(t, []uint32{
		machine.EstadoCaracterOK | uint32('o')<<machine.BitsByte,
		machine.EstadoCaracterOK | uint32('k')<<machine.BitsByte,
	}, estados)
	assert.Zero(t, bloqueadosDurante)
}

func TestSinSoporteMuere(t *testing.T) {
	s := nuevoSistema(t, Config{})
	dir := s.areaEstado()
	var llego bool

	syscallUsuario := s.m.RutinaKernel(func(cpu *machine.CPU) {
		cpu.Syscall(SysGetTOD, 0, 0, 0)
		llego = true
	})
	ioInvalida := s.m.RutinaKernel(func(cpu *machine.CPU) {
		cpu.Syscall(SysDoIO, 0x1234, 0, 0)
		llego = true
	})
	numeroDesconocido := s.m.RutinaKernel(func(cpu *machine.CPU) {
		cpu.Syscall(0, 0, 0, 0)
		llego = true
	})

	var vivos []int
	err := s.correr(func(cpu *machine.CPU) {
		for _, pc := range []uint32{syscallUsuario, ioInvalida, numeroDesconocido} {
			crear(cpu, dir, pc, pcb.PrioridadAlta)
			cpu.Syscall(SysCederProcesador, 0, 0, 0)
			vivos = append(vivos, s.k.cantProcesos)
		}
		terminar(cpu)
	})

	require.NoError(t, err)
	assert.False(t, llego)
	assert.Equal(t, []int{1, 1, 1}, vivos)
}

func TestPassUpAlManejadorGeneral(t *testing.T) {
	s := nuevoSistema(t, Config{})
	dir := s.areaEstado()
	stack, err := s.m.ReservarMarcos(1)
	require.NoError(t, err)

	sop := pcb.NuevoSoporte(1)
	handle := s.k.RegistrarSoporte(sop)
	assert.Equal(t, handle, s.k.RegistrarSoporte(sop))

	var a0, handleVisto, devuelto uint32
	sop.Contextos[pcb.ExcGeneral] = pcb.Contexto{
		StackPtr: stack + machine.TamPagina,
		Status:   machine.IEPON | machine.IMON | machine.TEBITON,
		PC: s.m.RutinaKernel(func(cpu *machine.CPU) {
			handleVisto = cpu.Syscall(SysSoporte, 0, 0, 0)
			estado := s.k.Soporte(handleVisto).Estados[pcb.ExcGeneral]
			a0 = estado.Reg(machine.RegA0)
			estado.SetReg(machine.RegV0, 42)
			estado.PC += machine.TamPalabra
			cpu.LDST(&estado)
		}),
	}

	hijo := s.m.RutinaKernel(func(cpu *machine.CPU) {
		devuelto = cpu.Syscall(SysEscribirTerminal, 0, 0, 0)
		terminar(cpu)
	})

	err = s.correr(func(cpu *machine.CPU) {
		estado := EstadoInicial(hijo)
		cpu.StoreEstado(dir, &estado)
		cpu.Syscall(SysCrearProceso, dir, pcb.PrioridadAlta, handle)
		cpu.Syscall(SysCederProcesador, 0, 0, 0)
		terminar(cpu)
	})

	require.NoError(t, err)
	assert.Equal(t, handle, handleVisto)
	assert.EqualValues(t, SysEscribirTerminal, a0)
	assert.EqualValues(t, 42, devuelto)
}

func TestSyscallDeKernelEnModoUsuario(t *testing.T) {
	s := nuevoSistema(t, Config{})
	dir := s.areaEstado()
	sem := s.semaforo(0)
	marco, err := s.m.ReservarMarcos(1)
	require.NoError(t, err)

	const asid = 3
	sop := pcb.NuevoSoporte(asid)
	handle := s.k.RegistrarSoporte(sop)

	var causa uint32
	var usuario bool
	sop.Contextos[pcb.ExcGeneral] = pcb.Contexto{
		StackPtr: marco + machine.TamPagina,
		Status:   machine.IEPON | machine.IMON | machine.TEBITON,
		PC: s.m.RutinaKernel(func(cpu *machine.CPU) {
			h := cpu.Syscall(SysSoporte, 0, 0, 0)
			e := s.k.Soporte(h).Estados[pcb.ExcGeneral]
			causa = machine.ExcCode(e.Cause)
			usuario = e.EnModoUsuario()
			terminar(cpu)
		}),
	}

	s.m.RegistrarCodigo(asid, machine.UProcInicio, func(cpu *machine.CPU) {
		cpu.Syscall(SysPasseren, sem, 0, 0)
	})
	s.m.TLBWR(machine.EntryHi(machine.VPN(machine.UProcInicio), asid), marco|machine.VALIDON|machine.DIRTYON)

	err = s.correr(func(cpu *machine.CPU) {
		estado := machine.State{
			PC:      machine.UProcInicio,
			Status:  machine.USERPON | machine.IEPON | machine.IMON | machine.TEBITON,
			EntryHi: machine.EntryHi(0, asid),
		}
		cpu.StoreEstado(dir, &estado)
		cpu.Syscall(SysCrearProceso, dir, pcb.PrioridadBaja, handle)
		for s.k.cantProcesos > 1 {
			cpu.Syscall(SysCederProcesador, 0, 0, 0)
		}
		terminar(cpu)
	})

	require.NoError(t, err)
	assert.Equal(t, machine.ExcRI, causa)
	assert.True(t, usuario)
	assert.Zero(t, s.k.asl.Activos())
}
