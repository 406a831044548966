package machine

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"
)

const sysFin = 99

func contexto(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// arrancarEn carga un estado de modo kernel con interrupciones habilitadas en pc
func arrancarEn(m *Maquina, pc uint32, status uint32) func() {
	return func() {
		s := State{PC: pc, Status: status}
		m.LDST(&s)
	}
}

func TestSyscallDevuelveV0YAvanzaPC(t *testing.T) {
	m := Nueva(Config{Marcos: 4})

	var resultado uint32
	pc := m.RutinaKernel(func(cpu *CPU) {
		resultado = cpu.Syscall(7, 11, 0, 0)
		cpu.Syscall(sysFin, 0, 0, 0)
	})

	var argumento uint32
	m.InstalarVectores(Vectores{Excepcion: func() {
		e := m.EstadoExcepcion()
		require.Equal(t, ExcSys, ExcCode(e.Cause))
		if e.Reg(RegA0) == sysFin {
			m.Detener()
			return
		}
		argumento = e.Reg(RegA1)
		e.SetReg(RegV0, 42)
		e.PC += TamPalabra
		m.LDST(e)
	}})

	require.NoError(t, m.Arrancar(contexto(t), arrancarEn(m, pc, IEPON|IMON)))
	assert.Equal(t, uint32(11), argumento)
	assert.Equal(t, uint32(42), resultado)
}

func TestManejadorSinTransferencia(t *testing.T) {
	m := Nueva(Config{Marcos: 1})
	err := m.Arrancar(contexto(t), func() {})
	assert.ErrorIs(t, err, ErrSinTransferencia)
}

func TestManejadorConDosTransferencias(t *testing.T) {
	m := Nueva(Config{Marcos: 1})
	err := m.Arrancar(contexto(t), func() {
		m.Detener()
		m.Detener()
	})
	assert.ErrorIs(t, err, ErrTransferenciaDoble)
}

func TestPanicoDevuelveError(t *testing.T) {
	m := Nueva(Config{Marcos: 1})
	err := m.Arrancar(contexto(t), func() { m.Panico("deadlock") })
	require.ErrorIs(t, err, ErrPanico)
	assert.Contains(t, err.Error(), "deadlock")
}

func TestEsperaSinEventos(t *testing.T) {
	m := Nueva(Config{Marcos: 1})
	err := m.Arrancar(contexto(t), func() {
		m.SetStatus(IECON | IMON)
		m.Esperar()
	})
	assert.ErrorIs(t, err, ErrEsperaEterna)
}

func TestEsperaDespiertaConIntervalTimer(t *testing.T) {
	m := Nueva(Config{Marcos: 1})

	var tod uint64
	m.InstalarVectores(Vectores{Excepcion: func() {
		e := m.EstadoExcepcion()
		require.Equal(t, ExcInt, ExcCode(e.Cause))
		require.NotZero(t, LineasPendientes(e.Cause)&(1<<LineaIntervalo))
		tod = m.TOD()
		m.Detener()
	}})

	err := m.Arrancar(contexto(t), func() {
		m.LDIT(500)
		m.SetStatus(IECON | IMON)
		m.Esperar()
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(501), tod)
}

func TestComputeEsInterrumpidoYContinua(t *testing.T) {
	m := Nueva(Config{Marcos: 1})

	pc := m.RutinaKernel(func(cpu *CPU) {
		cpu.Compute(1000)
		cpu.Syscall(sysFin, 0, 0, 0)
	})

	interrupciones := 0
	m.InstalarVectores(Vectores{Excepcion: func() {
		e := m.EstadoExcepcion()
		switch ExcCode(e.Cause) {
		case ExcInt:
			interrupciones++
			m.LDIT(100)
			m.LDST(e)
		default:
			m.Detener()
		}
	}})

	err := m.Arrancar(contexto(t), func() {
		m.LDIT(100)
		s := State{PC: pc, Status: IEPON | IMON}
		m.LDST(&s)
	})
	require.NoError(t, err)
	assert.InDelta(t, 9, interrupciones, 1)
	assert.GreaterOrEqual(t, m.TOD(), uint64(1000))
}

func TestPLTSoloCuentaConTE(t *testing.T) {
	m := Nueva(Config{Marcos: 1})

	pc := m.RutinaKernel(func(cpu *CPU) {
		cpu.Compute(50)
		cpu.Syscall(sysFin, 0, 0, 0)
	})

	var causa uint32
	m.InstalarVectores(Vectores{Excepcion: func() {
		causa = m.EstadoExcepcion().Cause
		m.Detener()
	}})

	err := m.Arrancar(contexto(t), func() {
		m.SetTIMER(10)
		s := State{PC: pc, Status: IEPON | IMON | TEBITON}
		m.LDST(&s)
	})
	require.NoError(t, err)
	assert.Equal(t, ExcInt, ExcCode(causa))
	assert.NotZero(t, LineasPendientes(causa)&(1<<LineaPLT))
}

func TestFinDePrograma(t *testing.T) {
	m := Nueva(Config{Marcos: 1})
	pc := m.RutinaKernel(func(cpu *CPU) {})

	var exc uint32
	m.InstalarVectores(Vectores{Excepcion: func() {
		exc = ExcCode(m.EstadoExcepcion().Cause)
		m.Detener()
	}})

	require.NoError(t, m.Arrancar(contexto(t), arrancarEn(m, pc, IEPON)))
	assert.Equal(t, ExcRI, exc)
}

func TestRefillYAccesoUsuario(t *testing.T) {
	m := Nueva(Config{Marcos: 4, EntradasTLB: 4})
	marco, err := m.ReservarMarcos(1)
	require.NoError(t, err)

	m.RegistrarCodigo(1, UProcInicio, func(cpu *CPU) {
		cpu.Store(KUSEG+0x100, 7)
		cpu.SetReg(RegT9, cpu.Load(KUSEG+0x100))
		cpu.Syscall(sysFin, 0, 0, 0)
	})

	refills := 0
	var vpn uint32
	m.InstalarVectores(Vectores{
		Refill: func() {
			refills++
			e := m.EstadoExcepcion()
			vpn = VPN(e.EntryHi)
			m.TLBWR(EntryHi(vpn, ASID(e.EntryHi)), marco|VALIDON|DIRTYON)
			m.LDST(e)
		},
		Excepcion: func() {
			e := m.EstadoExcepcion()
			require.Equal(t, ExcSys, ExcCode(e.Cause))
			require.True(t, e.EnModoUsuario())
			assert.Equal(t, uint32(7), e.Reg(RegT9))
			m.Detener()
		},
	})

	err = m.Arrancar(contexto(t), func() {
		s := State{PC: UProcInicio, Status: IEPON | USERPON, EntryHi: EntryHi(0, 1)}
		m.LDST(&s)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, refills)
	assert.Equal(t, VPNBaseUsuario, vpn)
	assert.Equal(t, uint32(7), m.Bus().LeerPalabra(marco+0x100))
}

func TestUsuarioNoAccedeAlKernel(t *testing.T) {
	m := Nueva(Config{Marcos: 1})

	m.RegistrarCodigo(2, UProcInicio, func(cpu *CPU) {
		cpu.Load(RAMBase)
	})

	var exc uint32
	m.InstalarVectores(Vectores{
		Refill: func() {
			e := m.EstadoExcepcion()
			m.TLBWR(EntryHi(VPN(e.EntryHi), 2), RAMBase|VALIDON)
			m.LDST(e)
		},
		Excepcion: func() {
			exc = ExcCode(m.EstadoExcepcion().Cause)
			m.Detener()
		},
	})

	err := m.Arrancar(contexto(t), func() {
		s := State{PC: UProcInicio, Status: IEPON | USERPON, EntryHi: EntryHi(0, 2)}
		m.LDST(&s)
	})
	require.NoError(t, err)
	assert.Equal(t, ExcAdEL, exc)
}

func TestHiloEmiteLDST(t *testing.T) {
	m := Nueva(Config{Marcos: 1})

	var orden []string
	destino := m.RutinaKernel(func(cpu *CPU) {
		orden = append(orden, "destino")
		cpu.Syscall(sysFin, 0, 0, 0)
	})
	origen := m.RutinaKernel(func(cpu *CPU) {
		orden = append(orden, "origen")
		s := State{PC: destino, Status: IEPON}
		cpu.LDST(&s)
		orden = append(orden, "inalcanzable")
	})

	m.InstalarVectores(Vectores{Excepcion: func() { m.Detener() }})

	require.NoError(t, m.Arrancar(contexto(t), arrancarEn(m, origen, IEPON)))
	assert.Equal(t, []string{"origen", "destino"}, orden)
}

func TestTerminalTransmite(t *testing.T) {
	m := Nueva(Config{Marcos: 1})
	var salida bytes.Buffer
	m.InstalarTerminal(0, nil, &salida, 5)

	reg := DireccionRegistro(LineaTerminal, 0)
	var estado uint32
	pc := m.RutinaKernel(func(cpu *CPU) {
		for _, c := range []byte("ok") {
			cpu.Store(reg+OffTransmCommand, CmdTransmitir|uint32(c)<<BitsByte)
			for cpu.Load(reg+OffTransmStatus)&MascaraEstadoTerminal == EstadoOcupado {
				cpu.Compute(1)
			}
			estado = cpu.Load(reg + OffTransmStatus)
			cpu.Store(reg+OffTransmCommand, CmdACK)
		}
		cpu.Syscall(sysFin, 0, 0, 0)
	})

	m.InstalarVectores(Vectores{Excepcion: func() { m.Detener() }})

	require.NoError(t, m.Arrancar(contexto(t), arrancarEn(m, pc, IEPON)))
	assert.Equal(t, "ok", salida.String())
	assert.Equal(t, EstadoCaracterOK|uint32('k')<<BitsByte, estado)
	assert.Zero(t, m.dispositivos.bitmap(LineaTerminal))
}

func TestFlashDMAEImagen(t *testing.T) {
	ctx := context.Background()
	fs := afs.New()
	url := "mem://localhost/pandos/flash0.img"

	m := Nueva(Config{Marcos: 2})
	marco, err := m.ReservarMarcos(1)
	require.NoError(t, err)
	flash := m.InstalarFlash(0, 4, 3)
	flash.Bloques[2][10] = 0xAB
	require.NoError(t, flash.VolcarImagen(ctx, fs, url))

	otra := Nueva(Config{Marcos: 2})
	copia := otra.InstalarFlash(0, 4, 3)
	require.NoError(t, copia.CargarImagen(ctx, fs, url))
	assert.Equal(t, byte(0xAB), copia.Bloques[2][10])

	reg := DireccionRegistro(LineaFlash, 0)
	pc := m.RutinaKernel(func(cpu *CPU) {
		cpu.Store(reg+OffData0, marco)
		cpu.Store(reg+OffCommand, CmdLeerBloque|2<<BitsByte)
		cpu.Compute(10)
		cpu.Syscall(sysFin, 0, 0, 0)
	})
	m.InstalarVectores(Vectores{Excepcion: func() { m.Detener() }})

	require.NoError(t, m.Arrancar(contexto(t), arrancarEn(m, pc, IEPON)))
	b, ok := m.Bus().LeerByte(marco + 10)
	require.True(t, ok)
	assert.Equal(t, byte(0xAB), b)
	assert.Equal(t, EstadoListo, m.Bus().LeerPalabra(reg+OffStatus))
	assert.Equal(t, uint32(1), m.dispositivos.bitmap(LineaFlash))
}

func TestCargarImagenInexistente(t *testing.T) {
	m := Nueva(Config{Marcos: 1})
	flash := m.InstalarFlash(1, 2, 1)
	flash.Bloques[0][0] = 1
	require.NoError(t, flash.CargarImagen(context.Background(), afs.New(), "mem://localhost/pandos/no-existe.img"))
	assert.Equal(t, byte(1), flash.Bloques[0][0])
}
