package soporte

import (
	"bytes"
	"context"
	"io"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/kernel"
	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/machine"
	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/memoria"
)

const marcosSwap = 2 * MaxProcesos

type sistema struct {
	t          *testing.T
	m          *machine.Maquina
	k          *kernel.Kernel
	pager      *memoria.Pager
	nivel      *Nivel
	terminales []*bytes.Buffer
	impresoras []*bytes.Buffer
}

// nuevoSistema arma la máquina completa con una flash, una terminal y una impresora por
// proceso de usuario. entradas[i] es lo que recibe la terminal i.
func nuevoSistema(t *testing.T, cargas []string, entradas map[int]string) *sistema {
	m := machine.Nueva(machine.Config{Marcos: 64, EntradasTLB: 8})
	k, err := kernel.Nuevo(m, kernel.Config{})
	require.NoError(t, err)
	// con pocos marcos cada proceso pierde su código mientras espera la flash
	p, err := memoria.Nuevo(m, k, marcosSwap)
	require.NoError(t, err)
	k.InstalarRefill(p.Refill)
	k.InstalarOcupacionSwap(p.Ocupados)

	s := &sistema{t: t, m: m, k: k, pager: p}
	for nro := range cargas {
		var entrada io.Reader
		if texto, ok := entradas[nro]; ok {
			entrada = strings.NewReader(texto)
		}
		term, impr := &bytes.Buffer{}, &bytes.Buffer{}
		m.InstalarTerminal(nro, entrada, term, 5)
		m.InstalarImpresora(nro, impr, 5)
		m.InstalarFlash(memoria.NroFlash(nro+1), machine.TamTablaUsuario, 20)
		s.terminales = append(s.terminales, term)
		s.impresoras = append(s.impresoras, impr)
	}

	s.nivel, err = Nuevo(m, k, p, Config{Procesos: len(cargas), Cargas: cargas})
	require.NoError(t, err)
	return s
}

func (s *sistema) correr() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.k.Iniciar(ctx, s.nivel.Instanciador())
}

func TestCargasCompletas(t *testing.T) {
	s := nuevoSistema(t, CargasDisponibles(), map[int]string{3: "hola mundo\nresto"})

	require.NoError(t, s.correr(), "el sistema se detiene cuando no quedan procesos")

	assert.Equal(t, "hola desde el proceso de usuario 1\n", s.terminales[0].String())
	assert.Equal(t, "paginas: ok\n", s.terminales[1].String())

	linea := "linea impresa por el proceso 3\n"
	assert.Equal(t, linea, s.impresoras[2].String())
	assert.Equal(t, "impresora: "+strconv.Itoa(len(linea))+" caracteres\n", s.terminales[2].String())

	assert.Equal(t, "eco> hola mundo\n", s.terminales[3].String())
	assert.Equal(t, "reloj: listo\n", s.terminales[4].String())

	assert.Equal(t, 5, s.nivel.Terminados())
	assert.Zero(t, s.pager.Ocupados(), "TERMINATE libera los marcos del swap pool")
	assert.Greater(t, s.pager.Fallos(), machine.TamTablaUsuario/2)

	resumen := s.k.Monitor().Resumen()
	assert.True(t, resumen.Detenido)
	assert.Zero(t, resumen.Vivos)
}

func TestLecturaSinEntrada(t *testing.T) {
	s := nuevoSistema(t, []string{"eco"}, nil)

	require.NoError(t, s.correr())
	assert.Equal(t, "eco> eco: sin entrada\n", s.terminales[0].String())
}

func TestErroresTerminanAlProceso(t *testing.T) {
	s := nuevoSistema(t, []string{"hola", "hola", "hola", "hola"}, nil)

	var siguio [4]bool
	// cadena demasiado larga
	s.m.RegistrarCodigo(1, machine.UProcInicio, func(cpu *machine.CPU) {
		cpu.Syscall(kernel.SysEscribirTerminal, paginaDatos, MaxCadena+1, 0)
		siguio[0] = true
	})
	// acceso de usuario a memoria del kernel
	s.m.RegistrarCodigo(2, machine.UProcInicio, func(cpu *machine.CPU) {
		cpu.Load(machine.RAMBase)
		siguio[1] = true
	})
	// syscall de usuario inexistente
	s.m.RegistrarCodigo(3, machine.UProcInicio, func(cpu *machine.CPU) {
		cpu.Syscall(9, 0, 0, 0)
		siguio[2] = true
	})
	// cadena fuera de kuseg
	s.m.RegistrarCodigo(4, machine.UProcInicio, func(cpu *machine.CPU) {
		cpu.Syscall(kernel.SysEscribirImpresora, machine.RAMBase, 4, 0)
		siguio[3] = true
	})

	require.NoError(t, s.correr())
	assert.Equal(t, [4]bool{}, siguio)
	assert.Equal(t, 4, s.nivel.Terminados())
	for i := range s.terminales {
		assert.Empty(t, s.terminales[i].String())
		assert.Empty(t, s.impresoras[i].String())
	}
	assert.Zero(t, s.pager.Ocupados())
}

func TestGetTODAvanza(t *testing.T) {
	s := nuevoSistema(t, []string{"hola"}, nil)

	var antes, despues uint32
	s.m.RegistrarCodigo(1, machine.UProcInicio, func(cpu *machine.CPU) {
		antes = cpu.Syscall(kernel.SysGetTOD, 0, 0, 0)
		cpu.Compute(500)
		despues = cpu.Syscall(kernel.SysGetTOD, 0, 0, 0)
		finalizar(cpu)
	})

	require.NoError(t, s.correr())
	assert.GreaterOrEqual(t, despues-antes, uint32(500))
}

func TestConfiguracionInvalida(t *testing.T) {
	m := machine.Nueva(machine.Config{Marcos: 32})
	k, err := kernel.Nuevo(m, kernel.Config{})
	require.NoError(t, err)
	p, err := memoria.Nuevo(m, k, 2)
	require.NoError(t, err)

	_, err = Nuevo(m, k, p, Config{Procesos: 0})
	assert.Error(t, err)
	_, err = Nuevo(m, k, p, Config{Procesos: MaxProcesos + 1})
	assert.Error(t, err)
	_, err = Nuevo(m, k, p, Config{Procesos: 1, Cargas: []string{"no-existe"}})
	assert.ErrorContains(t, err, "no-existe")
}

func TestCargasSeRepiten(t *testing.T) {
	m := machine.Nueva(machine.Config{Marcos: 32})
	k, err := kernel.Nuevo(m, kernel.Config{})
	require.NoError(t, err)
	p, err := memoria.Nuevo(m, k, 2)
	require.NoError(t, err)

	n, err := Nuevo(m, k, p, Config{Procesos: 3, Cargas: []string{"hola", "reloj"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"hola", "reloj", "hola"}, n.cargasPorID)
	assert.Equal(t, 3, n.Soporte(3).ASID)
	assert.Nil(t, n.Soporte(4))
}
