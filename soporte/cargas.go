package soporte

import (
	"fmt"
	"slices"

	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/kernel"
	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/machine"
)

// Páginas de datos que usan las cargas
const (
	paginaDatos  uint32 = machine.KUSEG + 1*machine.TamPagina
	paginaBuffer uint32 = machine.KUSEG + 2*machine.TamPagina

	// paginas toca más páginas que las que suele tener el swap pool
	paginasTocadas = 20
)

var cargas = map[string]func(asid int) machine.Programa{
	"hola":      hola,
	"paginas":   paginas,
	"impresora": impresora,
	"eco":       eco,
	"reloj":     reloj,
}

var ordenCargas = []string{"hola", "paginas", "impresora", "eco", "reloj"}

// CargasDisponibles devuelve los nombres de los programas de usuario incluidos
func CargasDisponibles() []string {
	return slices.Clone(ordenCargas)
}

// Carga devuelve el programa de usuario nombre para asid
func Carga(nombre string, asid int) (machine.Programa, error) {
	nueva, ok := cargas[nombre]
	if !ok {
		return nil, fmt.Errorf("carga de usuario desconocida %q (disponibles: %v)", nombre, CargasDisponibles())
	}
	return nueva(asid), nil
}

// ============================================================================
// Ayudas para programas de usuario
// ============================================================================

func guardar(cpu *machine.CPU, dir uint32, texto string) {
	for i := 0; i < len(texto); i++ {
		cpu.StoreByte(dir+uint32(i), texto[i])
	}
}

// escribir deja texto en la página de datos y la manda con la syscall num
func escribir(cpu *machine.CPU, num int, texto string) int32 {
	guardar(cpu, paginaDatos, texto)
	return int32(cpu.Syscall(num, paginaDatos, uint32(len(texto)), 0))
}

func finalizar(cpu *machine.CPU) {
	cpu.Syscall(kernel.SysTerminar, 0, 0, 0)
}

// ============================================================================
// Cargas
// ============================================================================

func hola(asid int) machine.Programa {
	return func(cpu *machine.CPU) {
		escribir(cpu, kernel.SysEscribirTerminal, fmt.Sprintf("hola desde el proceso de usuario %d\n", asid))
		finalizar(cpu)
	}
}

// paginas escribe una marca en muchas páginas y después verifica que vuelvan intactas
func paginas(asid int) machine.Programa {
	marca := func(i int) uint32 { return uint32(asid)<<16 | uint32(i) }
	return func(cpu *machine.CPU) {
		for i := 1; i <= paginasTocadas; i++ {
			cpu.Store(machine.KUSEG+uint32(i)*machine.TamPagina+machine.TamPalabra, marca(i))
		}
		cpu.Store(machine.UProcStackTope-machine.TamPalabra, marca(0))

		var erroneas []int
		for i := 1; i <= paginasTocadas; i++ {
			if cpu.Load(machine.KUSEG+uint32(i)*machine.TamPagina+machine.TamPalabra) != marca(i) {
				erroneas = append(erroneas, i)
			}
		}
		if cpu.Load(machine.UProcStackTope-machine.TamPalabra) != marca(0) {
			erroneas = append(erroneas, machine.TamTablaUsuario-1)
		}

		if len(erroneas) > 0 {
			escribir(cpu, kernel.SysEscribirTerminal, fmt.Sprintf("paginas: error en %v\n", erroneas))
		} else {
			escribir(cpu, kernel.SysEscribirTerminal, "paginas: ok\n")
		}
		finalizar(cpu)
	}
}

func impresora(asid int) machine.Programa {
	return func(cpu *machine.CPU) {
		inicio := cpu.Syscall(kernel.SysGetTOD, 0, 0, 0)
		enviados := escribir(cpu, kernel.SysEscribirImpresora, fmt.Sprintf("linea impresa por el proceso %d\n", asid))
		fin := cpu.Syscall(kernel.SysGetTOD, 0, 0, 0)

		if fin < inicio {
			escribir(cpu, kernel.SysEscribirTerminal, "impresora: el reloj retrocedio\n")
		} else {
			escribir(cpu, kernel.SysEscribirTerminal, fmt.Sprintf("impresora: %d caracteres\n", enviados))
		}
		finalizar(cpu)
	}
}

// eco repite en la terminal la línea que recibe
func eco(int) machine.Programa {
	return func(cpu *machine.CPU) {
		escribir(cpu, kernel.SysEscribirTerminal, "eco> ")
		leidos := int32(cpu.Syscall(kernel.SysLeerTerminal, paginaBuffer, 0, 0))
		if leidos <= 0 {
			escribir(cpu, kernel.SysEscribirTerminal, "eco: sin entrada\n")
			finalizar(cpu)
			return
		}
		cpu.Syscall(kernel.SysEscribirTerminal, paginaBuffer, uint32(leidos), 0)
		finalizar(cpu)
	}
}

// reloj consume varias ráfagas de CPU y avisa al terminar
func reloj(asid int) machine.Programa {
	return func(cpu *machine.CPU) {
		for i := 0; i < 5; i++ {
			cpu.Compute(2000 * asid)
		}
		escribir(cpu, kernel.SysEscribirTerminal, "reloj: listo\n")
		finalizar(cpu)
	}
}
