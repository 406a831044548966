// Package soporte implementa el nivel de soporte: el proceso instanciador, el manejador
// general de excepciones de los procesos de usuario y sus syscalls.
package soporte

import (
	"fmt"

	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/kernel"
	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/machine"
	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/memoria"
	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/pcb"
	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/utils"
)

// MaxProcesos es la cantidad máxima de procesos de usuario (uno por dispositivo de cada línea)
const MaxProcesos = machine.DispositivosPorLinea

// MaxCadena es el largo máximo de una escritura a impresora o terminal
const MaxCadena = 128

// Config del nivel de soporte
type Config struct {
	Procesos int
	// Cargas asigna un programa por ASID, en orden; si faltan se repite la lista
	Cargas []string
}

// Nivel agrupa el estado del nivel de soporte
type Nivel struct {
	m     *machine.Maquina
	k     *kernel.Kernel
	pager *memoria.Pager

	procesos  int
	soportes  []*pcb.Soporte
	handles   []uint32
	pcGeneral uint32
	pcInicio  uint32

	// semáforos en RAM
	master      uint32
	impresoras  uint32
	terminales  uint32
	receptores  uint32
	areaEstado  uint32
	terminados  int
	cargasPorID []string
}

// Nuevo prepara las estructuras de soporte de cfg.Procesos procesos de usuario y registra
// su código. No crea ningún proceso: eso lo hace el instanciador una vez arrancado el kernel.
func Nuevo(m *machine.Maquina, k *kernel.Kernel, pager *memoria.Pager, cfg Config) (*Nivel, error) {
	if cfg.Procesos <= 0 || cfg.Procesos > MaxProcesos {
		return nil, fmt.Errorf("cantidad de procesos de usuario inválida: %d (máximo %d)", cfg.Procesos, MaxProcesos)
	}
	cargas := cfg.Cargas
	if len(cargas) == 0 {
		cargas = CargasDisponibles()
	}

	n := &Nivel{m: m, k: k, pager: pager, procesos: cfg.Procesos}

	sems, err := m.ReservarMemoria((1+3*machine.DispositivosPorLinea)*machine.TamPalabra, machine.TamPalabra)
	if err != nil {
		return nil, fmt.Errorf("error reservando semáforos de soporte: %w", err)
	}
	n.master = sems
	n.impresoras = sems + machine.TamPalabra
	n.terminales = n.impresoras + machine.DispositivosPorLinea*machine.TamPalabra
	n.receptores = n.terminales + machine.DispositivosPorLinea*machine.TamPalabra

	n.areaEstado, err = m.ReservarMemoria(machine.PalabrasEstado*machine.TamPalabra, machine.TamPalabra)
	if err != nil {
		return nil, fmt.Errorf("error reservando estado inicial de procesos: %w", err)
	}
	stacks, err := m.ReservarMarcos(cfg.Procesos)
	if err != nil {
		return nil, fmt.Errorf("error reservando stacks de soporte: %w", err)
	}

	n.pcGeneral = m.RutinaKernel(n.manejarExcepcion)
	n.pcInicio = m.RutinaKernel(n.instanciar)
	pager.InstalarTerminacion(n.terminar)

	for asid := 1; asid <= cfg.Procesos; asid++ {
		nombre := cargas[(asid-1)%len(cargas)]
		prog, err := Carga(nombre, asid)
		if err != nil {
			return nil, err
		}
		m.RegistrarCodigo(asid, machine.UProcInicio, prog)

		stack := stacks + uint32(asid-1)*machine.TamPagina
		sop := pcb.NuevoSoporte(asid)
		sop.Contextos[pcb.ExcPagina] = pager.Contexto(stack + machine.TamPagina/2)
		sop.Contextos[pcb.ExcGeneral] = pcb.Contexto{
			StackPtr: stack + machine.TamPagina,
			Status:   machine.IEPON | machine.IMON | machine.TEBITON,
			PC:       n.pcGeneral,
		}

		n.soportes = append(n.soportes, sop)
		n.handles = append(n.handles, k.RegistrarSoporte(sop))
		n.cargasPorID = append(n.cargasPorID, nombre)
	}

	utils.InfoLog.Info("Nivel de soporte preparado", "procesos", cfg.Procesos, "cargas", n.cargasPorID)
	return n, nil
}

// Instanciador devuelve el estado con el que arranca el proceso instanciador
func (n *Nivel) Instanciador() machine.State {
	return kernel.EstadoInicial(n.pcInicio)
}

// Soporte devuelve la estructura de soporte de asid
func (n *Nivel) Soporte(asid int) *pcb.Soporte {
	if asid < 1 || asid > len(n.soportes) {
		return nil
	}
	return n.soportes[asid-1]
}

// Terminados devuelve cuántos procesos de usuario pasaron por TERMINATE
func (n *Nivel) Terminados() int {
	return n.terminados
}

func (n *Nivel) semImpresora(nro int) uint32 {
	return n.impresoras + uint32(nro)*machine.TamPalabra
}

func (n *Nivel) semTerminal(nro int, recepcion bool) uint32 {
	if recepcion {
		return n.receptores + uint32(nro)*machine.TamPalabra
	}
	return n.terminales + uint32(nro)*machine.TamPalabra
}
