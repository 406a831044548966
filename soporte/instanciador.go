package soporte

import (
	"fmt"

	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/kernel"
	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/machine"
	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/pcb"
	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/utils"
)

// instanciar es el proceso inicial: inicializa los semáforos de soporte, crea un proceso
// de usuario por ASID y espera a que todos terminen
func (n *Nivel) instanciar(cpu *machine.CPU) {
	cpu.Store(n.master, 0)
	for nro := 0; nro < machine.DispositivosPorLinea; nro++ {
		cpu.Store(n.semImpresora(nro), 1)
		cpu.Store(n.semTerminal(nro, false), 1)
		cpu.Store(n.semTerminal(nro, true), 1)
	}

	creados := 0
	for asid := 1; asid <= n.procesos; asid++ {
		estado := estadoUsuario(asid)
		cpu.StoreEstado(n.areaEstado, &estado)

		pid := int32(cpu.Syscall(kernel.SysCrearProceso, n.areaEstado, pcb.PrioridadBaja, n.handles[asid-1]))
		if pid == kernel.ErrorCreacion {
			utils.ErrorLog.Error(fmt.Sprintf("(ASID %d) - No se pudo crear el proceso de usuario", asid))
			continue
		}
		utils.InfoLog.Info(fmt.Sprintf("(%d) - Proceso de usuario creado", pid), "asid", asid, "carga", n.cargasPorID[asid-1])
		creados++
	}

	for i := 0; i < creados; i++ {
		cpu.Syscall(kernel.SysPasseren, n.master, 0, 0)
	}
	utils.InfoLog.Info("Terminaron todos los procesos de usuario", "cantidad", creados)
	cpu.Syscall(kernel.SysTerminarProc, 0, 0, 0)
}

// estadoUsuario es el estado inicial de un proceso de usuario: modo usuario con
// interrupciones y PLT habilitados
func estadoUsuario(asid int) machine.State {
	estado := machine.State{
		PC:      machine.UProcInicio,
		Status:  machine.USERPON | machine.IEPON | machine.IMON | machine.TEBITON,
		EntryHi: machine.EntryHi(0, asid),
	}
	estado.SetReg(machine.RegT9, machine.UProcInicio)
	estado.SetReg(machine.RegSP, machine.UProcStackTope)
	return estado
}
