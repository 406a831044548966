package kernel

import (
	"fmt"

	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/machine"
	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/pcb"
	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/utils"
)

// manejarExcepcion es el punto de entrada de toda excepción que no sea TLB-Refill
func (k *Kernel) manejarExcepcion() {
	e := k.m.EstadoExcepcion()
	exc := machine.ExcCode(e.Cause)

	if exc == machine.ExcInt {
		k.manejarInterrupcion(e)
		return
	}
	if k.actual == nil {
		k.m.Panico(fmt.Sprintf("excepción %d sin proceso en ejecución", exc))
		return
	}

	switch exc {
	case machine.ExcSys:
		k.manejarSyscall(e)
	case machine.ExcMod, machine.ExcTLBL, machine.ExcTLBS:
		k.pasarOMorir(e, pcb.ExcPagina)
	default:
		k.pasarOMorir(e, pcb.ExcGeneral)
	}
}

// manejarRefill delega en el pager instalado; sin pager el fallo se trata como de página
func (k *Kernel) manejarRefill() {
	if k.actual == nil {
		k.m.Panico("TLB-Refill sin proceso en ejecución")
		return
	}
	if k.refill != nil && k.actual.Soporte != nil {
		k.refill()
		return
	}
	k.pasarOMorir(k.m.EstadoExcepcion(), pcb.ExcPagina)
}

// pasarOMorir entrega la excepción al nivel de soporte del proceso, o lo termina con sus
// descendientes si no tiene soporte.
func (k *Kernel) pasarOMorir(e *machine.State, tipo int) {
	p := k.actual
	if p.Soporte == nil {
		utils.InfoLog.Info(fmt.Sprintf("(%d) - Excepción %d sin soporte, se termina el proceso", p.PID, machine.ExcCode(e.Cause)))
		k.matar(p)
		k.planificar()
		return
	}

	p.Soporte.Estados[tipo] = *e
	ctx := p.Soporte.Contextos[tipo]
	utils.InfoLog.Debug(fmt.Sprintf("(%d) - Pass up de excepción %d", p.PID, machine.ExcCode(e.Cause)),
		"tipo", tipo, "pc", fmt.Sprintf("%#x", ctx.PC))
	k.m.LDCXT(ctx.StackPtr, ctx.Status, ctx.PC)
}

// generarExcepcion convierte la excepción en curso en otra de tipo general
func (k *Kernel) generarExcepcion(e *machine.State, exc uint32) {
	e.Cause = machine.ConExcCode(e.Cause, exc)
	k.pasarOMorir(e, pcb.ExcGeneral)
}
