package kernel

import (
	"fmt"

	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/machine"
	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/pcb"
	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/utils"
)

// sinQuantum deja el PLT lejos de vencer
const sinQuantum uint32 = 0xFFFFFFFF

// planificar elige el próximo proceso y le cede el procesador. Siempre pide una transferencia.
func (k *Kernel) planificar() {
	if k.listosBaja.Vacia() {
		k.forzarBaja = false
	}

	switch {
	case !k.listosAlta.Vacia() && !k.forzarBaja:
		k.actual = k.listosAlta.Remover()
		k.m.SetTIMER(sinQuantum)

	case !k.listosBaja.Vacia():
		k.actual = k.listosBaja.Remover()
		k.m.SetTIMER(k.cfg.Quantum)
		k.forzarBaja = false

	case k.cantProcesos == 0:
		utils.InfoLog.Info("No quedan procesos vivos, HALT", "tod", k.m.TOD())
		k.publicar(true)
		k.m.Detener()
		return

	case k.bloqueadosES > 0:
		k.actual = nil
		k.m.SetTIMER(sinQuantum)
		k.m.SetStatus(machine.IECON | machine.IMON)
		utils.InfoLog.Debug("Sin procesos listos, esperando interrupción", "bloqueados_es", k.bloqueadosES)
		k.publicar(false)
		k.m.Esperar()
		return

	default:
		utils.ErrorLog.Error("Deadlock: hay procesos vivos y ninguno listo ni esperando E/S",
			"vivos", k.cantProcesos, "semds", k.asl.Activos())
		k.publicar(true)
		k.m.Panico(fmt.Sprintf("deadlock con %d procesos vivos", k.cantProcesos))
		return
	}

	k.inicioRafaga = k.m.TOD()
	k.despachos++
	k.publicar(false)
	utils.InfoLog.Debug(fmt.Sprintf("(%d) - Pasa de READY a EXEC", k.actual.PID),
		"prioridad", nombrePrioridad(k.actual.Prioridad), "pc", fmt.Sprintf("%#x", k.actual.Estado.PC))
	k.m.LDST(&k.actual.Estado)
}

// insertarListo encola p en la cola de su prioridad
func (k *Kernel) insertarListo(p *pcb.PCB) {
	if p.Prioridad == pcb.PrioridadAlta {
		k.listosAlta.Insertar(p)
		return
	}
	k.listosBaja.Insertar(p)
}

// quitarDeListos saca a p de la cola de listos en la que esté
func (k *Kernel) quitarDeListos(p *pcb.PCB) *pcb.PCB {
	if q := k.listosAlta.Quitar(p); q != nil {
		return q
	}
	return k.listosBaja.Quitar(p)
}

// actualizarTiempo suma al proceso actual el tiempo desde el último despacho o medición
func (k *Kernel) actualizarTiempo() {
	if k.actual == nil {
		return
	}
	ahora := k.m.TOD()
	k.actual.Tiempo += ahora - k.inicioRafaga
	k.inicioRafaga = ahora
}

// desalojarActual guarda el estado del proceso actual y lo deja listo en su cola
func (k *Kernel) desalojarActual(estado *machine.State) {
	k.actual.Estado = *estado
	k.actualizarTiempo()
	k.insertarListo(k.actual)
	k.actual = nil
}

func nombrePrioridad(p int) string {
	if p == pcb.PrioridadAlta {
		return "HIGH"
	}
	return "LOW"
}
