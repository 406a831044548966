package kernel

import (
	"fmt"
	"math/bits"

	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/machine"
	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/utils"
)

// manejarInterrupcion atiende la línea pendiente de mayor prioridad
func (k *Kernel) manejarInterrupcion(e *machine.State) {
	lineas := machine.LineasPendientes(e.Cause) &^ 1
	if lineas == 0 {
		k.reanudar(e)
		return
	}

	switch linea := bits.TrailingZeros32(lineas); linea {
	case machine.LineaPLT:
		k.interrupcionPLT(e)
	case machine.LineaIntervalo:
		k.interrupcionReloj(e)
	default:
		k.interrupcionDispositivo(e, linea)
	}
}

// reanudar vuelve al proceso interrumpido o, si no había ninguno, planifica
func (k *Kernel) reanudar(e *machine.State) {
	if k.actual == nil {
		k.planificar()
		return
	}
	k.m.LDST(e)
}

// interrupcionPLT: fin de quantum, el proceso vuelve al final de su cola
func (k *Kernel) interrupcionPLT(e *machine.State) {
	k.m.SetTIMER(sinQuantum)
	if k.actual == nil {
		k.planificar()
		return
	}
	utils.InfoLog.Debug(fmt.Sprintf("(%d) - Desalojado por fin de quantum", k.actual.PID))
	k.desalojarActual(e)
	k.planificar()
}

// interrupcionReloj: tick del pseudo reloj, despierta a todos los que esperan
func (k *Kernel) interrupcionReloj(e *machine.State) {
	k.m.LDIT(k.cfg.PseudoReloj)

	sem := k.semPseudoReloj()
	for p := k.asl.Desbloquear(sem); p != nil; p = k.asl.Desbloquear(sem) {
		k.bloqueadosES--
		k.insertarListo(p)
		utils.InfoLog.Debug(fmt.Sprintf("(%d) - Despierta por pseudo reloj", p.PID))
	}
	k.reanudar(e)
}

// interrupcionDispositivo reconoce el dispositivo de menor número con interrupción en la
// línea y le entrega su estado al proceso que esperaba.
func (k *Kernel) interrupcionDispositivo(e *machine.State, linea int) {
	bus := k.m.Bus()
	bitmap, _ := bus.Leer(machine.BitmapInterrupcionesBase + uint32(linea-machine.LineaDisco)*machine.TamPalabra)
	if bitmap == 0 {
		k.reanudar(e)
		return
	}
	nro := bits.TrailingZeros32(bitmap)
	base := machine.DireccionRegistro(linea, nro)

	var estado, sem uint32
	if linea == machine.LineaTerminal {
		transm, _ := bus.Leer(base + machine.OffTransmStatus)
		if t := transm & machine.MascaraEstadoTerminal; t != machine.EstadoListo && t != machine.EstadoOcupado && t != machine.EstadoNoInstalado {
			estado = transm
			bus.Escribir(base+machine.OffTransmCommand, machine.CmdACK)
			sem = k.semDispositivo(linea, nro, false)
		} else {
			estado, _ = bus.Leer(base + machine.OffRecvStatus)
			bus.Escribir(base+machine.OffRecvCommand, machine.CmdACK)
			sem = k.semDispositivo(linea, nro, true)
		}
	} else {
		estado, _ = bus.Leer(base + machine.OffStatus)
		bus.Escribir(base+machine.OffCommand, machine.CmdACK)
		sem = k.semDispositivo(linea, nro, false)
	}

	if p := k.asl.Desbloquear(sem); p != nil {
		k.bloqueadosES--
		p.Estado.SetReg(machine.RegV0, estado)
		k.insertarListo(p)
		utils.InfoLog.Info(fmt.Sprintf("(%d) - Finalizó E/S en línea %d dispositivo %d", p.PID, linea, nro),
			"estado", fmt.Sprintf("%#x", estado))
	}
	k.reanudar(e)
}
