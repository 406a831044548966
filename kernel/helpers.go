package kernel

import (
	"fmt"

	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/machine"
	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/pcb"
	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/utils"
)

// semDispositivo devuelve la dirección del semáforo de (linea, nro). En terminales,
// recepcion elige el subdispositivo receptor.
func (k *Kernel) semDispositivo(linea, nro int, recepcion bool) uint32 {
	indice := (linea-machine.LineaDisco)*machine.DispositivosPorLinea + nro
	if linea == machine.LineaTerminal && recepcion {
		indice = semsLineas + nro
	}
	return k.semDispositivos + uint32(indice)*machine.TamPalabra
}

func (k *Kernel) semPseudoReloj() uint32 {
	return k.semDispositivos + uint32(semsLineas+semsReceptores)*machine.TamPalabra
}

// esSemaforoES indica si sem es de dispositivo o del pseudo reloj (bloqueo blando)
func (k *Kernel) esSemaforoES(sem uint32) bool {
	return sem >= k.semDispositivos && sem <= k.semPseudoReloj()
}

// semaforoDeComando mapea la dirección de un registro de comando a su semáforo
func (k *Kernel) semaforoDeComando(dir uint32) (uint32, bool) {
	primero := machine.RegistrosDispositivoBase
	ultimo := machine.DireccionRegistro(machine.LineaTerminal, machine.DispositivosPorLinea-1) + machine.TamRegistroDispositivo
	if dir < primero || dir >= ultimo {
		return 0, false
	}

	rel := dir - primero
	linea := machine.LineaDisco + int(rel/machine.TamRegistrosLinea)
	nro := int(rel % machine.TamRegistrosLinea / machine.TamRegistroDispositivo)
	off := rel % machine.TamRegistroDispositivo

	if linea == machine.LineaTerminal {
		switch off {
		case machine.OffTransmCommand:
			return k.semDispositivo(linea, nro, false), true
		case machine.OffRecvCommand:
			return k.semDispositivo(linea, nro, true), true
		}
		return 0, false
	}
	if off != machine.OffCommand {
		return 0, false
	}
	return k.semDispositivo(linea, nro, false), true
}

func (k *Kernel) leerSem(sem uint32) (int32, bool) {
	if sem%machine.TamPalabra != 0 || sem < machine.RAMBase {
		return 0, false
	}
	v, ok := k.m.Bus().Leer(sem)
	return int32(v), ok
}

func (k *Kernel) escribirSem(sem uint32, v int32) {
	k.m.Bus().Escribir(sem, uint32(v))
}

// bloquearActual guarda el estado del proceso actual pasando la syscall, lo bloquea en sem
// y planifica. Quedarse sin descriptores es fatal.
func (k *Kernel) bloquearActual(e *machine.State, sem uint32) {
	p := k.actual
	p.Estado = *e
	p.Estado.PC += machine.TamPalabra
	k.actualizarTiempo()

	if err := k.asl.Bloquear(sem, p); err != nil {
		utils.ErrorLog.Error(fmt.Sprintf("(%d) - No se pudo bloquear", p.PID), "error", err)
		k.m.Panico(err.Error())
		return
	}
	utils.InfoLog.Debug(fmt.Sprintf("(%d) - Pasa de EXEC a BLOCKED", p.PID), "semaforo", fmt.Sprintf("%#x", sem))
	k.actual = nil
	k.planificar()
}

// despertar saca al primer bloqueado en sem y lo deja listo
func (k *Kernel) despertar(sem uint32) *pcb.PCB {
	p := k.asl.Desbloquear(sem)
	if p == nil {
		return nil
	}
	k.insertarListo(p)
	utils.InfoLog.Debug(fmt.Sprintf("(%d) - Pasa de BLOCKED a READY", p.PID), "semaforo", fmt.Sprintf("%#x", sem))
	return p
}

// asignarPID rota dentro de [PIDMin, PIDMax] salteando los PIDs vivos. -1 si no hay.
func (k *Kernel) asignarPID() int {
	rango := k.cfg.PIDMax - k.cfg.PIDMin + 1
	for i := 0; i < rango; i++ {
		k.ultimoPID++
		if k.ultimoPID > k.cfg.PIDMax || k.ultimoPID < k.cfg.PIDMin {
			k.ultimoPID = k.cfg.PIDMin
		}
		if _, vivo := k.vivos[k.ultimoPID]; !vivo {
			return k.ultimoPID
		}
	}
	return -1
}

// matar termina p y todo su subárbol. Devuelve la cantidad de procesos terminados.
func (k *Kernel) matar(p *pcb.PCB) int {
	p.SepararDelPadre()

	switch {
	case p.Bloqueado():
		sem := p.Semaforo
		k.asl.Quitar(p)
		if k.esSemaforoES(sem) {
			k.bloqueadosES--
		}
	case p != k.actual:
		k.quitarDeListos(p)
	}

	muertos := 1
	for hijo := p.RemoverHijo(); hijo != nil; hijo = p.RemoverHijo() {
		muertos += k.matar(hijo)
	}

	if k.actual == p {
		k.actual = nil
	}
	k.cantProcesos--
	delete(k.vivos, p.PID)
	utils.InfoLog.Info(fmt.Sprintf("(%d) - Finaliza el proceso", p.PID))

	if err := k.pcbs.Liberar(p); err != nil {
		panic(fmt.Sprintf("liberando PID %d: %v", p.PID, err))
	}
	return muertos
}
