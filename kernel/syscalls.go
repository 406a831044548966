package kernel

import (
	"fmt"

	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/machine"
	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/pcb"
	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/utils"
)

// Syscalls del kernel (a0 negativo, sólo modo kernel)
const (
	SysCrearProceso    = -1
	SysTerminarProc    = -2
	SysPasseren        = -3
	SysVerhogen        = -4
	SysDoIO            = -5
	SysTiempoCPU       = -6
	SysEsperarReloj    = -7
	SysSoporte         = -8
	SysPID             = -9
	SysCederProcesador = -10
)

// Syscalls del nivel de soporte (a0 positivo, se delegan por pass up)
const (
	SysGetTOD            = 1
	SysTerminar          = 2
	SysEscribirImpresora = 3
	SysEscribirTerminal  = 4
	SysLeerTerminal      = 5
)

// ErrorCreacion es lo que devuelve CREATEPROCESS en v0 cuando no hay PCB o PID
const ErrorCreacion = -1

// valorErrorCreacion es ErrorCreacion en complemento a dos, como queda en v0
func valorErrorCreacion() uint32 {
	v := int32(ErrorCreacion)
	return uint32(v)
}

func (k *Kernel) manejarSyscall(e *machine.State) {
	num := int32(e.Reg(machine.RegA0))

	if num >= 1 {
		k.pasarOMorir(e, pcb.ExcGeneral)
		return
	}
	if e.EnModoUsuario() {
		utils.InfoLog.Debug(fmt.Sprintf("(%d) - Syscall %d en modo usuario", k.actual.PID, num))
		k.generarExcepcion(e, machine.ExcRI)
		return
	}

	a1, a2, a3 := e.Reg(machine.RegA1), e.Reg(machine.RegA2), e.Reg(machine.RegA3)

	switch num {
	case SysCrearProceso:
		k.crearProceso(e, a1, a2, a3)
	case SysTerminarProc:
		k.terminarProceso(e, int(int32(a1)))
	case SysPasseren:
		k.passeren(e, a1)
	case SysVerhogen:
		k.verhogen(e, a1)
	case SysDoIO:
		k.doIO(e, a1, a2)
	case SysTiempoCPU:
		k.actualizarTiempo()
		k.volverConValor(e, uint32(k.actual.Tiempo))
	case SysEsperarReloj:
		k.bloqueadosES++
		k.bloquearActual(e, k.semPseudoReloj())
	case SysSoporte:
		k.volverConValor(e, k.handles[k.actual.Soporte])
	case SysPID:
		k.volverConValor(e, uint32(k.obtenerPID(a1 != 0)))
	case SysCederProcesador:
		k.ceder(e)
	default:
		k.generarExcepcion(e, machine.ExcRI)
	}
}

// volverConValor reanuda al llamador después de la syscall con v0 = v
func (k *Kernel) volverConValor(e *machine.State, v uint32) {
	e.SetReg(machine.RegV0, v)
	k.volver(e)
}

// volver reanuda al llamador después de la syscall
func (k *Kernel) volver(e *machine.State) {
	e.PC += machine.TamPalabra
	k.m.LDST(e)
}

// crearProceso: a1 dirección física del State inicial, a2 prioridad, a3 handle de soporte
func (k *Kernel) crearProceso(e *machine.State, dirEstado, prioridad, handle uint32) {
	inicial, ok := machine.LeerEstado(k.m.Bus(), dirEstado)
	if !ok {
		k.generarExcepcion(e, machine.ExcDBE)
		return
	}
	soporte := k.Soporte(handle)
	if handle != 0 && soporte == nil {
		k.generarExcepcion(e, machine.ExcDBE)
		return
	}

	p := k.pcbs.Asignar()
	if p == nil {
		utils.InfoLog.Info(fmt.Sprintf("(%d) - No hay PCBs libres para crear un proceso", k.actual.PID))
		k.volverConValor(e, valorErrorCreacion())
		return
	}
	pid := k.asignarPID()
	if pid < 0 {
		if err := k.pcbs.Liberar(p); err != nil {
			panic(fmt.Sprintf("devolviendo PCB sin PID: %v", err))
		}
		utils.InfoLog.Info(fmt.Sprintf("(%d) - No hay PIDs libres para crear un proceso", k.actual.PID))
		k.volverConValor(e, valorErrorCreacion())
		return
	}

	p.PID = pid
	p.Estado = inicial
	p.Soporte = soporte
	p.Prioridad = pcb.PrioridadBaja
	if prioridad == pcb.PrioridadAlta {
		p.Prioridad = pcb.PrioridadAlta
	}

	k.actual.InsertarHijo(p)
	k.insertarListo(p)
	k.vivos[pid] = p
	k.cantProcesos++

	utils.InfoLog.Info(fmt.Sprintf("(%d) - Se crea el proceso - Estado: READY", pid),
		"padre", k.actual.PID, "prioridad", nombrePrioridad(p.Prioridad))
	k.volverConValor(e, uint32(pid))
}

// terminarProceso termina el subárbol de pid (0 = el llamador). Un PID inexistente no hace nada.
func (k *Kernel) terminarProceso(e *machine.State, pid int) {
	objetivo := k.actual
	if pid != 0 {
		objetivo = k.vivos[pid]
	}
	if objetivo != nil {
		if objetivo == k.actual {
			k.actualizarTiempo()
		}
		muertos := k.matar(objetivo)
		utils.InfoLog.Debug("Subárbol terminado", "raiz", objetivo.PID, "procesos", muertos)
	}

	if k.actual == nil {
		k.planificar()
		return
	}
	k.volver(e)
}

// passeren bloquea si el semáforo está en 0; si no, despierta a un bloqueado o decrementa
func (k *Kernel) passeren(e *machine.State, sem uint32) {
	v, ok := k.leerSem(sem)
	if !ok {
		k.generarExcepcion(e, machine.ExcDBE)
		return
	}
	if v == 0 {
		k.bloquearActual(e, sem)
		return
	}
	if k.despertar(sem) == nil {
		k.escribirSem(sem, v-1)
	}
	k.volver(e)
}

// verhogen bloquea si el semáforo está en 1; si no, despierta a un bloqueado o incrementa
func (k *Kernel) verhogen(e *machine.State, sem uint32) {
	v, ok := k.leerSem(sem)
	if !ok {
		k.generarExcepcion(e, machine.ExcDBE)
		return
	}
	if v == 1 {
		k.bloquearActual(e, sem)
		return
	}
	if k.despertar(sem) == nil {
		k.escribirSem(sem, v+1)
	}
	k.volver(e)
}

// doIO escribe el comando y bloquea al llamador hasta la interrupción del dispositivo
func (k *Kernel) doIO(e *machine.State, dirComando, valor uint32) {
	sem, ok := k.semaforoDeComando(dirComando)
	if !ok {
		k.generarExcepcion(e, machine.ExcDBE)
		return
	}
	k.m.Bus().Escribir(dirComando, valor)
	k.bloqueadosES++
	utils.InfoLog.Info(fmt.Sprintf("(%d) - Solicitó E/S", k.actual.PID), "registro", fmt.Sprintf("%#x", dirComando))
	k.passeren(e, sem)
}

func (k *Kernel) obtenerPID(delPadre bool) int {
	if !delPadre {
		return k.actual.PID
	}
	if padre := k.actual.Padre(); padre != nil {
		return padre.PID
	}
	return 0
}

// ceder vuelve a encolar al llamador. Si es HIGH y hay otro HIGH esperando, la próxima
// decisión favorece a la cola LOW.
func (k *Kernel) ceder(e *machine.State) {
	if k.actual.Prioridad == pcb.PrioridadAlta && !k.listosAlta.Vacia() {
		k.forzarBaja = true
	}
	e.PC += machine.TamPalabra
	utils.InfoLog.Debug(fmt.Sprintf("(%d) - Cede el procesador", k.actual.PID))
	k.desalojarActual(e)
	k.planificar()
}
