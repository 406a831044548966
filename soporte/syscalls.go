package soporte

import (
	"fmt"

	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/kernel"
	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/machine"
	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/pcb"
	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/utils"
)

// manejarExcepcion es el manejador general de soporte: atiende las syscalls de usuario y
// termina al proceso ante cualquier otra excepción
func (n *Nivel) manejarExcepcion(cpu *machine.CPU) {
	sop := n.k.Soporte(cpu.Syscall(kernel.SysSoporte, 0, 0, 0))
	estado := sop.Estados[pcb.ExcGeneral]

	if exc := machine.ExcCode(estado.Cause); exc != machine.ExcSys {
		utils.InfoLog.Info(fmt.Sprintf("(ASID %d) - Excepción de programa", sop.ASID),
			"exc", exc, "pc", fmt.Sprintf("%#x", estado.PC))
		n.terminar(cpu, sop)
		return
	}

	a1, a2 := estado.Reg(machine.RegA1), estado.Reg(machine.RegA2)
	switch num := int(int32(estado.Reg(machine.RegA0))); num {
	case kernel.SysGetTOD:
		n.volver(cpu, &estado, uint32(cpu.TOD()))

	case kernel.SysTerminar:
		n.terminar(cpu, sop)

	case kernel.SysEscribirImpresora:
		n.escribirImpresora(cpu, sop, &estado, a1, int32(a2))

	case kernel.SysEscribirTerminal:
		n.escribirTerminal(cpu, sop, &estado, a1, int32(a2))

	case kernel.SysLeerTerminal:
		n.leerTerminal(cpu, sop, &estado, a1)

	default:
		utils.InfoLog.Info(fmt.Sprintf("(ASID %d) - Syscall de usuario inexistente", sop.ASID), "syscall", num)
		n.terminar(cpu, sop)
	}
}

// volver reanuda al proceso de usuario después de la syscall con v0 = v
func (n *Nivel) volver(cpu *machine.CPU, estado *machine.State, v uint32) {
	estado.SetReg(machine.RegV0, v)
	estado.PC += machine.TamPalabra
	cpu.LDST(estado)
}

// terminar libera los marcos del proceso, avisa al instanciador y lo elimina
func (n *Nivel) terminar(cpu *machine.CPU, sop *pcb.Soporte) {
	liberados := n.pager.LiberarMarcos(cpu, sop.ASID)
	n.terminados++
	utils.InfoLog.Info(fmt.Sprintf("(ASID %d) - Finaliza el proceso de usuario", sop.ASID), "marcos_liberados", liberados)

	cpu.Syscall(kernel.SysVerhogen, n.master, 0, 0)
	cpu.Syscall(kernel.SysTerminarProc, 0, 0, 0)
}

// leerCadena copia largo bytes desde la dirección virtual dir del proceso
func leerCadena(cpu *machine.CPU, dir uint32, largo int) []byte {
	buf := make([]byte, largo)
	for i := range buf {
		buf[i] = cpu.LoadByte(dir + uint32(i))
	}
	return buf
}

func cadenaValida(dir uint32, largo int32) bool {
	return dir >= machine.KUSEG && largo >= 0 && largo <= MaxCadena
}

// atomico corre f con las interrupciones deshabilitadas
func atomico(cpu *machine.CPU, f func()) {
	status := cpu.Status()
	cpu.SetStatus(status &^ machine.IECON)
	f()
	cpu.SetStatus(status)
}

func (n *Nivel) escribirImpresora(cpu *machine.CPU, sop *pcb.Soporte, estado *machine.State, dir uint32, largo int32) {
	if !cadenaValida(dir, largo) {
		n.terminar(cpu, sop)
		return
	}
	texto := leerCadena(cpu, dir, int(largo))

	nro := sop.ASID - 1
	reg := machine.DireccionRegistro(machine.LineaImpresora, nro)
	mutex := n.semImpresora(nro)

	cpu.Syscall(kernel.SysPasseren, mutex, 0, 0)
	enviados := int32(0)
	for _, c := range texto {
		var status uint32
		atomico(cpu, func() {
			cpu.Store(reg+machine.OffData0, uint32(c))
			status = cpu.Syscall(kernel.SysDoIO, reg+machine.OffCommand, machine.CmdImprimir, 0)
		})
		if status != machine.EstadoListo {
			enviados = -int32(status)
			break
		}
		enviados++
	}
	cpu.Syscall(kernel.SysVerhogen, mutex, 0, 0)

	utils.InfoLog.Debug(fmt.Sprintf("(ASID %d) - Escritura en impresora", sop.ASID), "resultado", enviados)
	n.volver(cpu, estado, uint32(enviados))
}

func (n *Nivel) escribirTerminal(cpu *machine.CPU, sop *pcb.Soporte, estado *machine.State, dir uint32, largo int32) {
	if !cadenaValida(dir, largo) {
		n.terminar(cpu, sop)
		return
	}
	texto := leerCadena(cpu, dir, int(largo))

	nro := sop.ASID - 1
	reg := machine.DireccionRegistro(machine.LineaTerminal, nro)
	mutex := n.semTerminal(nro, false)

	cpu.Syscall(kernel.SysPasseren, mutex, 0, 0)
	enviados := int32(0)
	for _, c := range texto {
		var status uint32
		atomico(cpu, func() {
			status = cpu.Syscall(kernel.SysDoIO, reg+machine.OffTransmCommand, machine.CmdTransmitir|uint32(c)<<machine.BitsByte, 0)
		})
		if status&machine.MascaraEstadoTerminal != machine.EstadoCaracterOK {
			enviados = -int32(status & machine.MascaraEstadoTerminal)
			break
		}
		enviados++
	}
	cpu.Syscall(kernel.SysVerhogen, mutex, 0, 0)

	utils.InfoLog.Debug(fmt.Sprintf("(ASID %d) - Escritura en terminal", sop.ASID), "resultado", enviados)
	n.volver(cpu, estado, uint32(enviados))
}

// leerTerminal recibe caracteres hasta el fin de línea y los deja en dir seguidos de un 0
func (n *Nivel) leerTerminal(cpu *machine.CPU, sop *pcb.Soporte, estado *machine.State, dir uint32) {
	if dir < machine.KUSEG {
		n.terminar(cpu, sop)
		return
	}

	nro := sop.ASID - 1
	reg := machine.DireccionRegistro(machine.LineaTerminal, nro)
	mutex := n.semTerminal(nro, true)

	var recibido []byte
	resultado := int32(0)
	cpu.Syscall(kernel.SysPasseren, mutex, 0, 0)
	for {
		var status uint32
		atomico(cpu, func() {
			status = cpu.Syscall(kernel.SysDoIO, reg+machine.OffRecvCommand, machine.CmdRecibir, 0)
		})
		if status&machine.MascaraEstadoTerminal != machine.EstadoCaracterOK {
			resultado = -int32(status & machine.MascaraEstadoTerminal)
			break
		}
		c := byte(status >> machine.BitsByte)
		recibido = append(recibido, c)
		resultado++
		if c == '\n' {
			break
		}
	}
	cpu.Syscall(kernel.SysVerhogen, mutex, 0, 0)

	for i, c := range recibido {
		cpu.StoreByte(dir+uint32(i), c)
	}
	cpu.StoreByte(dir+uint32(len(recibido)), 0)

	utils.InfoLog.Debug(fmt.Sprintf("(ASID %d) - Lectura de terminal", sop.ASID), "resultado", resultado)
	n.volver(cpu, estado, uint32(resultado))
}
