package pcb

import (
	"errors"
	"fmt"

	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/machine"
)

const (
	PrioridadBaja = 0
	PrioridadAlta = 1
)

// ErrConPertenencia indica que se intentó liberar un PCB que sigue en una cola o en el árbol
var ErrConPertenencia = errors.New("el PCB todavía pertenece a una cola o al árbol de procesos")

// PCB es el descriptor de un proceso
type PCB struct {
	// cola de procesos
	sig, ant *PCB
	cola     *Cola

	// árbol de procesos
	padre *PCB
	hijos []*PCB

	Estado    machine.State
	Tiempo    uint64
	Prioridad int
	PID       int

	// Semaforo es la dirección del semáforo en el que está bloqueado (0 = ninguno)
	Semaforo uint32
	Soporte  *Soporte

	indice int
}

// Bloqueado indica si el proceso espera en un semáforo
func (p *PCB) Bloqueado() bool {
	return p.Semaforo != 0
}

// EnCola indica si el proceso está en alguna cola (lista o semáforo)
func (p *PCB) EnCola() bool {
	return p.cola != nil
}

func (p *PCB) String() string {
	return fmt.Sprintf("PCB{PID: %d, Prioridad: %d, Semaforo: %#x, PC: %#x}",
		p.PID, p.Prioridad, p.Semaforo, p.Estado.PC)
}

// Pool es la tabla fija de PCBs con su lista de libres
type Pool struct {
	tabla  []PCB
	libres []int
}

// NuevoPool crea una tabla de max PCBs, todos libres
func NuevoPool(max int) *Pool {
	p := &Pool{
		tabla:  make([]PCB, max),
		libres: make([]int, 0, max),
	}
	for i := max - 1; i >= 0; i-- {
		p.tabla[i].indice = i
		p.libres = append(p.libres, i)
	}
	return p
}

// Asignar devuelve un PCB en cero, o nil si no quedan libres
func (p *Pool) Asignar() *PCB {
	if len(p.libres) == 0 {
		return nil
	}
	i := p.libres[len(p.libres)-1]
	p.libres = p.libres[:len(p.libres)-1]

	p.tabla[i] = PCB{indice: i}
	return &p.tabla[i]
}

// Liberar devuelve el PCB a la tabla. Sólo es válido sin cola ni árbol.
func (p *Pool) Liberar(pcb *PCB) error {
	if pcb.cola != nil || pcb.padre != nil || len(pcb.hijos) > 0 {
		return fmt.Errorf("%w: %s", ErrConPertenencia, pcb)
	}
	pcb.Semaforo = 0
	pcb.Soporte = nil
	p.libres = append(p.libres, pcb.indice)
	return nil
}

// Libres devuelve la cantidad de PCBs disponibles
func (p *Pool) Libres() int {
	return len(p.libres)
}

// Capacidad devuelve el tamaño de la tabla
func (p *Pool) Capacidad() int {
	return len(p.tabla)
}
