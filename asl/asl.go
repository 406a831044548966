// Package asl mantiene los procesos bloqueados por semáforo. Un descriptor de semáforo
// existe sólo mientras tenga algún proceso esperando.
package asl

import (
	"errors"
	"fmt"

	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/pcb"
)

// ErrSinSemd indica que se agotó la tabla de descriptores de semáforo
var ErrSinSemd = errors.New("no quedan descriptores de semáforo libres")

// semd es el descriptor de un semáforo con procesos bloqueados
type semd struct {
	clave uint32
	cola  pcb.Cola
}

// ASL es la lista de semáforos activos
type ASL struct {
	tabla   []semd
	libres  []*semd
	activos map[uint32]*semd
}

// Nueva crea una ASL con max descriptores disponibles
func Nueva(max int) *ASL {
	a := &ASL{
		tabla:   make([]semd, max),
		libres:  make([]*semd, 0, max),
		activos: make(map[uint32]*semd, max),
	}
	for i := max - 1; i >= 0; i-- {
		a.libres = append(a.libres, &a.tabla[i])
	}
	return a
}

// Bloquear encola p en el semáforo clave, asignando su descriptor si hace falta
func (a *ASL) Bloquear(clave uint32, p *pcb.PCB) error {
	s, ok := a.activos[clave]
	if !ok {
		if len(a.libres) == 0 {
			return fmt.Errorf("%w: semáforo %#x", ErrSinSemd, clave)
		}
		s = a.libres[len(a.libres)-1]
		a.libres = a.libres[:len(a.libres)-1]
		s.clave = clave
		a.activos[clave] = s
	}

	p.Semaforo = clave
	s.cola.Insertar(p)
	return nil
}

// Desbloquear saca el primer proceso bloqueado en clave, o nil si no hay ninguno
func (a *ASL) Desbloquear(clave uint32) *pcb.PCB {
	s, ok := a.activos[clave]
	if !ok {
		return nil
	}
	p := s.cola.Remover()
	p.Semaforo = 0
	a.liberarSiVacio(s)
	return p
}

// Quitar saca a p del semáforo en el que está bloqueado. Devuelve nil si no estaba bloqueado.
func (a *ASL) Quitar(p *pcb.PCB) *pcb.PCB {
	s, ok := a.activos[p.Semaforo]
	if !ok || s.cola.Quitar(p) == nil {
		return nil
	}
	p.Semaforo = 0
	a.liberarSiVacio(s)
	return p
}

// Cabeza devuelve el primer bloqueado en clave sin sacarlo
func (a *ASL) Cabeza(clave uint32) *pcb.PCB {
	s, ok := a.activos[clave]
	if !ok {
		return nil
	}
	return s.cola.Cabeza()
}

// Bloqueados devuelve la cantidad de procesos esperando en clave
func (a *ASL) Bloqueados(clave uint32) int {
	s, ok := a.activos[clave]
	if !ok {
		return 0
	}
	return s.cola.Largo()
}

// Activos devuelve la cantidad de descriptores en uso
func (a *ASL) Activos() int {
	return len(a.activos)
}

func (a *ASL) liberarSiVacio(s *semd) {
	if !s.cola.Vacia() {
		return
	}
	delete(a.activos, s.clave)
	s.clave = 0
	a.libres = append(a.libres, s)
}
