package machine

import "fmt"

// State es la foto del procesador que se guarda en cada excepción y se carga con LDST
type State struct {
	EntryHi uint32
	Cause   uint32
	Status  uint32
	PC      uint32
	GPR     [CantGPR]uint32
	Hi      uint32
	Lo      uint32

	// hilo de ejecución que continúa este estado (nil = arrancar el código en PC)
	hilo *hilo
}

// PalabrasEstado es el tamaño de un State serializado en RAM
const PalabrasEstado = 4 + CantGPR + 2

func (s *State) String() string {
	return fmt.Sprintf("State{PC: %#x, Status: %#x, Cause: %#x, EntryHi: %#x}",
		s.PC, s.Status, s.Cause, s.EntryHi)
}

// Reg devuelve el valor de un registro de propósito general
func (s *State) Reg(r int) uint32 {
	return s.GPR[r]
}

// SetReg asigna un registro de propósito general
func (s *State) SetReg(r int, v uint32) {
	s.GPR[r] = v
}

// EnModoUsuario indica si el estado guardado corresponde a modo usuario
// (bit KU previo, ya que la excepción apiló la pila KU/IE)
func (s *State) EnModoUsuario() bool {
	return s.Status&USERPON != 0
}

// apilar empuja la pila KU/IE: c -> p -> o, entrando en modo kernel con interrupciones apagadas
func apilar(status uint32) uint32 {
	pila := status & pilaKUIE
	return (status &^ pilaKUIE) | ((pila << 2) & pilaKUIE)
}

// desapilar es la operación inversa a apilar (p -> c, o -> p)
func desapilar(status uint32) uint32 {
	pila := status & pilaKUIE
	return (status &^ pilaKUIE) | (pila >> 2) | (pila & (IEOON | KUOON))
}

func (s *State) palabras() []uint32 {
	palabras := make([]uint32, 0, PalabrasEstado)
	palabras = append(palabras, s.EntryHi, s.Cause, s.Status, s.PC)
	palabras = append(palabras, s.GPR[:]...)
	return append(palabras, s.Hi, s.Lo)
}

// EscribirEstado serializa un State en RAM a partir de la dirección física dir
func EscribirEstado(bus *Bus, dir uint32, s *State) {
	for i, p := range s.palabras() {
		bus.EscribirPalabra(dir+uint32(i*TamPalabra), p)
	}
}

// LeerEstado deserializa un State desde RAM. El estado leído no tiene hilo asociado.
// ok es false si el rango no es memoria válida.
func LeerEstado(bus *Bus, dir uint32) (State, bool) {
	var palabras [PalabrasEstado]uint32
	for i := range palabras {
		v, ok := bus.Leer(dir + uint32(i*TamPalabra))
		if !ok {
			return State{}, false
		}
		palabras[i] = v
	}

	s := State{
		EntryHi: palabras[0],
		Cause:   palabras[1],
		Status:  palabras[2],
		PC:      palabras[3],
	}
	copy(s.GPR[:], palabras[4:4+CantGPR])
	s.Hi = palabras[4+CantGPR]
	s.Lo = palabras[5+CantGPR]
	return s, true
}
