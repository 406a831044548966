package pcb

import "github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/machine"

// Índices de los pares (estado, contexto) de la estructura de soporte
const (
	ExcPagina  = 0
	ExcGeneral = 1
)

// Contexto es el punto de reanudación de un manejador de soporte
type Contexto struct {
	StackPtr uint32
	Status   uint32
	PC       uint32
}

// EntradaPagina es una entrada de la tabla de páginas privada
type EntradaPagina struct {
	EntryHi uint32
	EntryLo uint32
}

// Valida indica si la página está cargada en un marco
func (e *EntradaPagina) Valida() bool {
	return e.EntryLo&machine.VALIDON != 0
}

// Marco devuelve la dirección física del marco de la página
func (e *EntradaPagina) Marco() uint32 {
	return e.EntryLo & machine.EntryLoPFNMask
}

// Soporte es la estructura de soporte de un proceso de usuario
type Soporte struct {
	ASID         int
	Estados      [2]machine.State
	Contextos    [2]Contexto
	TablaPaginas [machine.TamTablaUsuario]EntradaPagina
}

// NuevoSoporte arma la tabla de páginas de asid: todas escribibles y no válidas
func NuevoSoporte(asid int) *Soporte {
	s := &Soporte{ASID: asid}
	for i := range s.TablaPaginas {
		s.TablaPaginas[i] = EntradaPagina{
			EntryHi: machine.EntryHi(machine.VPNDeIndice(i), asid),
			EntryLo: machine.DIRTYON,
		}
	}
	return s
}
