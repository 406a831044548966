package memoria

import (
	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/machine"
	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/pcb"
)

// sinDuenio marca un marco del swap pool sin ocupar
const sinDuenio = -1

// EntradaSwap describe quién ocupa un marco del swap pool
type EntradaSwap struct {
	ASID   int    `json:"asid"`
	VPN    uint32 `json:"vpn"`
	Indice int    `json:"pagina"`

	entrada *pcb.EntradaPagina
}

// Ocupada indica si el marco tiene una página asignada
func (e *EntradaSwap) Ocupada() bool {
	return e.ASID != sinDuenio
}

// Valida indica si el marco está ocupado y la página sigue mapeada
func (e *EntradaSwap) Valida() bool {
	return e.Ocupada() && e.entrada != nil && e.entrada.Valida()
}

func (e *EntradaSwap) liberar() {
	*e = EntradaSwap{ASID: sinDuenio}
}

// Ocupados devuelve la cantidad de marcos del swap pool con dueño
func (p *Pager) Ocupados() int {
	n := 0
	for i := range p.swap {
		if p.swap[i].Ocupada() {
			n++
		}
	}
	return n
}

// Tabla devuelve una copia de la tabla del swap pool
func (p *Pager) Tabla() []EntradaSwap {
	copia := make([]EntradaSwap, len(p.swap))
	copy(copia, p.swap)
	return copia
}

// Instantanea devuelve la última tabla publicada. Se puede llamar desde otras goroutines.
func (p *Pager) Instantanea() []EntradaSwap {
	var copia []EntradaSwap
	p.vista.Con(func() { copia = append(copia, p.foto...) })
	return copia
}

func (p *Pager) publicar() {
	tabla := p.Tabla()
	p.vista.Con(func() { p.foto = tabla })
}

// Marco devuelve la dirección física del marco i del swap pool
func (p *Pager) Marco(i int) uint32 {
	return p.base + uint32(i)*machine.TamPagina
}

// LiberarMarcos desocupa los marcos de asid, invalidando sus páginas. Corre en el hilo del
// proceso que termina y toma el mutex del swap pool.
func (p *Pager) LiberarMarcos(cpu *machine.CPU, asid int) int {
	liberados := 0
	p.tomarMutex(cpu)
	p.atomico(cpu, func() {
		for i := range p.swap {
			e := &p.swap[i]
			if !e.Ocupada() || e.ASID != asid {
				continue
			}
			if e.entrada != nil {
				e.entrada.EntryLo &^= machine.VALIDON
			}
			e.liberar()
			liberados++
		}
		if liberados > 0 {
			cpu.TLBClear()
		}
	})
	p.publicar()
	p.soltarMutex(cpu)
	return liberados
}
