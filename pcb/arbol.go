package pcb

// Padre devuelve el padre del proceso (nil si es raíz)
func (p *PCB) Padre() *PCB {
	return p.padre
}

// SinHijos indica si el proceso no tiene hijos
func (p *PCB) SinHijos() bool {
	return len(p.hijos) == 0
}

// Hijos devuelve una copia de la lista de hijos, en orden de inserción
func (p *PCB) Hijos() []*PCB {
	return append([]*PCB(nil), p.hijos...)
}

// InsertarHijo agrega hijo como último hijo de p. hijo no debe tener padre.
func (p *PCB) InsertarHijo(hijo *PCB) {
	if hijo.padre != nil {
		panic("PCB con dos padres: " + hijo.String())
	}
	hijo.padre = p
	p.hijos = append(p.hijos, hijo)
}

// RemoverHijo separa y devuelve el primer hijo, o nil si no tiene
func (p *PCB) RemoverHijo() *PCB {
	if len(p.hijos) == 0 {
		return nil
	}
	hijo := p.hijos[0]
	p.hijos[0] = nil
	p.hijos = p.hijos[1:]
	hijo.padre = nil
	return hijo
}

// SepararDelPadre saca a p de la lista de hijos de su padre. Devuelve nil si no tenía padre.
func (p *PCB) SepararDelPadre() *PCB {
	padre := p.padre
	if padre == nil {
		return nil
	}
	for i, h := range padre.hijos {
		if h == p {
			padre.hijos = append(padre.hijos[:i], padre.hijos[i+1:]...)
			break
		}
	}
	p.padre = nil
	return p
}
