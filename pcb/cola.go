package pcb

// Cola es una cola FIFO intrusiva de PCBs. Un PCB pertenece a lo sumo a una cola.
type Cola struct {
	cabeza, fin *PCB
	largo       int
}

// Vacia indica si la cola no tiene procesos
func (c *Cola) Vacia() bool {
	return c.cabeza == nil
}

// Largo devuelve la cantidad de procesos en la cola
func (c *Cola) Largo() int {
	return c.largo
}

// Insertar agrega p al final de la cola
func (c *Cola) Insertar(p *PCB) {
	if p.cola != nil {
		panic("PCB insertado en dos colas: " + p.String())
	}
	p.cola = c
	p.ant = c.fin
	p.sig = nil
	if c.fin == nil {
		c.cabeza = p
	} else {
		c.fin.sig = p
	}
	c.fin = p
	c.largo++
}

// Cabeza devuelve el primer proceso sin sacarlo
func (c *Cola) Cabeza() *PCB {
	return c.cabeza
}

// Remover saca y devuelve el primer proceso, o nil si la cola está vacía
func (c *Cola) Remover() *PCB {
	if c.cabeza == nil {
		return nil
	}
	return c.desenlazar(c.cabeza)
}

// Quitar saca a p de la cola. Devuelve nil si p no estaba en esta cola.
func (c *Cola) Quitar(p *PCB) *PCB {
	if p == nil || p.cola != c {
		return nil
	}
	return c.desenlazar(p)
}

// Contiene indica si p está en esta cola
func (c *Cola) Contiene(p *PCB) bool {
	return p != nil && p.cola == c
}

func (c *Cola) desenlazar(p *PCB) *PCB {
	if p.ant == nil {
		c.cabeza = p.sig
	} else {
		p.ant.sig = p.sig
	}
	if p.sig == nil {
		c.fin = p.ant
	} else {
		p.sig.ant = p.ant
	}
	p.sig, p.ant, p.cola = nil, nil, nil
	c.largo--
	return p
}
