package machine

// EntradaTLB es un par EntryHi/EntryLo cargado en la TLB
type EntradaTLB struct {
	EntryHi uint32
	EntryLo uint32
}

// TLB es la caché de traducciones. El reemplazo de TLBWR es round-robin.
type TLB struct {
	entradas  []EntradaTLB
	validas   []bool
	siguiente int
}

func nuevaTLB(tam int) *TLB {
	if tam <= 0 {
		tam = 16
	}
	return &TLB{
		entradas: make([]EntradaTLB, tam),
		validas:  make([]bool, tam),
	}
}

// buscar devuelve la entrada que traduce (vpn, asid)
func (t *TLB) buscar(vpn uint32, asid int) (EntradaTLB, bool) {
	for i, e := range t.entradas {
		if !t.validas[i] || VPN(e.EntryHi) != vpn {
			continue
		}
		if e.EntryLo&GLOBALON != 0 || ASID(e.EntryHi) == asid {
			return e, true
		}
	}
	return EntradaTLB{}, false
}

// escribir carga una entrada. Si ya existe una para el mismo VPN/ASID se reemplaza.
func (t *TLB) escribir(e EntradaTLB) {
	for i, actual := range t.entradas {
		if t.validas[i] && actual.EntryHi == e.EntryHi {
			t.entradas[i] = e
			return
		}
	}
	t.entradas[t.siguiente] = e
	t.validas[t.siguiente] = true
	t.siguiente = (t.siguiente + 1) % len(t.entradas)
}

func (t *TLB) limpiar() {
	for i := range t.validas {
		t.validas[i] = false
	}
	t.siguiente = 0
}

// Entradas devuelve las entradas válidas (para inspección)
func (t *TLB) Entradas() []EntradaTLB {
	var res []EntradaTLB
	for i, e := range t.entradas {
		if t.validas[i] {
			res = append(res, e)
		}
	}
	return res
}
