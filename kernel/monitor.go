package kernel

import "github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/utils"

// Resumen es la foto del planificador que se publica en cada decisión
type Resumen struct {
	TOD            uint64 `json:"tod"`
	Vivos          int    `json:"vivos"`
	BloqueadosES   int    `json:"bloqueados_es"`
	ListosAlta     int    `json:"listos_alta"`
	ListosBaja     int    `json:"listos_baja"`
	Actual         int    `json:"actual"`
	SemdsActivos   int    `json:"semds_activos"`
	MarcosOcupados int    `json:"marcos_ocupados"`
	Despachos      uint64 `json:"despachos"`
	Detenido       bool   `json:"detenido"`
}

// Monitor guarda el último resumen para leerlo desde otras goroutines (servidor HTTP)
type Monitor struct {
	mutex   *utils.Semaforo
	resumen Resumen
}

// NuevoMonitor crea un monitor vacío
func NuevoMonitor() *Monitor {
	return &Monitor{mutex: utils.NewSemaforo(1)}
}

// Publicar reemplaza el resumen
func (m *Monitor) Publicar(r Resumen) {
	m.mutex.Con(func() { m.resumen = r })
}

// Resumen devuelve una copia del último resumen
func (m *Monitor) Resumen() Resumen {
	var r Resumen
	m.mutex.Con(func() { r = m.resumen })
	return r
}

func (k *Kernel) publicar(detenido bool) {
	r := Resumen{
		TOD:          k.m.TOD(),
		Vivos:        k.cantProcesos,
		BloqueadosES: k.bloqueadosES,
		ListosAlta:   k.listosAlta.Largo(),
		ListosBaja:   k.listosBaja.Largo(),
		SemdsActivos: k.asl.Activos(),
		Despachos:    k.despachos,
		Detenido:     detenido,
	}
	if k.actual != nil {
		r.Actual = k.actual.PID
	}
	if k.ocupacionSwap != nil {
		r.MarcosOcupados = k.ocupacionSwap()
	}
	k.monitor.Publicar(r)
}
