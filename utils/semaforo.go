package utils

// Semaforo es un semáforo contador sobre un canal de fichas. Las fichas disponibles son
// el valor del semáforo y nunca superan el máximo.
type Semaforo struct {
	fichas chan struct{}
}

// NewSemaforo crea un semáforo con sus maximo fichas disponibles
func NewSemaforo(maximo int) *Semaforo {
	return NuevoSemaforo(maximo, maximo)
}

// NuevoSemaforo crea un semáforo con valor inicial y un máximo de fichas
func NuevoSemaforo(inicial, maximo int) *Semaforo {
	maximo = max(maximo, 1)
	s := &Semaforo{fichas: make(chan struct{}, maximo)}
	for i, n := 0, min(max(inicial, 0), maximo); i < n; i++ {
		s.fichas <- struct{}{}
	}
	return s
}

// Wait (P) toma una ficha, bloqueando mientras no haya
func (s *Semaforo) Wait() {
	<-s.fichas
}

// Signal (V) devuelve una ficha; con el semáforo lleno no hace nada
func (s *Semaforo) Signal() {
	select {
	case s.fichas <- struct{}{}:
	default:
	}
}

// TryWait toma una ficha si hay alguna
func (s *Semaforo) TryWait() bool {
	select {
	case <-s.fichas:
		return true
	default:
		return false
	}
}

// Valor devuelve las fichas disponibles
func (s *Semaforo) Valor() int {
	return len(s.fichas)
}

// Con ejecuta f con una ficha tomada
func (s *Semaforo) Con(f func()) {
	s.Wait()
	defer s.Signal()
	f()
}
