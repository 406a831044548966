package main

import (
	"bytes"
	"fmt"

	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/utils"
)

// salidaDispositivo junta los caracteres de una impresora o terminal y registra cada línea
type salidaDispositivo struct {
	tipo  string
	nro   int
	linea bytes.Buffer
}

func nuevaSalida(tipo string, nro int) *salidaDispositivo {
	return &salidaDispositivo{tipo: tipo, nro: nro}
}

func (s *salidaDispositivo) Write(p []byte) (int, error) {
	for _, c := range p {
		if c != '\n' {
			s.linea.WriteByte(c)
			continue
		}
		utils.InfoLog.Info(fmt.Sprintf("## %s %d: %s", s.tipo, s.nro, s.linea.String()))
		s.linea.Reset()
	}
	return len(p), nil
}
