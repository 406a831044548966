package machine

import (
	"encoding/binary"
	"fmt"
)

// Bus conecta la RAM y los registros de dispositivos mapeados en memoria
type Bus struct {
	ram          []byte
	dispositivos *Dispositivos
}

func nuevoBus(marcos int, dispositivos *Dispositivos) *Bus {
	return &Bus{
		ram:          make([]byte, marcos*TamPagina),
		dispositivos: dispositivos,
	}
}

// RAMTope devuelve la primera dirección física fuera de la RAM
func (b *Bus) RAMTope() uint32 {
	return RAMBase + uint32(len(b.ram))
}

func (b *Bus) enRAM(dir uint32, tam uint32) bool {
	return dir >= RAMBase && dir+tam <= b.RAMTope() && dir+tam > dir
}

func enAreaDispositivos(dir uint32) bool {
	return dir >= BitmapInterrupcionesBase && dir < RegistrosDispositivoBase+CantLineasDispositivo*TamRegistrosLinea
}

// Leer lee una palabra física. ok es false si la dirección no existe o no está alineada.
func (b *Bus) Leer(dir uint32) (uint32, bool) {
	if dir%TamPalabra != 0 {
		return 0, false
	}
	if enAreaDispositivos(dir) {
		return b.dispositivos.leerRegistro(dir), true
	}
	if !b.enRAM(dir, TamPalabra) {
		return 0, false
	}
	off := dir - RAMBase
	return binary.LittleEndian.Uint32(b.ram[off : off+TamPalabra]), true
}

// Escribir escribe una palabra física. ok es false si la dirección no existe o no está alineada.
func (b *Bus) Escribir(dir uint32, valor uint32) bool {
	if dir%TamPalabra != 0 {
		return false
	}
	if enAreaDispositivos(dir) {
		b.dispositivos.escribirRegistro(dir, valor)
		return true
	}
	if !b.enRAM(dir, TamPalabra) {
		return false
	}
	off := dir - RAMBase
	binary.LittleEndian.PutUint32(b.ram[off:off+TamPalabra], valor)
	return true
}

// LeerByte lee un byte de RAM
func (b *Bus) LeerByte(dir uint32) (byte, bool) {
	if !b.enRAM(dir, 1) {
		return 0, false
	}
	return b.ram[dir-RAMBase], true
}

// EscribirByte escribe un byte en RAM
func (b *Bus) EscribirByte(dir uint32, valor byte) bool {
	if !b.enRAM(dir, 1) {
		return false
	}
	b.ram[dir-RAMBase] = valor
	return true
}

// LeerPalabra es Leer para código de kernel: una dirección inválida es un error de programación
func (b *Bus) LeerPalabra(dir uint32) uint32 {
	v, ok := b.Leer(dir)
	if !ok {
		panic(fmt.Sprintf("lectura de dirección física inválida %#x", dir))
	}
	return v
}

// EscribirPalabra es Escribir para código de kernel
func (b *Bus) EscribirPalabra(dir uint32, valor uint32) {
	if !b.Escribir(dir, valor) {
		panic(fmt.Sprintf("escritura en dirección física inválida %#x", dir))
	}
}

// Pagina devuelve una copia del contenido del marco que empieza en dir
func (b *Bus) Pagina(dir uint32) []byte {
	if !b.enRAM(dir, TamPagina) {
		return nil
	}
	datos := make([]byte, TamPagina)
	copy(datos, b.ram[dir-RAMBase:])
	return datos
}

// dma copia bloques completos entre la RAM y un dispositivo
func (b *Bus) dmaDesdeRAM(dir uint32, destino []byte) bool {
	if !b.enRAM(dir, uint32(len(destino))) {
		return false
	}
	copy(destino, b.ram[dir-RAMBase:])
	return true
}

func (b *Bus) dmaHaciaRAM(dir uint32, origen []byte) bool {
	if !b.enRAM(dir, uint32(len(origen))) {
		return false
	}
	copy(b.ram[dir-RAMBase:], origen)
	return true
}
