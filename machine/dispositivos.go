package machine

import (
	"bufio"
	"io"
)

// dispositivo es el contrato interno de cada periférico
type dispositivo interface {
	leer(off uint32) uint32
	escribir(off uint32, valor uint32, ahora uint64)
	avanzar(ahora uint64)
	pendiente() bool
	proximoEvento() (uint64, bool)
}

// operacion en curso de un (sub)dispositivo
type operacion struct {
	fin       uint64
	completar func()
}

// Dispositivos agrupa los periféricos instalados por línea de interrupción
type Dispositivos struct {
	lineas [CantLineasDispositivo][DispositivosPorLinea]dispositivo
	ahora  func() uint64
}

func (d *Dispositivos) instalar(linea, nro int, disp dispositivo) {
	d.lineas[linea-LineaDisco][nro] = disp
}

func (d *Dispositivos) obtener(linea, nro int) dispositivo {
	if linea < LineaDisco || linea > LineaTerminal || nro < 0 || nro >= DispositivosPorLinea {
		return nil
	}
	return d.lineas[linea-LineaDisco][nro]
}

// bitmap devuelve el bitmap de dispositivos con interrupción pendiente en la línea
func (d *Dispositivos) bitmap(linea int) uint32 {
	var bits uint32
	for nro, disp := range d.lineas[linea-LineaDisco] {
		if disp != nil && disp.pendiente() {
			bits |= 1 << nro
		}
	}
	return bits
}

// lineasPendientes devuelve los bits (1 << linea) de las líneas 3..7 con algo pendiente
func (d *Dispositivos) lineasPendientes() uint32 {
	var bits uint32
	for linea := LineaDisco; linea <= LineaTerminal; linea++ {
		if d.bitmap(linea) != 0 {
			bits |= 1 << linea
		}
	}
	return bits
}

func (d *Dispositivos) avanzar(ahora uint64) {
	for _, linea := range d.lineas {
		for _, disp := range linea {
			if disp != nil {
				disp.avanzar(ahora)
			}
		}
	}
}

func (d *Dispositivos) proximoEvento() (uint64, bool) {
	var menor uint64
	hay := false
	for _, linea := range d.lineas {
		for _, disp := range linea {
			if disp == nil {
				continue
			}
			if t, ok := disp.proximoEvento(); ok && (!hay || t < menor) {
				menor, hay = t, true
			}
		}
	}
	return menor, hay
}

func decodificar(dir uint32) (linea, nro int, off uint32) {
	rel := dir - RegistrosDispositivoBase
	linea = LineaDisco + int(rel/TamRegistrosLinea)
	nro = int((rel % TamRegistrosLinea) / TamRegistroDispositivo)
	off = rel % TamRegistroDispositivo
	return
}

func (d *Dispositivos) leerRegistro(dir uint32) uint32 {
	if dir < RegistrosDispositivoBase {
		linea := LineaDisco + int((dir-BitmapInterrupcionesBase)/TamPalabra)
		if linea > LineaTerminal {
			return 0
		}
		return d.bitmap(linea)
	}
	linea, nro, off := decodificar(dir)
	disp := d.obtener(linea, nro)
	if disp == nil {
		return EstadoNoInstalado
	}
	return disp.leer(off)
}

func (d *Dispositivos) escribirRegistro(dir uint32, valor uint32) {
	if dir < RegistrosDispositivoBase {
		return
	}
	linea, nro, off := decodificar(dir)
	if disp := d.obtener(linea, nro); disp != nil {
		disp.escribir(off, valor, d.ahora())
	}
}

// ============================================================================
// Subdispositivo genérico: status/command con una operación en curso
// ============================================================================

type canal struct {
	status     uint32
	command    uint32
	op         *operacion
	interrumpe bool
}

func nuevoCanal() canal {
	return canal{status: EstadoListo}
}

// comando procesa la escritura del registro command. iniciar devuelve la función que
// completa la operación, o nil si el comando no es válido para el dispositivo.
func (c *canal) comando(valor uint32, ahora, latencia uint64, iniciar func(uint32) func() uint32) {
	c.command = valor
	switch valor & MascaraEstadoTerminal {
	case CmdReset, CmdACK:
		c.interrumpe = false
		c.status = EstadoListo
		return
	}
	if c.op != nil {
		return
	}
	completar := iniciar(valor)
	if completar == nil {
		c.status = EstadoComandoInvalido
		c.interrumpe = true
		return
	}
	if latencia == 0 {
		latencia = 1
	}
	c.status = EstadoOcupado
	c.op = &operacion{
		fin: ahora + latencia,
		completar: func() {
			c.status = completar()
			c.interrumpe = true
		},
	}
}

func (c *canal) avanzar(ahora uint64) {
	if c.op != nil && ahora >= c.op.fin {
		op := c.op
		c.op = nil
		op.completar()
	}
}

func (c *canal) proximoEvento() (uint64, bool) {
	if c.op == nil {
		return 0, false
	}
	return c.op.fin, true
}

// ============================================================================
// Dispositivos de bloques (disco y flash): DMA de páginas completas
// ============================================================================

// DispositivoBloques es un disco o flash cuyo contenido son bloques de TamPagina bytes
type DispositivoBloques struct {
	canal
	data0, data1 uint32
	Bloques      [][]byte
	latencia     uint64
	bus          *Bus
}

func nuevoDispositivoBloques(bus *Bus, bloques int, latencia uint64) *DispositivoBloques {
	d := &DispositivoBloques{
		canal:    nuevoCanal(),
		Bloques:  make([][]byte, bloques),
		latencia: latencia,
		bus:      bus,
	}
	for i := range d.Bloques {
		d.Bloques[i] = make([]byte, TamPagina)
	}
	// data1 informa la geometría: cantidad de bloques
	d.data1 = uint32(bloques)
	return d
}

func (d *DispositivoBloques) leer(off uint32) uint32 {
	switch off {
	case OffStatus:
		return d.status
	case OffCommand:
		return d.command
	case OffData0:
		return d.data0
	default:
		return d.data1
	}
}

func (d *DispositivoBloques) escribir(off uint32, valor uint32, ahora uint64) {
	switch off {
	case OffCommand:
		d.comando(valor, ahora, d.latencia, d.iniciar)
	case OffData0:
		d.data0 = valor
	}
}

func (d *DispositivoBloques) iniciar(valor uint32) func() uint32 {
	bloque := int(valor >> BitsByte)
	dir := d.data0
	switch valor & MascaraEstadoTerminal {
	case CmdLeerBloque:
		return func() uint32 {
			if bloque >= len(d.Bloques) || !d.bus.dmaHaciaRAM(dir, d.Bloques[bloque]) {
				return EstadoErrorES
			}
			return EstadoListo
		}
	case CmdEscribirBloque:
		return func() uint32 {
			if bloque >= len(d.Bloques) || !d.bus.dmaDesdeRAM(dir, d.Bloques[bloque]) {
				return EstadoErrorES
			}
			return EstadoListo
		}
	}
	return nil
}

func (d *DispositivoBloques) pendiente() bool { return d.interrumpe }

// ============================================================================
// Impresora
// ============================================================================

type impresora struct {
	canal
	data0    uint32
	salida   io.Writer
	latencia uint64
}

func (p *impresora) leer(off uint32) uint32 {
	switch off {
	case OffStatus:
		return p.status
	case OffCommand:
		return p.command
	case OffData0:
		return p.data0
	default:
		return 0
	}
}

func (p *impresora) escribir(off uint32, valor uint32, ahora uint64) {
	switch off {
	case OffCommand:
		p.comando(valor, ahora, p.latencia, p.iniciar)
	case OffData0:
		p.data0 = valor
	}
}

func (p *impresora) iniciar(valor uint32) func() uint32 {
	if valor&MascaraEstadoTerminal != CmdImprimir {
		return nil
	}
	c := byte(p.data0)
	return func() uint32 {
		if _, err := p.salida.Write([]byte{c}); err != nil {
			return EstadoErrorES
		}
		return EstadoListo
	}
}

func (p *impresora) pendiente() bool { return p.interrumpe }

// ============================================================================
// Terminal: receptor y transmisor independientes
// ============================================================================

type terminal struct {
	recepcion   canal
	transmision canal
	entrada     *bufio.Reader
	salida      io.Writer
	latencia    uint64
}

func (t *terminal) leer(off uint32) uint32 {
	switch off {
	case OffRecvStatus:
		return t.recepcion.status
	case OffRecvCommand:
		return t.recepcion.command
	case OffTransmStatus:
		return t.transmision.status
	default:
		return t.transmision.command
	}
}

func (t *terminal) escribir(off uint32, valor uint32, ahora uint64) {
	switch off {
	case OffRecvCommand:
		t.recepcion.comando(valor, ahora, t.latencia, t.iniciarRecepcion)
	case OffTransmCommand:
		t.transmision.comando(valor, ahora, t.latencia, t.iniciarTransmision)
	}
}

func (t *terminal) iniciarTransmision(valor uint32) func() uint32 {
	if valor&MascaraEstadoTerminal != CmdTransmitir {
		return nil
	}
	c := byte(valor >> BitsByte)
	return func() uint32 {
		if _, err := t.salida.Write([]byte{c}); err != nil {
			return EstadoErrorES
		}
		return EstadoCaracterOK | uint32(c)<<BitsByte
	}
}

func (t *terminal) iniciarRecepcion(valor uint32) func() uint32 {
	if valor&MascaraEstadoTerminal != CmdRecibir {
		return nil
	}
	return func() uint32 {
		if t.entrada == nil {
			return EstadoErrorES
		}
		c, err := t.entrada.ReadByte()
		if err != nil {
			return EstadoErrorES
		}
		return EstadoCaracterOK | uint32(c)<<BitsByte
	}
}

func (t *terminal) avanzar(ahora uint64) {
	t.transmision.avanzar(ahora)
	t.recepcion.avanzar(ahora)
}

func (t *terminal) proximoEvento() (uint64, bool) {
	a, okA := t.transmision.proximoEvento()
	b, okB := t.recepcion.proximoEvento()
	switch {
	case okA && okB:
		return min(a, b), true
	case okA:
		return a, true
	default:
		return b, okB
	}
}

func (t *terminal) pendiente() bool {
	return t.transmision.interrumpe || t.recepcion.interrumpe
}
