package machine

// ============================================================================
// Constantes de la arquitectura simulada (tipo uMPS3)
// ============================================================================

const (
	TamPalabra = 4
	TamPagina  = 4096

	// Inicio de la RAM física
	RAMBase uint32 = 0x20000000
	// Inicio del segmento de usuario (direcciones virtuales)
	KUSEG uint32 = 0x80000000

	// Páginas de usuario: 31 de texto/datos + 1 de stack
	TamTablaUsuario        = 32
	VPNBaseUsuario  uint32 = 0x80000
	VPNStackUsuario uint32 = 0xBFFFF

	UProcInicio    uint32 = 0x800000B0
	UProcStackTope uint32 = 0xC0000000
)

// Bits del registro Status
const (
	IECON   uint32 = 1 << 0
	KUCON   uint32 = 1 << 1
	IEPON   uint32 = 1 << 2
	USERPON uint32 = 1 << 3
	IEOON   uint32 = 1 << 4
	KUOON   uint32 = 1 << 5
	IMON    uint32 = 0xFF00
	TEBITON uint32 = 1 << 27

	pilaKUIE uint32 = 0x3F
)

// Códigos de excepción (Cause.ExcCode)
const (
	ExcInt  uint32 = 0
	ExcMod  uint32 = 1
	ExcTLBL uint32 = 2
	ExcTLBS uint32 = 3
	ExcAdEL uint32 = 4
	ExcAdES uint32 = 5
	ExcIBE  uint32 = 6
	ExcDBE  uint32 = 7
	ExcSys  uint32 = 8
	ExcBp   uint32 = 9
	ExcRI   uint32 = 10
	ExcCpU  uint32 = 11
	ExcOv   uint32 = 12

	causaExcBit         = 2
	causaExcMask uint32 = 0x1F << causaExcBit
	causaIPBit          = 8
)

// Líneas de interrupción, en orden de prioridad
const (
	LineaPLT       = 1
	LineaIntervalo = 2
	LineaDisco     = 3
	LineaFlash     = 4
	LineaRed       = 5
	LineaImpresora = 6
	LineaTerminal  = 7

	CantLineasDispositivo = 5 // líneas 3..7
	DispositivosPorLinea  = 8
)

// Registros de dispositivos mapeados en memoria
const (
	BitmapInterrupcionesBase uint32 = 0x10000040
	RegistrosDispositivoBase uint32 = 0x10000054
	TamRegistroDispositivo   uint32 = 0x10
	TamRegistrosLinea        uint32 = TamRegistroDispositivo * DispositivosPorLinea

	// Offsets dentro de un registro de dispositivo
	OffStatus  uint32 = 0x0
	OffCommand uint32 = 0x4
	OffData0   uint32 = 0x8
	OffData1   uint32 = 0xC

	// Offsets dentro de un registro de terminal
	OffRecvStatus    uint32 = 0x0
	OffRecvCommand   uint32 = 0x4
	OffTransmStatus  uint32 = 0x8
	OffTransmCommand uint32 = 0xC
)

// Protocolo de comandos/estado de dispositivos
const (
	CmdReset uint32 = 0
	CmdACK   uint32 = 1

	CmdLeerBloque     uint32 = 2
	CmdEscribirBloque uint32 = 3
	CmdImprimir       uint32 = 2
	CmdTransmitir     uint32 = 2
	CmdRecibir        uint32 = 2

	EstadoNoInstalado     uint32 = 0
	EstadoListo           uint32 = 1
	EstadoComandoInvalido uint32 = 2
	EstadoOcupado         uint32 = 3
	EstadoErrorES         uint32 = 4
	EstadoCaracterOK      uint32 = 5

	BitsByte                     = 8
	MascaraEstadoTerminal uint32 = 0xFF
)

// Campos de EntryHi / EntryLo
const (
	EntryHiVPNBit          = 12
	EntryHiASIDBit         = 6
	EntryHiASIDMask uint32 = 0x3F << EntryHiASIDBit

	EntryLoPFNMask uint32 = 0xFFFFF000
	DIRTYON        uint32 = 1 << 10
	VALIDON        uint32 = 1 << 9
	GLOBALON       uint32 = 1 << 8
)

// Registros de propósito general (numeración uMPS3)
const (
	RegAT = 0
	RegV0 = 1
	RegV1 = 2
	RegA0 = 3
	RegA1 = 4
	RegA2 = 5
	RegA3 = 6
	RegT9 = 24
	RegSP = 26
	RegRA = 28

	CantGPR = 29
)

// ExcCode extrae el código de excepción de un registro Cause
func ExcCode(cause uint32) uint32 {
	return (cause & causaExcMask) >> causaExcBit
}

// ConExcCode devuelve cause con el código de excepción reemplazado
func ConExcCode(cause, exc uint32) uint32 {
	return (cause &^ causaExcMask) | (exc << causaExcBit)
}

// LineasPendientes devuelve los bits IP de Cause (bit i = línea i)
func LineasPendientes(cause uint32) uint32 {
	return (cause >> causaIPBit) & 0xFF
}

// EntryHi arma un EntryHi a partir de VPN y ASID
func EntryHi(vpn uint32, asid int) uint32 {
	return vpn<<EntryHiVPNBit | (uint32(asid)<<EntryHiASIDBit)&EntryHiASIDMask
}

// VPN extrae el número de página virtual de un EntryHi
func VPN(entryHi uint32) uint32 {
	return entryHi >> EntryHiVPNBit
}

// ASID extrae el identificador de espacio de direcciones de un EntryHi
func ASID(entryHi uint32) int {
	return int((entryHi & EntryHiASIDMask) >> EntryHiASIDBit)
}

// IndicePagina traduce un VPN de usuario al índice de la tabla de páginas privada.
// Devuelve -1 si el VPN no pertenece al espacio de usuario.
func IndicePagina(vpn uint32) int {
	if vpn == VPNStackUsuario {
		return TamTablaUsuario - 1
	}
	if vpn >= VPNBaseUsuario && vpn < VPNBaseUsuario+TamTablaUsuario-1 {
		return int(vpn - VPNBaseUsuario)
	}
	return -1
}

// VPNDeIndice es la inversa de IndicePagina
func VPNDeIndice(indice int) uint32 {
	if indice == TamTablaUsuario-1 {
		return VPNStackUsuario
	}
	return VPNBaseUsuario + uint32(indice)
}

// DireccionRegistro devuelve la dirección base del registro del dispositivo (linea, nro)
func DireccionRegistro(linea, nro int) uint32 {
	return RegistrosDispositivoBase + uint32(linea-LineaDisco)*TamRegistrosLinea + uint32(nro)*TamRegistroDispositivo
}
