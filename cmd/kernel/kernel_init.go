package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/viant/afs"

	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/kernel"
	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/machine"
	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/memoria"
	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/soporte"
	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/utils"
)

// KernelConfig define la configuración del sistema completo: hardware, kernel y soporte
type KernelConfig struct {
	LogLevel     string `json:"LOG_LEVEL" yaml:"LOG_LEVEL"`
	IPKernel     string `json:"IP_KERNEL" yaml:"IP_KERNEL"`
	PuertoKernel int    `json:"PUERTO_KERNEL" yaml:"PUERTO_KERNEL"`

	MaxProc     int    `json:"MAX_PROC" yaml:"MAX_PROC"`
	PIDMin      int    `json:"PID_MIN" yaml:"PID_MIN"`
	PIDMax      int    `json:"PID_MAX" yaml:"PID_MAX"`
	Quantum     uint32 `json:"QUANTUM" yaml:"QUANTUM"`
	PseudoReloj uint32 `json:"PSEUDO_RELOJ" yaml:"PSEUDO_RELOJ"`

	EntradasTLB      int    `json:"ENTRADAS_TLB" yaml:"ENTRADAS_TLB"`
	MarcosRAM        int    `json:"MARCOS_KERNEL" yaml:"MARCOS_KERNEL"`
	TamSwapPool      int    `json:"TAM_SWAP_POOL" yaml:"TAM_SWAP_POOL"`
	BloquesFlash     int    `json:"BLOQUES_FLASH" yaml:"BLOQUES_FLASH"`
	RetardoFlash     uint64 `json:"RETARDO_FLASH" yaml:"RETARDO_FLASH"`
	RetardoImpresora uint64 `json:"RETARDO_IMPRESORA" yaml:"RETARDO_IMPRESORA"`
	RetardoTerminal  uint64 `json:"RETARDO_TERMINAL" yaml:"RETARDO_TERMINAL"`

	ProcesosUsuario int      `json:"PROCESOS_USUARIO" yaml:"PROCESOS_USUARIO"`
	CargasUsuario   []string `json:"CARGAS_USUARIO" yaml:"CARGAS_USUARIO"`
	FlashURL        string   `json:"FLASH_URL" yaml:"FLASH_URL"`
	ArchivoTrazas   string   `json:"ARCHIVO_TRAZAS" yaml:"ARCHIVO_TRAZAS"`
	EntradaTerminal string   `json:"ENTRADA_TERMINAL" yaml:"ENTRADA_TERMINAL"`
}

func (c *KernelConfig) conDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "INFO"
	}
	if c.IPKernel == "" {
		c.IPKernel = "127.0.0.1"
	}
	if c.EntradasTLB == 0 {
		c.EntradasTLB = 16
	}
	if c.MarcosRAM == 0 {
		c.MarcosRAM = 64
	}
	if c.TamSwapPool == 0 {
		c.TamSwapPool = 2 * soporte.MaxProcesos
	}
	if c.BloquesFlash == 0 {
		c.BloquesFlash = machine.TamTablaUsuario
	}
	if c.RetardoFlash == 0 {
		c.RetardoFlash = 100
	}
	if c.RetardoImpresora == 0 {
		c.RetardoImpresora = 20
	}
	if c.RetardoTerminal == 0 {
		c.RetardoTerminal = 20
	}
	if c.ProcesosUsuario == 0 {
		c.ProcesosUsuario = soporte.MaxProcesos
	}
	if c.FlashURL == "" {
		c.FlashURL = "mem://localhost/pandos"
	}
}

// sistema es todo lo que arma el binario para una corrida
type sistema struct {
	cfg      *KernelConfig
	maquina  *machine.Maquina
	kernel   *kernel.Kernel
	pager    *memoria.Pager
	nivel    *soporte.Nivel
	imagenes *memoria.ImagenesFlash
}

// inicializarSistema arma el hardware, el kernel, el pager y el nivel de soporte
func inicializarSistema(ctx context.Context, cfg *KernelConfig) (*sistema, error) {
	m := machine.Nueva(machine.Config{Marcos: cfg.MarcosRAM, EntradasTLB: cfg.EntradasTLB})

	entrada, err := leerEntradaTerminal(cfg.EntradaTerminal)
	if err != nil {
		return nil, err
	}
	for nro := 0; nro < cfg.ProcesosUsuario; nro++ {
		var recepcion io.Reader
		if entrada != "" {
			recepcion = strings.NewReader(entrada)
		}
		m.InstalarTerminal(nro, recepcion, nuevaSalida("terminal", nro), cfg.RetardoTerminal)
		m.InstalarImpresora(nro, nuevaSalida("impresora", nro), cfg.RetardoImpresora)
	}

	imagenes := memoria.NuevasImagenesFlash(afs.New(), cfg.FlashURL)
	if err := imagenes.Cargar(ctx, m, cfg.ProcesosUsuario, cfg.BloquesFlash, cfg.RetardoFlash); err != nil {
		return nil, fmt.Errorf("error cargando flash: %w", err)
	}

	k, err := kernel.Nuevo(m, kernel.Config{
		MaxProc:     cfg.MaxProc,
		PIDMin:      cfg.PIDMin,
		PIDMax:      cfg.PIDMax,
		Quantum:     cfg.Quantum,
		PseudoReloj: cfg.PseudoReloj,
	})
	if err != nil {
		return nil, fmt.Errorf("error creando kernel: %w", err)
	}

	p, err := memoria.Nuevo(m, k, cfg.TamSwapPool)
	if err != nil {
		return nil, fmt.Errorf("error creando pager: %w", err)
	}
	k.InstalarRefill(p.Refill)
	k.InstalarOcupacionSwap(p.Ocupados)

	nivel, err := soporte.Nuevo(m, k, p, soporte.Config{Procesos: cfg.ProcesosUsuario, Cargas: cfg.CargasUsuario})
	if err != nil {
		return nil, fmt.Errorf("error preparando nivel de soporte: %w", err)
	}

	return &sistema{cfg: cfg, maquina: m, kernel: k, pager: p, nivel: nivel, imagenes: imagenes}, nil
}

// correr arranca el kernel con el instanciador y, al detenerse, guarda las flash
func (s *sistema) correr(ctx context.Context) error {
	errEjecucion := s.kernel.Iniciar(ctx, s.nivel.Instanciador())

	if err := s.imagenes.Volcar(context.WithoutCancel(ctx), s.maquina, s.cfg.ProcesosUsuario); err != nil {
		utils.ErrorLog.Error("Error guardando imágenes de flash", "error", err)
	}
	return errEjecucion
}

func leerEntradaTerminal(ruta string) (string, error) {
	if ruta == "" {
		return "", nil
	}
	datos, err := os.ReadFile(ruta)
	if err != nil {
		return "", fmt.Errorf("error leyendo entrada de terminal: %w", err)
	}
	return string(datos), nil
}
