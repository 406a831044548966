package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/machine"
	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/tracing"
	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/utils"
)

const version = "1.0.0"

// Códigos de salida
const (
	salidaOK = iota
	salidaError
	salidaPanico
)

func main() {
	utils.InicializarLogger("INFO", "kernel")

	if len(os.Args) >= 2 && os.Args[1] == "estado" {
		os.Exit(consultarEstado(os.Args[2:]))
	}

	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Uso: %s <archivo_configuracion>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "     %s estado <ip> <puerto> [resumen|swap]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Ejemplo: %s configs/kernel.yaml\n", os.Args[0])
		os.Exit(salidaError)
	}
	os.Exit(ejecutar(os.Args[1]))
}

func ejecutar(configPath string) int {
	cfg, err := utils.CargarConfiguracion[KernelConfig](configPath)
	if err != nil {
		utils.ErrorLog.Error("Error cargando configuración", "archivo", configPath, "error", err)
		return salidaError
	}
	cfg.conDefaults()
	utils.InicializarLogger(cfg.LogLevel, "kernel")
	utils.InfoLog.Info("Kernel iniciando", "config", configPath, "procesos_usuario", cfg.ProcesosUsuario)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.ArchivoTrazas != "" {
		cerrarTrazas, err := tracing.Inicializar("pandos-kernel", version, cfg.ArchivoTrazas)
		if err != nil {
			utils.ErrorLog.Error("Error inicializando trazas", "error", err)
			return salidaError
		}
		defer func() {
			if err := cerrarTrazas(context.Background()); err != nil {
				utils.ErrorLog.Error("Error cerrando trazas", "error", err)
			}
		}()
	}

	s, err := inicializarSistema(ctx, cfg)
	if err != nil {
		utils.ErrorLog.Error("Error durante la inicialización del Kernel", "error", err)
		return salidaError
	}

	modulo := utils.NuevoModulo("Kernel")
	if cfg.PuertoKernel != 0 {
		registrarHandlers(modulo, s)
		errServidor := modulo.IniciarServidor(cfg.IPKernel, cfg.PuertoKernel)
		defer func() {
			apagado, cancelar := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelar()
			if err := modulo.DetenerServidor(apagado); err != nil {
				utils.ErrorLog.Error("Error deteniendo servidor", "error", err)
			}
		}()
		go func() {
			if err, ok := <-errServidor; ok && err != nil {
				cancel()
			}
		}()
	}

	err = s.correr(ctx)
	resumen := s.kernel.Monitor().Resumen()
	utils.InfoLog.Info("Sistema detenido",
		"tod", resumen.TOD, "despachos", resumen.Despachos, "fallos_de_pagina", s.pager.Fallos(),
		"procesos_terminados", s.nivel.Terminados())

	switch {
	case err == nil:
		if cfg.PuertoKernel != 0 {
			utils.InfoLog.Info("Servidor de estado activo hasta Ctrl+C")
			<-ctx.Done()
		}
		return salidaOK
	case errors.Is(err, machine.ErrPanico):
		utils.ErrorLog.Error("Kernel panic", "error", err)
		return salidaPanico
	case errors.Is(err, context.Canceled):
		utils.InfoLog.Info("Ctrl+C recibido. Finalizando Kernel")
		return salidaOK
	default:
		utils.ErrorLog.Error("Error de la máquina", "error", err)
		return salidaError
	}
}

// consultarEstado pide al kernel en ejecución el resumen o la tabla del swap pool
func consultarEstado(args []string) int {
	if len(args) < 2 {
		fmt.Fprintf(os.Stderr, "Uso: %s estado <ip> <puerto> [resumen|swap]\n", os.Args[0])
		return salidaError
	}
	puerto, err := strconv.Atoi(args[1])
	if err != nil {
		utils.ErrorLog.Error("El puerto debe ser un número entero", "error", err, "valor", args[1])
		return salidaError
	}
	operacion := utils.OperacionResumen
	if len(args) > 2 {
		operacion = args[2]
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cliente := utils.NewHTTPClient(args[0], puerto, "Consola")
	salud, err := cliente.VerificarConexion(ctx)
	if err != nil {
		utils.ErrorLog.Error("El kernel no responde", "error", err)
		return salidaError
	}
	utils.InfoLog.Debug("Kernel encontrado", "arranque", salud.Arranque)

	var respuesta json.RawMessage
	if err := cliente.EnviarHTTPMensaje(ctx, utils.MensajeEstadoKernel, operacion, nil, &respuesta); err != nil {
		utils.ErrorLog.Error("Error consultando al kernel", "operacion", operacion, "error", err)
		return salidaError
	}
	fmt.Println(string(respuesta))
	return salidaOK
}
