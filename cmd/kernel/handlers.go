package main

import (
	"fmt"

	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/kernel"
	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/memoria"
	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/utils"
)

// registrarHandlers publica el estado del sistema por el servidor de mensajes
func registrarHandlers(modulo *utils.Modulo, s *sistema) {
	modulo.RegistrarHandler(utils.MensajeHandshake, "default", HandlerHandshake)
	modulo.RegistrarHandler(utils.MensajeEstadoKernel, utils.OperacionResumen, handlerResumen(s.kernel.Monitor()))
	modulo.RegistrarHandler(utils.MensajeEstadoKernel, utils.OperacionSwap, handlerSwap(s.pager))

	utils.InfoLog.Info("Handlers registrados correctamente")
}

// HandlerHandshake responde a cualquier módulo que quiera verificar la conexión
func HandlerHandshake(msg *utils.Mensaje) (interface{}, error) {
	utils.InfoLog.Info("Handshake recibido", "origen", msg.Origen)
	return map[string]interface{}{"status": "OK", "message": "Handshake recibido", "arranque": utils.IDArranque}, nil
}

func handlerResumen(monitor *kernel.Monitor) utils.HTTPHandlerFunc {
	return func(msg *utils.Mensaje) (interface{}, error) {
		utils.InfoLog.Debug("Consulta de resumen", "origen", msg.Origen)
		return monitor.Resumen(), nil
	}
}

func handlerSwap(pager *memoria.Pager) utils.HTTPHandlerFunc {
	return func(msg *utils.Mensaje) (interface{}, error) {
		tabla := pager.Instantanea()
		if tabla == nil {
			return nil, fmt.Errorf("swap pool sin publicar")
		}
		utils.InfoLog.Debug("Consulta de swap pool", "origen", msg.Origen, "marcos", len(tabla))
		return tabla, nil
	}
}
