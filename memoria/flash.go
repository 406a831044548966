package memoria

import (
	"context"
	"fmt"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"

	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/kernel"
	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/machine"
	"github.com/sisoputnfrba/tp-pandos-LosCuervosXeneizes/utils"
)

// NroFlash devuelve el dispositivo flash que respalda las páginas de asid
func NroFlash(asid int) int {
	return asid - 1
}

// operacionFlash copia el marco desde o hacia el bloque de la flash de asid.
// data0 y el comando se escriben con interrupciones apagadas.
func (p *Pager) operacionFlash(cpu *machine.CPU, asid, bloque int, marco, cmd uint32) error {
	reg := machine.DireccionRegistro(machine.LineaFlash, NroFlash(asid))

	var estado uint32
	p.atomico(cpu, func() {
		cpu.Store(reg+machine.OffData0, marco)
		estado = cpu.Syscall(kernel.SysDoIO, reg+machine.OffCommand, uint32(bloque)<<machine.BitsByte|cmd, 0)
	})

	if estado != machine.EstadoListo {
		return fmt.Errorf("flash %d bloque %d: estado %d", NroFlash(asid), bloque, estado)
	}
	return nil
}

// ImagenesFlash persiste el contenido de las flash de los procesos de usuario en un
// almacenamiento afs, un archivo por dispositivo
type ImagenesFlash struct {
	fs   afs.Service
	base string
}

// NuevasImagenesFlash usa base como directorio (file://, mem://, ...). Una ruta sin
// esquema se toma como directorio local.
func NuevasImagenesFlash(fs afs.Service, base string) *ImagenesFlash {
	base = url.Normalize(base, file.Scheme)
	return &ImagenesFlash{fs: fs, base: strings.TrimSuffix(base, "/")}
}

// URL devuelve la ubicación de la imagen de la flash nro
func (f *ImagenesFlash) URL(nro int) string {
	return fmt.Sprintf("%s/flash%d.img", f.base, nro)
}

// Cargar instala una flash por proceso de usuario con su imagen, si existe
func (f *ImagenesFlash) Cargar(ctx context.Context, m *machine.Maquina, procesos, bloques int, latencia uint64) error {
	existe, _ := f.fs.Exists(ctx, f.base)
	if !existe {
		if err := f.fs.Create(ctx, f.base, file.DefaultDirOsMode, true); err != nil {
			return fmt.Errorf("error creando directorio de flash %s: %w", f.base, err)
		}
	}

	for asid := 1; asid <= procesos; asid++ {
		d := m.InstalarFlash(NroFlash(asid), bloques, latencia)
		if err := d.CargarImagen(ctx, f.fs, f.URL(NroFlash(asid))); err != nil {
			return err
		}
	}
	utils.InfoLog.Info("Flash de procesos de usuario listas", "cantidad", procesos, "base", f.base)
	return nil
}

// Volcar guarda las imágenes de todas las flash instaladas
func (f *ImagenesFlash) Volcar(ctx context.Context, m *machine.Maquina, procesos int) error {
	for asid := 1; asid <= procesos; asid++ {
		d := m.Flash(NroFlash(asid))
		if d == nil {
			continue
		}
		if err := d.VolcarImagen(ctx, f.fs, f.URL(NroFlash(asid))); err != nil {
			return err
		}
	}
	return nil
}
