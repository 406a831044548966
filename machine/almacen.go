package machine

import (
	"bytes"
	"context"
	"fmt"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
)

// CargarImagen llena los bloques del dispositivo con la imagen guardada en url.
// Si la imagen no existe el dispositivo queda en cero; si es más corta, el resto también.
func (d *DispositivoBloques) CargarImagen(ctx context.Context, fs afs.Service, url string) error {
	existe, err := fs.Exists(ctx, url)
	if err != nil {
		return fmt.Errorf("error al verificar imagen %s: %w", url, err)
	}
	if !existe {
		return nil
	}

	datos, err := fs.DownloadWithURL(ctx, url)
	if err != nil {
		return fmt.Errorf("error al leer imagen %s: %w", url, err)
	}
	if len(datos) > len(d.Bloques)*TamPagina {
		return fmt.Errorf("imagen %s de %d bytes no entra en %d bloques", url, len(datos), len(d.Bloques))
	}

	for i, bloque := range d.Bloques {
		clear(bloque)
		inicio := i * TamPagina
		if inicio < len(datos) {
			copy(bloque, datos[inicio:])
		}
	}
	return nil
}

// VolcarImagen guarda el contenido completo del dispositivo en url
func (d *DispositivoBloques) VolcarImagen(ctx context.Context, fs afs.Service, url string) error {
	var buf bytes.Buffer
	buf.Grow(len(d.Bloques) * TamPagina)
	for _, bloque := range d.Bloques {
		buf.Write(bloque)
	}

	if err := fs.Upload(ctx, url, file.DefaultFileOsMode, &buf); err != nil {
		return fmt.Errorf("error al guardar imagen %s: %w", url, err)
	}
	return nil
}
