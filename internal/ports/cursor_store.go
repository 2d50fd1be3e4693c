package ports

import "context"

// CursorStore persiste el último número de secuencia consumido por cada
// componente, para que un reinicio no vuelva a procesar el log entero.
type CursorStore interface {
	// Cursor devuelve el seq guardado para el nombre dado, 0 si nunca se
	// guardó ninguno.
	Cursor(ctx context.Context, name string) (int64, error)

	// SetCursor guarda el seq consumido. Idempotente.
	SetCursor(ctx context.Context, name string, seq int64) error
}
