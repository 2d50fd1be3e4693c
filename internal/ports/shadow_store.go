package ports

import (
	"context"

	"github.com/alejandrodnm/shadowgate/internal/domain"
)

// ShadowStore persiste las posiciones simuladas, una por signal_id.
// El shadow engine es el único escritor de cada fila.
type ShadowStore interface {
	// SaveShadowPosition inserta la posición. Falla con
	// *domain.DataIntegrityError si ya existe una para el mismo signal_id.
	SaveShadowPosition(ctx context.Context, pos domain.ShadowPosition) error

	// UpdateShadowPosition reescribe la fila completa (cierre, last price).
	UpdateShadowPosition(ctx context.Context, pos domain.ShadowPosition) error

	// OpenShadowPositions devuelve todas las posiciones aún abiertas,
	// usado al arrancar para retomar la simulación.
	OpenShadowPositions(ctx context.Context) ([]domain.ShadowPosition, error)

	// ShadowPosition devuelve la posición de un signal_id, si existe.
	ShadowPosition(ctx context.Context, signalID string) (domain.ShadowPosition, bool, error)
}
