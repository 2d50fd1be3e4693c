package ports

import (
	"context"

	"github.com/alejandrodnm/shadowgate/internal/domain"
)

// EventStore persiste el log append-only de eventos del bus.
type EventStore interface {
	// Append escribe un evento y le asigna el siguiente número de secuencia.
	// Devuelve *domain.DataIntegrityError si un evento SIGNAL duplica un
	// signal_id ya registrado — nunca sobreescribe.
	Append(ctx context.Context, ev domain.Event) (int64, error)

	// Read devuelve hasta limit eventos con seq > fromSeq, en orden de secuencia.
	Read(ctx context.Context, fromSeq int64, limit int) ([]domain.Event, error)

	// LastSeq devuelve el número de secuencia más alto del log (0 si está vacío).
	LastSeq(ctx context.Context) (int64, error)

	// Close cierra la conexión a la base de datos limpiamente.
	Close() error
}

// StateStore tracks the current lifecycle state of every signal.
type StateStore interface {
	// SignalState returns the current state for a signal, or StateGenerated
	// with found=false when the signal is unknown.
	SignalState(ctx context.Context, signalID string) (state domain.SignalState, found bool, err error)

	// SetSignalState records the new state. Legality of the edge is the
	// caller's responsibility (domain.Transition).
	SetSignalState(ctx context.Context, signalID string, state domain.SignalState) error

	// ActiveSignals returns every signal not yet in a terminal state,
	// for TTL expiry sweeps and restart recovery.
	ActiveSignals(ctx context.Context) ([]domain.Signal, error)
}
