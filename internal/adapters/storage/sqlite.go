package storage

// sqlite.go — persistencia de todo el estado durable en un único archivo SQLite.
//
// Estrategia:
//   - `events`: log append-only, una fila por evento del bus. El seq es el
//     AUTOINCREMENT de SQLite — monotónico y estable tras reinicios.
//   - `signals`: proyección del estado actual de cada señal (para el TTL
//     watchdog y recovery), alimentada por el mismo Append.
//   - `weights`: una fila por versión publicada, nunca UPDATE. La versión
//     vigente es MAX(version).
//   - `shadow_positions`: una fila por signal_id, un solo escritor.
//   - Prune automático al arrancar: eventos y posiciones cerradas > 30d.

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/alejandrodnm/shadowgate/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
-- Log append-only de eventos del bus
CREATE TABLE IF NOT EXISTS events (
    seq         INTEGER PRIMARY KEY AUTOINCREMENT,
    signal_id   TEXT NOT NULL,
    kind        TEXT NOT NULL,
    recorded_at DATETIME NOT NULL,
    payload     TEXT NOT NULL
);

-- Un signal_id solo puede generarse una vez, y decidirse una vez
CREATE UNIQUE INDEX IF NOT EXISTS idx_events_signal_once
    ON events(signal_id) WHERE kind = 'SIGNAL';
CREATE UNIQUE INDEX IF NOT EXISTS idx_events_decision_once
    ON events(signal_id) WHERE kind = 'DECISION';
CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind, seq);

-- Proyección del estado actual por señal
CREATE TABLE IF NOT EXISTS signals (
    signal_id    TEXT PRIMARY KEY,
    symbol       TEXT NOT NULL,
    direction    TEXT NOT NULL,
    scores       TEXT NOT NULL,
    generated_at DATETIME NOT NULL,
    ttl_ms       INTEGER NOT NULL,
    state        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signals_state ON signals(state);

-- Historial versionado de pesos; la fila con MAX(version) es la vigente
CREATE TABLE IF NOT EXISTS weights (
    version    INTEGER PRIMARY KEY,
    weights    TEXT NOT NULL,
    updated_at DATETIME NOT NULL
);

-- Una posición simulada por señal
CREATE TABLE IF NOT EXISTS shadow_positions (
    signal_id     TEXT PRIMARY KEY,
    symbol        TEXT NOT NULL,
    direction     TEXT NOT NULL,
    entry_price   REAL NOT NULL,
    entry_time    DATETIME NOT NULL,
    status        TEXT NOT NULL,
    exit_price    REAL NOT NULL DEFAULT 0,
    exit_time     DATETIME,
    exit_reason   INTEGER NOT NULL DEFAULT 0,
    pnl           REAL NOT NULL DEFAULT 0,
    last_price    REAL NOT NULL DEFAULT 0,
    last_price_at DATETIME,
    max_hold_ms   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_shadow_status ON shadow_positions(status);

-- Último seq consumido por cada componente (sobrevive reinicios)
CREATE TABLE IF NOT EXISTS cursors (
    name TEXT PRIMARY KEY,
    seq  INTEGER NOT NULL
);

-- Resumen diario de actividad del gate
CREATE TABLE IF NOT EXISTS dailies (
    day            TEXT PRIMARY KEY,
    signals        INTEGER NOT NULL DEFAULT 0,
    approved       INTEGER NOT NULL DEFAULT 0,
    blocked        INTEGER NOT NULL DEFAULT 0,
    shadow_closed  INTEGER NOT NULL DEFAULT 0,
    shadow_pnl     REAL NOT NULL DEFAULT 0,
    real_pnl       REAL NOT NULL DEFAULT 0,
    integrity_hits INTEGER NOT NULL DEFAULT 0
);
`

const (
	retentionEvents = 30 * 24 * time.Hour
	retentionShadow = 30 * 24 * time.Hour
)

// SQLiteStore implementa ports.EventStore, StateStore, WeightStore,
// ShadowStore, CursorStore y SummaryStore sobre un único archivo SQLite
// (pure Go, sin CGo).
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex // serializa Append; SQLite es single-writer de todos modos
}

// NewSQLiteStore abre (o crea) la base de datos en la ruta dada, aplica el
// schema y limpia datos antiguos.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStore: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStore: apply schema: %w", err)
	}

	s := &SQLiteStore{db: db}
	s.pruneOld(context.Background())
	return s, nil
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- ports.EventStore ---

// Append writes one event and assigns its sequence number. SIGNAL events also
// create the signal projection row; a duplicate signal_id or decision is
// rejected with *domain.DataIntegrityError instead of overwriting.
func (s *SQLiteStore) Append(ctx context.Context, ev domain.Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := marshalPayload(ev)
	if err != nil {
		return 0, fmt.Errorf("storage.Append: encode payload: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &domain.TransientIOError{Op: "append begin tx", Err: err}
	}
	defer tx.Rollback()

	if ev.Kind == domain.EventSignal || ev.Kind == domain.EventDecision {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM events WHERE signal_id = ? AND kind = ?`,
			ev.SignalID, string(ev.Kind),
		).Scan(&exists)
		if err != nil {
			return 0, &domain.TransientIOError{Op: "append dup check", Err: err}
		}
		if exists > 0 {
			return 0, &domain.DataIntegrityError{
				SignalID: ev.SignalID,
				Op:       "append",
				Detail:   fmt.Sprintf("duplicate %s event", ev.Kind),
			}
		}
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (signal_id, kind, recorded_at, payload) VALUES (?, ?, ?, ?)`,
		ev.SignalID, string(ev.Kind), ev.RecordedAt.UTC(), payload,
	)
	if err != nil {
		return 0, &domain.TransientIOError{Op: "append insert", Err: err}
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, &domain.TransientIOError{Op: "append last id", Err: err}
	}

	if ev.Kind == domain.EventSignal && ev.Signal != nil {
		scores, err := json.Marshal(ev.Signal.ComponentScores)
		if err != nil {
			return 0, fmt.Errorf("storage.Append: encode scores: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO signals (signal_id, symbol, direction, scores, generated_at, ttl_ms, state)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ev.Signal.SignalID,
			ev.Signal.Symbol,
			string(ev.Signal.Direction),
			string(scores),
			ev.Signal.GeneratedAt.UTC(),
			ev.Signal.TTL.Milliseconds(),
			string(domain.StateGenerated),
		); err != nil {
			return 0, &domain.TransientIOError{Op: "append signal projection", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, &domain.TransientIOError{Op: "append commit", Err: err}
	}
	return seq, nil
}

// Read devuelve hasta limit eventos con seq > fromSeq.
func (s *SQLiteStore) Read(ctx context.Context, fromSeq int64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, signal_id, kind, recorded_at, payload
		FROM events WHERE seq > ? ORDER BY seq ASC LIMIT ?`,
		fromSeq, limit,
	)
	if err != nil {
		return nil, &domain.TransientIOError{Op: "read events", Err: err}
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var (
			ev      domain.Event
			kind    string
			at      time.Time
			payload string
		)
		if err := rows.Scan(&ev.Seq, &ev.SignalID, &kind, &at, &payload); err != nil {
			return nil, &domain.TransientIOError{Op: "scan event", Err: err}
		}
		ev.Kind = domain.EventKind(kind)
		ev.RecordedAt = at.UTC()
		if err := unmarshalPayload(&ev, payload); err != nil {
			return nil, fmt.Errorf("storage.Read: decode event %d: %w", ev.Seq, err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// LastSeq devuelve el seq más alto del log, 0 si está vacío.
func (s *SQLiteStore) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM events`).Scan(&seq)
	if err != nil {
		return 0, &domain.TransientIOError{Op: "last seq", Err: err}
	}
	return seq.Int64, nil
}

// --- ports.StateStore ---

// SignalState returns the projected state of a signal.
func (s *SQLiteStore) SignalState(ctx context.Context, signalID string) (domain.SignalState, bool, error) {
	var state string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM signals WHERE signal_id = ?`, signalID,
	).Scan(&state)
	if err == sql.ErrNoRows {
		return domain.StateGenerated, false, nil
	}
	if err != nil {
		return "", false, &domain.TransientIOError{Op: "signal state", Err: err}
	}
	return domain.SignalState(state), true, nil
}

// SetSignalState records the new projected state. The caller has already
// validated the edge with domain.Transition.
func (s *SQLiteStore) SetSignalState(ctx context.Context, signalID string, state domain.SignalState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE signals SET state = ? WHERE signal_id = ?`,
		string(state), signalID,
	)
	if err != nil {
		return &domain.TransientIOError{Op: "set signal state", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.DataIntegrityError{SignalID: signalID, Op: "set state", Detail: "unknown signal"}
	}
	return nil
}

// ActiveSignals returns every signal not yet in a terminal state.
func (s *SQLiteStore) ActiveSignals(ctx context.Context) ([]domain.Signal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT signal_id, symbol, direction, scores, generated_at, ttl_ms
		FROM signals WHERE state NOT IN (?, ?)`,
		string(domain.StateLearned), string(domain.StateExpired),
	)
	if err != nil {
		return nil, &domain.TransientIOError{Op: "active signals", Err: err}
	}
	defer rows.Close()

	var signals []domain.Signal
	for rows.Next() {
		var (
			sig    domain.Signal
			dir    string
			scores string
			at     time.Time
			ttlMs  int64
		)
		if err := rows.Scan(&sig.SignalID, &sig.Symbol, &dir, &scores, &at, &ttlMs); err != nil {
			return nil, &domain.TransientIOError{Op: "scan signal", Err: err}
		}
		sig.Direction = domain.Direction(dir)
		sig.GeneratedAt = at.UTC()
		sig.TTL = time.Duration(ttlMs) * time.Millisecond
		if err := json.Unmarshal([]byte(scores), &sig.ComponentScores); err != nil {
			return nil, fmt.Errorf("storage.ActiveSignals: decode scores for %s: %w", sig.SignalID, err)
		}
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

// --- ports.CursorStore ---

// Cursor devuelve el último seq consumido por el componente (0 si nunca).
func (s *SQLiteStore) Cursor(ctx context.Context, name string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT seq FROM cursors WHERE name = ?`, name,
	).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, &domain.TransientIOError{Op: "cursor", Err: err}
	}
	return seq, nil
}

// SetCursor guarda el seq consumido; upsert idempotente.
func (s *SQLiteStore) SetCursor(ctx context.Context, name string, seq int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cursors (name, seq) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET seq = excluded.seq`,
		name, seq,
	)
	if err != nil {
		return &domain.TransientIOError{Op: "set cursor", Err: err}
	}
	return nil
}

// --- ports.WeightStore ---

// CurrentWeights devuelve la versión más alta publicada.
func (s *SQLiteStore) CurrentWeights(ctx context.Context) (domain.WeightSet, error) {
	var (
		ws      domain.WeightSet
		weights string
		at      time.Time
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT version, weights, updated_at FROM weights ORDER BY version DESC LIMIT 1`,
	).Scan(&ws.Version, &weights, &at)
	if err == sql.ErrNoRows {
		return domain.WeightSet{}, sql.ErrNoRows
	}
	if err != nil {
		return domain.WeightSet{}, &domain.TransientIOError{Op: "current weights", Err: err}
	}
	ws.UpdatedAt = at.UTC()
	if err := json.Unmarshal([]byte(weights), &ws.Weights); err != nil {
		return domain.WeightSet{}, fmt.Errorf("storage.CurrentWeights: decode v%d: %w", ws.Version, err)
	}
	return ws, nil
}

// PublishWeights inserta una versión nueva completa. La PRIMARY KEY en
// version rechaza versiones repetidas; versiones menores se rechazan aquí.
func (s *SQLiteStore) PublishWeights(ctx context.Context, ws domain.WeightSet) error {
	current, err := s.CurrentWeights(ctx)
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	if err == nil && ws.Version <= current.Version {
		return &domain.DataIntegrityError{
			Op:     "publish weights",
			Detail: fmt.Sprintf("version %d does not increase current %d", ws.Version, current.Version),
		}
	}

	weights, err := json.Marshal(ws.Weights)
	if err != nil {
		return fmt.Errorf("storage.PublishWeights: encode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO weights (version, weights, updated_at) VALUES (?, ?, ?)`,
		ws.Version, string(weights), ws.UpdatedAt.UTC(),
	); err != nil {
		return &domain.TransientIOError{Op: "publish weights", Err: err}
	}
	return nil
}

// --- ports.ShadowStore ---

// SaveShadowPosition inserta la posición; duplicados son un error de integridad.
func (s *SQLiteStore) SaveShadowPosition(ctx context.Context, pos domain.ShadowPosition) error {
	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM shadow_positions WHERE signal_id = ?`, pos.SignalID,
	).Scan(&exists); err != nil {
		return &domain.TransientIOError{Op: "shadow dup check", Err: err}
	}
	if exists > 0 {
		return &domain.DataIntegrityError{SignalID: pos.SignalID, Op: "save shadow", Detail: "position already exists"}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shadow_positions
			(signal_id, symbol, direction, entry_price, entry_time, status,
			 exit_price, exit_time, exit_reason, pnl, last_price, last_price_at, max_hold_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pos.SignalID, pos.Symbol, string(pos.Direction),
		pos.EntryPrice, pos.EntryTime.UTC(), string(pos.Status),
		pos.ExitPrice, nullTime(pos.ExitTime), int(pos.ExitReason), pos.PnL,
		pos.LastPrice, nullTime(pos.LastPriceAt), pos.MaxHold.Milliseconds(),
	)
	if err != nil {
		return &domain.TransientIOError{Op: "save shadow", Err: err}
	}
	return nil
}

// UpdateShadowPosition reescribe la fila completa de la posición.
func (s *SQLiteStore) UpdateShadowPosition(ctx context.Context, pos domain.ShadowPosition) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE shadow_positions SET
			entry_price = ?, entry_time = ?, status = ?,
			exit_price = ?, exit_time = ?, exit_reason = ?, pnl = ?,
			last_price = ?, last_price_at = ?
		WHERE signal_id = ?`,
		pos.EntryPrice, pos.EntryTime.UTC(), string(pos.Status),
		pos.ExitPrice, nullTime(pos.ExitTime), int(pos.ExitReason), pos.PnL,
		pos.LastPrice, nullTime(pos.LastPriceAt),
		pos.SignalID,
	)
	if err != nil {
		return &domain.TransientIOError{Op: "update shadow", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.DataIntegrityError{SignalID: pos.SignalID, Op: "update shadow", Detail: "unknown position"}
	}
	return nil
}

// OpenShadowPositions devuelve las posiciones aún abiertas.
func (s *SQLiteStore) OpenShadowPositions(ctx context.Context) ([]domain.ShadowPosition, error) {
	rows, err := s.db.QueryContext(ctx,
		selectShadow+` WHERE status = ?`, string(domain.ShadowStatusOpen),
	)
	if err != nil {
		return nil, &domain.TransientIOError{Op: "open shadows", Err: err}
	}
	defer rows.Close()

	var positions []domain.ShadowPosition
	for rows.Next() {
		pos, err := scanShadow(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

// ShadowPosition devuelve la posición de un signal_id.
func (s *SQLiteStore) ShadowPosition(ctx context.Context, signalID string) (domain.ShadowPosition, bool, error) {
	rows, err := s.db.QueryContext(ctx, selectShadow+` WHERE signal_id = ?`, signalID)
	if err != nil {
		return domain.ShadowPosition{}, false, &domain.TransientIOError{Op: "get shadow", Err: err}
	}
	defer rows.Close()

	if !rows.Next() {
		return domain.ShadowPosition{}, false, rows.Err()
	}
	pos, err := scanShadow(rows)
	if err != nil {
		return domain.ShadowPosition{}, false, err
	}
	return pos, true, nil
}

// --- ports.SummaryStore ---

/// SaveDailySummary hace upsert del resumen del día (clave: fecha UTC).
func (s *SQLiteStore) SaveDailySummary(ctx context.Context, d domain.DailySummary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dailies (day, signals, approved, blocked, shadow_closed, shadow_pnl, real_pnl, integrity_hits)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(day) DO UPDATE SET
			signals = excluded.signals,
			approved = excluded.approved,
			blocked = excluded.blocked,
			shadow_closed = excluded.shadow_closed,
			shadow_pnl = excluded.shadow_pnl,
			real_pnl = excluded.real_pnl,
			integrity_hits = excluded.integrity_hits`,
		d.Date.UTC().Format("2006-01-02"),
		d.Signals, d.Approved, d.Blocked, d.ShadowClosed, d.ShadowPnL, d.RealPnL, d.IntegrityHits,
	)
	if err != nil {
		return &domain.TransientIOError{Op: "save daily", Err: err}
	}
	return nil
}

// DailySummaries devuelve todos los resúmenes, más recientes primero.
func (s *SQLiteStore) DailySummaries(ctx context.Context) ([]domain.DailySummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT day, signals, approved, blocked, shadow_closed, shadow_pnl, real_pnl, integrity_hits
		FROM dailies ORDER BY day DESC`,
	)
	if err != nil {
		return nil, &domain.TransientIOError{Op: "dailies", Err: err}
	}
	defer rows.Close()

	var out []domain.DailySummary
	for rows.Next() {
		var (
			d   domain.DailySummary
			day string
		)
		if err := rows.Scan(&day, &d.Signals, &d.Approved, &d.Blocked,
			&d.ShadowClosed, &d.ShadowPnL, &d.RealPnL, &d.IntegrityHits); err != nil {
			return nil, &domain.TransientIOError{Op: "scan daily", Err: err}
		}
		d.Date, _ = time.Parse("2006-01-02", day)
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- helpers internos ---

const selectShadow = `
	SELECT signal_id, symbol, direction, entry_price, entry_time, status,
	       exit_price, exit_time, exit_reason, pnl, last_price, last_price_at, max_hold_ms
	FROM shadow_positions`

func scanShadow(rows *sql.Rows) (domain.ShadowPosition, error) {
	var (
		pos         domain.ShadowPosition
		dir, status string
		entryTime   time.Time
		exitTime    sql.NullTime
		lastAt      sql.NullTime
		reason      int
		maxHoldMs   int64
	)
	if err := rows.Scan(&pos.SignalID, &pos.Symbol, &dir, &pos.EntryPrice, &entryTime, &status,
		&pos.ExitPrice, &exitTime, &reason, &pos.PnL, &pos.LastPrice, &lastAt, &maxHoldMs); err != nil {
		return domain.ShadowPosition{}, &domain.TransientIOError{Op: "scan shadow", Err: err}
	}
	pos.Direction = domain.Direction(dir)
	pos.Status = domain.ShadowStatus(status)
	pos.EntryTime = entryTime.UTC()
	pos.ExitReason = domain.ExitReason(reason)
	pos.MaxHold = time.Duration(maxHoldMs) * time.Millisecond
	if exitTime.Valid {
		pos.ExitTime = exitTime.Time.UTC()
	}
	if lastAt.Valid {
		pos.LastPriceAt = lastAt.Time.UTC()
	}
	return pos, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

// eventPayload es el sobre JSON que guarda el payload tipado de cada evento.
type eventPayload struct {
	Signal    *domain.Signal        `json:"signal,omitempty"`
	Decision  *domain.DecisionEvent `json:"decision,omitempty"`
	Outcome   *domain.TradeOutcome  `json:"outcome,omitempty"`
	Integrity *domain.IntegrityFlag `json:"integrity,omitempty"`
}

func marshalPayload(ev domain.Event) (string, error) {
	data, err := json.Marshal(eventPayload{
		Signal:    ev.Signal,
		Decision:  ev.Decision,
		Outcome:   ev.Outcome,
		Integrity: ev.Integrity,
	})
	return string(data), err
}

func unmarshalPayload(ev *domain.Event, payload string) error {
	var p eventPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return err
	}
	ev.Signal = p.Signal
	ev.Decision = p.Decision
	ev.Outcome = p.Outcome
	ev.Integrity = p.Integrity
	return nil
}

// pruneOld elimina datos antiguos para mantener la DB ligera.
func (s *SQLiteStore) pruneOld(ctx context.Context) {
	cutoffEvents := time.Now().UTC().Add(-retentionEvents)
	cutoffShadow := time.Now().UTC().Add(-retentionShadow)
	s.db.ExecContext(ctx, `DELETE FROM events WHERE recorded_at < ?`, cutoffEvents)
	s.db.ExecContext(ctx, `
		DELETE FROM shadow_positions
		WHERE status != ? AND exit_time IS NOT NULL AND exit_time < ?`,
		string(domain.ShadowStatusOpen), cutoffShadow)
}
