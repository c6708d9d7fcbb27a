package infra

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgConn é o mínimo do pgxpool.Pool que o store usa.
type PgConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var tableNameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresCounterStore guarda as janelas numa tabela.
//
// O upsert (INSERT ... ON CONFLICT DO UPDATE) trava a linha da chave, então
// rollover + incremento acontecem atomicamente sem lock de tabela.
// Tempos são guardados em ms desde a epoch.
type PostgresCounterStore struct {
	db    PgConn
	table string

	incrementSQL string
	peekSQL      string
	cleanupSQL   string
}

type PostgresStoreOption func(*PostgresCounterStore)

func WithPostgresTable(name string) PostgresStoreOption {
	return func(s *PostgresCounterStore) { s.table = name }
}

func NewPostgresCounterStore(db PgConn, opts ...PostgresStoreOption) (*PostgresCounterStore, error) {
	s := &PostgresCounterStore{db: db, table: "rate_limit_windows"}
	for _, opt := range opts {
		opt(s)
	}
	if !tableNameRe.MatchString(s.table) {
		return nil, fmt.Errorf("%w: invalid postgres table name %q", domain.ErrInvalidConfiguration, s.table)
	}

	// $1 key, $2 now (ms), $3 window (ms)
	s.incrementSQL = fmt.Sprintf(`
INSERT INTO %[1]s AS w (key, start_ms, count, prev_start_ms, prev_count, window_ms)
VALUES ($1, $2, 1, 0, 0, $3)
ON CONFLICT (key) DO UPDATE SET
	prev_start_ms = CASE
		WHEN w.count > 0 AND $2 - w.start_ms < $3 THEN w.prev_start_ms
		WHEN w.count > 0 AND w.start_ms + 2 * $3 > $2 THEN w.start_ms
		ELSE 0 END,
	prev_count = CASE
		WHEN w.count > 0 AND $2 - w.start_ms < $3 THEN w.prev_count
		WHEN w.count > 0 AND w.start_ms + 2 * $3 > $2 THEN w.count
		ELSE 0 END,
	start_ms = CASE WHEN w.count > 0 AND $2 - w.start_ms < $3 THEN w.start_ms ELSE $2 END,
	count = CASE WHEN w.count > 0 AND $2 - w.start_ms < $3 THEN w.count + 1 ELSE 1 END,
	window_ms = $3
RETURNING start_ms, count, prev_start_ms, prev_count`, s.table)

	s.peekSQL = fmt.Sprintf(`SELECT start_ms, count, prev_start_ms, prev_count FROM %s WHERE key = $1`, s.table)
	s.cleanupSQL = fmt.Sprintf(`DELETE FROM %s WHERE start_ms + 2 * window_ms <= $1`, s.table)
	return s, nil
}

// EnsureSchema cria a tabela se ainda não existir.
func (s *PostgresCounterStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	key           TEXT PRIMARY KEY,
	start_ms      BIGINT NOT NULL,
	count         BIGINT NOT NULL,
	prev_start_ms BIGINT NOT NULL DEFAULT 0,
	prev_count    BIGINT NOT NULL DEFAULT 0,
	window_ms     BIGINT NOT NULL
)`, s.table))
	if err != nil {
		return fmt.Errorf("%w: postgres schema: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Increment implementa domain.CounterStore.
func (s *PostgresCounterStore) Increment(ctx context.Context, key string, window time.Duration, now time.Time) (domain.WindowState, error) {
	var start, count, prevStart, prevCount int64
	err := s.db.QueryRow(ctx, s.incrementSQL, key, now.UnixMilli(), windowMillis(window)).
		Scan(&start, &count, &prevStart, &prevCount)
	if err != nil {
		return domain.WindowState{}, fmt.Errorf("%w: postgres increment: %w", domain.ErrStoreUnavailable, err)
	}
	return rowState(start, count, prevStart, prevCount, window), nil
}

// Peek implementa domain.CounterStore.
func (s *PostgresCounterStore) Peek(ctx context.Context, key string, window time.Duration, now time.Time) (domain.WindowState, bool, error) {
	var start, count, prevStart, prevCount int64
	err := s.db.QueryRow(ctx, s.peekSQL, key).Scan(&start, &count, &prevStart, &prevCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.WindowState{}, false, nil
	}
	if err != nil {
		return domain.WindowState{}, false, fmt.Errorf("%w: postgres peek: %w", domain.ErrStoreUnavailable, err)
	}

	st := rowState(start, count, prevStart, prevCount, window)
	if !st.Live(window, now) {
		return domain.WindowState{}, false, nil
	}
	return st, true, nil
}

// Cleanup apaga janelas expiradas há mais de uma janela.
// Ping faz um SELECT 1 (readiness do gateway).
func (s *PostgresCounterStore) Ping(ctx context.Context) error {
	var one int64
	if err := s.db.QueryRow(ctx, "SELECT 1::bigint").Scan(&one); err != nil {
		return fmt.Errorf("%w: postgres ping: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *PostgresCounterStore) Cleanup(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, s.cleanupSQL, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("%w: postgres cleanup: %w", domain.ErrStoreUnavailable, err)
	}
	return tag.RowsAffected(), nil
}

// StartJanitor roda Cleanup a cada every até o ctx encerrar.
// Erros vão para onErr (pode ser nil); o canal fecha quando a goroutine sai.
func (s *PostgresCounterStore) StartJanitor(ctx context.Context, every time.Duration, clock domain.Clock, onErr func(error)) <-chan struct{} {
	done := make(chan struct{})
	if every <= 0 {
		close(done)
		return done
	}
	if clock == nil {
		clock = SystemClock{}
	}

	t := time.NewTicker(every)
	go func() {
		defer close(done)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if _, err := s.Cleanup(ctx, clock.Now()); err != nil && onErr != nil && ctx.Err() == nil {
					onErr(err)
				}
			}
		}
	}()
	return done
}

func rowState(start, count, prevStart, prevCount int64, window time.Duration) domain.WindowState {
	st := domain.WindowState{Start: time.UnixMilli(start), Count: count, Window: window}
	if prevCount > 0 {
		st.PrevStart = time.UnixMilli(prevStart)
		st.PrevCount = prevCount
	}
	return st
}

var _ domain.CounterStore = (*PostgresCounterStore)(nil)
