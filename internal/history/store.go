package history

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"lingolink/internal/config"
	"lingolink/pkg/interfaces"
	"lingolink/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS transcripts (
	id              TEXT PRIMARY KEY,
	classroom_code  TEXT NOT NULL,
	utterance_id    TEXT NOT NULL,
	original_text   TEXT NOT NULL,
	translated_text TEXT NOT NULL,
	source_language TEXT NOT NULL,
	target_language TEXT NOT NULL,
	visibility      TEXT NOT NULL,
	created_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transcripts_replay
	ON transcripts(classroom_code, target_language, created_at);
`

// writeOp is one queued mutation for the single-writer loop.
type writeOp struct {
	fn     func(*sql.DB) error
	result chan error
}

// Store keeps translated utterances in sqlite for the lifetime of their
// classroom session. Writes funnel through a single goroutine (sqlite has
// one writer anyway); reads go straight to the pool. Synthesized audio is
// deliberately not persisted: replay is text-only and the session is the
// retention boundary, enforced by Purge on expiry.
type Store struct {
	db      *sql.DB
	writeCh chan writeOp
	stop    chan struct{}
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	logger *zap.Logger
}

var _ interfaces.TranscriptStore = (*Store)(nil)

func NewStore(cfg config.HistoryConfig, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open transcript db: %w", err)
	}
	db.SetMaxOpenConns(4)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create transcript schema: %w", err)
	}

	s := &Store{
		db:      db,
		writeCh: make(chan writeOp, 100),
		stop:    make(chan struct{}),
		logger:  logger,
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s, nil
}

func (s *Store) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case op := <-s.writeCh:
			op.result <- op.fn(s.db)
		case <-s.stop:
			return
		}
	}
}

func (s *Store) execWrite(ctx context.Context, fn func(*sql.DB) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("transcript store is closed")
	}
	s.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case s.writeCh <- writeOp{fn: fn, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stop:
		return fmt.Errorf("transcript store is shutting down")
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Append records one translation unit.
func (s *Store) Append(ctx context.Context, unit *types.TranslationUnit) error {
	return s.execWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO transcripts
				(id, classroom_code, utterance_id, original_text, translated_text,
				 source_language, target_language, visibility, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(),
			unit.ClassroomCode,
			unit.UtteranceID,
			unit.OriginalText,
			unit.TranslatedText,
			unit.SourceLanguage,
			unit.TargetLanguage,
			unit.Visibility,
			unit.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert transcript: %w", err)
		}
		return nil
	})
}

// Recent returns up to limit broadcast units for one classroom and
// language, oldest first, for late-joiner replay.
func (s *Store) Recent(ctx context.Context, code, language string, limit int) ([]*types.TranslationUnit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT utterance_id, original_text, translated_text,
		       source_language, target_language, visibility, created_at
		FROM transcripts
		WHERE classroom_code = ? AND target_language = ? AND visibility != ?
		ORDER BY created_at DESC
		LIMIT ?`,
		code, language, types.VisibilityPrivate, limit)
	if err != nil {
		return nil, fmt.Errorf("query transcripts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var units []*types.TranslationUnit
	for rows.Next() {
		unit := &types.TranslationUnit{ClassroomCode: code}
		var createdAt time.Time
		if err := rows.Scan(
			&unit.UtteranceID,
			&unit.OriginalText,
			&unit.TranslatedText,
			&unit.SourceLanguage,
			&unit.TargetLanguage,
			&unit.Visibility,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		unit.CreatedAt = createdAt
		units = append(units, unit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcripts: %w", err)
	}

	// Chronological order for replay.
	for i, j := 0, len(units)-1; i < j; i, j = i+1, j-1 {
		units[i], units[j] = units[j], units[i]
	}
	return units, nil
}

// Purge deletes everything for an expired classroom.
func (s *Store) Purge(ctx context.Context, code string) error {
	return s.execWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `DELETE FROM transcripts WHERE classroom_code = ?`, code)
		if err != nil {
			return fmt.Errorf("purge transcripts: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			s.logger.Info("purged classroom transcripts",
				zap.String("classroom", code),
				zap.Int64("rows", n))
		}
		return nil
	})
}

// HealthCheck verifies the database is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close stops the writer and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stop)
	s.wg.Wait()
	return s.db.Close()
}
