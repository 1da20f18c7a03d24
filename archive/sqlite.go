package archive

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pulse-labs/pulse/event"
	"github.com/pulse-labs/pulse/topic"

	_ "modernc.org/sqlite"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLiteStoreConfig configures the SQLite event store.
type SQLiteStoreConfig struct {
	// DSN is the database connection string.
	DSN string

	// RetentionAge deletes events older than this duration (0 = no age pruning).
	RetentionAge time.Duration

	// RetentionCount keeps at most this many events per topic (0 = no count pruning).
	RetentionCount int

	// PruneInterval is how often to run pruning (default 1 hour).
	PruneInterval time.Duration
}

// SQLiteStore persists events to a SQLite database. It satisfies the Store
// interface and supports WAL mode for concurrent read access and a background
// pruner goroutine.
type SQLiteStore struct {
	db   *sql.DB
	cfg  SQLiteStoreConfig
	stop chan struct{}
	done chan struct{}
}

// NewSQLiteStore opens (or creates) a SQLite event store.
func NewSQLiteStore(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if cfg.PruneInterval == 0 {
		cfg.PruneInterval = time.Hour
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("archive: open: %w", err)
	}

	// Enable WAL mode for concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("archive: set WAL mode: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("archive: create schema: %w", err)
	}

	s := &SQLiteStore{
		db:   db,
		cfg:  cfg,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	// Start background pruner if any retention is configured.
	if cfg.RetentionAge > 0 || cfg.RetentionCount > 0 {
		go s.pruneLoop()
	} else {
		close(s.done)
	}

	return s, nil
}

// Append stores an event in the database.
func (s *SQLiteStore) Append(ctx context.Context, e event.Event) error {
	dataJSON, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("archive: marshal data: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (event_id, seq, topic, type, time, entity_id, entity_type, source, data, trace_id, span_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.Seq,
		e.Topic,
		string(e.Type),
		e.Time.Format(time.RFC3339Nano),
		e.EntityID,
		e.EntityType,
		e.Source,
		string(dataJSON),
		e.TraceID,
		e.SpanID,
	)
	if err != nil {
		return fmt.Errorf("archive: append: %w", err)
	}
	return nil
}

// List returns matching events in ascending Seq order.
func (s *SQLiteStore) List(ctx context.Context, q Query) ([]event.Event, error) {
	query := `SELECT event_id, seq, topic, type, time, entity_id, entity_type, source, data, trace_id, span_id
	           FROM events WHERE seq > ?`
	args := []any{q.AfterSeq}

	if clause, clauseArgs := patternClause(q.Pattern); clause != "" {
		query += " AND " + clause
		args = append(args, clauseArgs...)
	}

	query += " ORDER BY seq ASC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("archive: list: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// LatestSeq returns the highest stored Seq (0 if no events).
func (s *SQLiteStore) LatestSeq(ctx context.Context) (uint64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM events`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("archive: latest seq: %w", err)
	}
	if !seq.Valid || seq.Int64 < 0 {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}

// Topics returns the distinct topics present in the store.
func (s *SQLiteStore) Topics(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT topic FROM events ORDER BY topic`)
	if err != nil {
		return nil, fmt.Errorf("archive: topics: %w", err)
	}
	defer rows.Close()

	var topics []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("archive: scan topic: %w", err)
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

// Close stops the background pruner and closes the database connection.
func (s *SQLiteStore) Close() error {
	select {
	case <-s.stop:
		// Already closed.
	default:
		close(s.stop)
	}
	<-s.done
	return s.db.Close()
}

// Prune runs a single pruning pass. Exported for testing.
func (s *SQLiteStore) Prune(ctx context.Context) error {
	if s.cfg.RetentionAge > 0 {
		cutoff := time.Now().Add(-s.cfg.RetentionAge).Format(time.RFC3339Nano)
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM events WHERE time < ?`, cutoff,
		); err != nil {
			return fmt.Errorf("archive: prune by age: %w", err)
		}
	}

	if s.cfg.RetentionCount > 0 {
		// For each topic, keep only the most recent RetentionCount events.
		topics, err := s.Topics(ctx)
		if err != nil {
			return fmt.Errorf("archive: prune: %w", err)
		}

		for _, t := range topics {
			if _, err := s.db.ExecContext(ctx,
				`DELETE FROM events WHERE topic = ? AND id NOT IN (
					SELECT id FROM events WHERE topic = ? ORDER BY seq DESC LIMIT ?
				)`, t, t, s.cfg.RetentionCount,
			); err != nil {
				return fmt.Errorf("archive: prune by count for %s: %w", t, err)
			}
		}
	}

	return nil
}

func (s *SQLiteStore) pruneLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			_ = s.Prune(context.Background())
		}
	}
}

// patternClause translates a topic pattern into a SQL filter. Literal
// patterns compare directly; tail wildcards match the prefix topic itself
// plus everything under it, mirroring topic.Matches.
func patternClause(pattern string) (string, []any) {
	suffix := topic.DefaultDelimiter + topic.Wildcard
	switch {
	case pattern == "" || pattern == topic.Wildcard:
		return "", nil
	case strings.HasSuffix(pattern, suffix):
		prefix := strings.TrimSuffix(pattern, suffix)
		return `(topic = ? OR topic LIKE ? ESCAPE '\')`,
			[]any{prefix, escapeLike(prefix) + topic.DefaultDelimiter + "%"}
	default:
		return "topic = ?", []any{pattern}
	}
}

// escapeLike escapes SQL LIKE metacharacters in a literal prefix.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func scanEvents(rows *sql.Rows) ([]event.Event, error) {
	var events []event.Event
	for rows.Next() {
		var (
			e        event.Event
			typ      string
			timeStr  string
			dataJSON string
		)
		err := rows.Scan(
			&e.ID,
			&e.Seq,
			&e.Topic,
			&typ,
			&timeStr,
			&e.EntityID,
			&e.EntityType,
			&e.Source,
			&dataJSON,
			&e.TraceID,
			&e.SpanID,
		)
		if err != nil {
			return nil, fmt.Errorf("archive: scan event: %w", err)
		}

		e.Type = event.Type(typ)

		t, err := time.Parse(time.RFC3339Nano, timeStr)
		if err != nil {
			return nil, fmt.Errorf("archive: parse time %q: %w", timeStr, err)
		}
		e.Time = t

		if dataJSON != "" && dataJSON != "null" {
			if err := json.Unmarshal([]byte(dataJSON), &e.Data); err != nil {
				return nil, fmt.Errorf("archive: unmarshal data: %w", err)
			}
		}

		events = append(events, e)
	}
	return events, rows.Err()
}

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)
