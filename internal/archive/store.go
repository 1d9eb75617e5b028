// Package archive is the optional Postgres-backed interaction archive.
// Unlike the session store (confidential keypairs, AES-GCM at rest),
// the archive exists purely so a host can query interaction history
// and operational events after the in-memory EngineState has been
// trimmed or the process has restarted with a fresh state file.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/CodeMonkeyCybersecurity/oastengine/internal/config"
	"github.com/CodeMonkeyCybersecurity/oastengine/internal/logger"
	"github.com/CodeMonkeyCybersecurity/oastengine/pkg/types"
)

// Store is a Postgres-backed archive of interactions and operational
// events. It satisfies internal/logger.EventStore.
type Store struct {
	db     *sqlx.DB
	cfg    config.ArchiveConfig
	logger *logger.Logger
}

// Open connects to Postgres, configures the pool and runs migrations.
// Returns nil, nil if cfg.Enabled is false so callers can treat a
// disabled archive as "no store" without a separate branch.
func Open(cfg config.ArchiveConfig, log *logger.Logger) (*Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	log = log.WithComponent("archive")
	ctx := context.Background()
	ctx, span := log.StartOperation(ctx, "archive.Open",
		"dsn_masked", maskDSN(cfg.DSN),
		"max_connections", cfg.MaxConnections,
	)
	var err error
	defer func() {
		log.FinishOperation(ctx, span, "archive.Open", time.Now(), err)
	}()

	start := time.Now()
	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		log.LogError(ctx, err, "archive.Connect", "duration_ms", time.Since(start).Milliseconds())
		return nil, fmt.Errorf("archive: connect: %w", err)
	}
	log.LogDuration(ctx, "archive.Connect", start, "success", true)

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	store := &Store{db: db, cfg: cfg, logger: log}

	migrateStart := time.Now()
	if err := store.migrate(); err != nil {
		log.LogError(ctx, err, "archive.Migrate", "duration_ms", time.Since(migrateStart).Milliseconds())
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}
	log.LogDuration(ctx, "archive.Migrate", migrateStart, "success", true)

	return store, nil
}

func maskDSN(dsn string) string {
	if len(dsn) > 10 {
		return dsn[:5] + "***" + dsn[len(dsn)-5:]
	}
	return "***"
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS interactions (
		unique_id      TEXT PRIMARY KEY,
		protocol       TEXT NOT NULL,
		full_id        TEXT NOT NULL,
		q_type         TEXT,
		raw_request    TEXT,
		raw_response   TEXT,
		remote_address TEXT NOT NULL,
		timestamp      TIMESTAMPTZ NOT NULL,
		tag            TEXT,
		server_url     TEXT NOT NULL,
		fingerprint    TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_interactions_full_id ON interactions(full_id);
	CREATE INDEX IF NOT EXISTS idx_interactions_server_url ON interactions(server_url);
	CREATE INDEX IF NOT EXISTS idx_interactions_timestamp ON interactions(timestamp);

	CREATE TABLE IF NOT EXISTS archive_events (
		id             BIGSERIAL PRIMARY KEY,
		correlation_id TEXT NOT NULL,
		level          TEXT NOT NULL,
		component      TEXT NOT NULL,
		message        TEXT NOT NULL,
		metadata       JSONB,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_archive_events_correlation_id ON archive_events(correlation_id);
	CREATE INDEX IF NOT EXISTS idx_archive_events_created_at ON archive_events(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the underlying connection pool. Safe to call on a nil
// Store (the disabled-archive case).
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// SaveInteraction upserts a single interaction, so replaying a poll
// result (e.g. after a crash mid-persist) is idempotent.
func (s *Store) SaveInteraction(ctx context.Context, in types.Interaction) error {
	if s == nil {
		return nil
	}
	start := time.Now()
	ctx, span := s.logger.StartOperation(ctx, "archive.SaveInteraction",
		"unique_id", in.UniqueID,
		"protocol", in.Protocol,
	)
	var err error
	defer func() {
		s.logger.FinishOperation(ctx, span, "archive.SaveInteraction", start, err)
	}()

	query := `
		INSERT INTO interactions (
			unique_id, protocol, full_id, q_type, raw_request, raw_response,
			remote_address, timestamp, tag, server_url, fingerprint
		) VALUES (
			:unique_id, :protocol, :full_id, :q_type, :raw_request, :raw_response,
			:remote_address, :timestamp, :tag, :server_url, :fingerprint
		)
		ON CONFLICT (unique_id) DO UPDATE SET
			tag = EXCLUDED.tag,
			fingerprint = EXCLUDED.fingerprint
	`
	_, err = s.db.NamedExecContext(ctx, query, in)
	if err != nil {
		s.logger.LogError(ctx, err, "archive.SaveInteraction", "unique_id", in.UniqueID)
		return fmt.Errorf("archive: save interaction: %w", err)
	}
	return nil
}

// ListInteractions returns up to limit interactions for serverURL,
// most recent first. An empty serverURL returns interactions for
// every server.
func (s *Store) ListInteractions(ctx context.Context, serverURL string, limit int) ([]types.Interaction, error) {
	if s == nil {
		return nil, nil
	}
	start := time.Now()
	ctx, span := s.logger.StartOperation(ctx, "archive.ListInteractions",
		"server_url", serverURL,
		"limit", limit,
	)
	var err error
	defer func() {
		s.logger.FinishOperation(ctx, span, "archive.ListInteractions", start, err)
	}()

	var rows []types.Interaction
	if serverURL == "" {
		err = s.db.SelectContext(ctx, &rows,
			`SELECT * FROM interactions ORDER BY timestamp DESC LIMIT $1`, limit)
	} else {
		err = s.db.SelectContext(ctx, &rows,
			`SELECT * FROM interactions WHERE server_url = $1 ORDER BY timestamp DESC LIMIT $2`,
			serverURL, limit)
	}
	if err != nil {
		s.logger.LogError(ctx, err, "archive.ListInteractions", "server_url", serverURL)
		return nil, fmt.Errorf("archive: list interactions: %w", err)
	}
	return rows, nil
}

// DeleteInteraction removes a single interaction by unique_id.
func (s *Store) DeleteInteraction(ctx context.Context, uniqueID string) error {
	if s == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM interactions WHERE unique_id = $1`, uniqueID)
	if err != nil {
		s.logger.LogError(ctx, err, "archive.DeleteInteraction", "unique_id", uniqueID)
		return fmt.Errorf("archive: delete interaction: %w", err)
	}
	return nil
}

// SaveEvent persists a single log line, satisfying logger.EventStore.
func (s *Store) SaveEvent(ctx context.Context, correlationID, level, component, message string, metadata map[string]interface{}) error {
	if s == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO archive_events (correlation_id, level, component, message, metadata)
		 VALUES ($1, $2, $3, $4, $5)`,
		correlationID, level, component, message, jsonbOf(metadata),
	)
	if err != nil {
		return fmt.Errorf("archive: save event: %w", err)
	}
	return nil
}

// jsonbOf marshals metadata for a jsonb column. A marshal failure (only
// possible for unsupported types like channels or functions slipping
// into log fields) degrades to an empty object rather than losing the
// whole event.
func jsonbOf(metadata map[string]interface{}) []byte {
	b, err := json.Marshal(metadata)
	if err != nil {
		return []byte("{}")
	}
	return b
}
