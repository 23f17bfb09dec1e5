package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrMigrationFailed wraps every migration error.
var ErrMigrationFailed = errors.New("postgres: migration failed")

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: PROFILES
// ══════════════════════════════════════════════════════════════════════════════

// The engine only reads profiles. The table mirrors the external profile
// store so a standalone deployment (and the seed command) has somewhere to
// put them.
const migration001Up = `
CREATE EXTENSION IF NOT EXISTS unaccent;

-- Accent-, case- and whitespace-insensitive form used by every filter.
CREATE OR REPLACE FUNCTION f_norm(t TEXT) RETURNS TEXT
    LANGUAGE sql IMMUTABLE PARALLEL SAFE AS
$$ SELECT regexp_replace(btrim(lower(unaccent('unaccent'::regdictionary, coalesce(t, '')))), '\s+', ' ', 'g') $$;

CREATE TABLE IF NOT EXISTS profiles (
    id TEXT PRIMARY KEY,
    role TEXT NOT NULL DEFAULT '',
    display_name TEXT NOT NULL DEFAULT '',
    region TEXT NOT NULL DEFAULT '',
    locality TEXT NOT NULL DEFAULT '',
    latitude DOUBLE PRECISION,
    longitude DOUBLE PRECISION,
    interest_tags TEXT[] NOT NULL DEFAULT '{}',
    offer_tags TEXT[] NOT NULL DEFAULT '{}',
    phone TEXT NOT NULL DEFAULT '',
    bio TEXT NOT NULL DEFAULT '',
    affiliation TEXT NOT NULL DEFAULT '',
    onboarding_completed BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_profile_id CHECK (id <> '' AND position(':' in id) = 0)
);

CREATE INDEX IF NOT EXISTS idx_profiles_role_norm ON profiles (f_norm(role));
CREATE INDEX IF NOT EXISTS idx_profiles_region_norm ON profiles (f_norm(region));
CREATE INDEX IF NOT EXISTS idx_profiles_locality_norm ON profiles (f_norm(locality));
CREATE INDEX IF NOT EXISTS idx_profiles_onboarded ON profiles (created_at) WHERE onboarding_completed;
`

const migration001Down = `
DROP TABLE IF EXISTS profiles;
DROP FUNCTION IF EXISTS f_norm(TEXT);
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: INTERACTIONS
// ══════════════════════════════════════════════════════════════════════════════

// is_mutual is generated, so the database itself holds the
// "mutual iff both liked" rule.
const migration002Up = `
CREATE TABLE IF NOT EXISTS interactions (
    id UUID PRIMARY KEY,
    pair_key TEXT NOT NULL,
    initiator_id TEXT NOT NULL,
    responder_id TEXT NOT NULL,
    initiator_liked BOOLEAN NOT NULL,
    responder_liked BOOLEAN NOT NULL DEFAULT FALSE,
    responder_acted BOOLEAN NOT NULL DEFAULT FALSE,
    is_mutual BOOLEAN GENERATED ALWAYS AS (initiator_liked AND responder_liked) STORED,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT uq_interactions_pair_key UNIQUE (pair_key),
    CONSTRAINT no_self_interaction CHECK (initiator_id <> responder_id),
    CONSTRAINT valid_pair_key CHECK (pair_key = ` + pairKeyExpr + `)
);

CREATE INDEX IF NOT EXISTS idx_interactions_initiator ON interactions (initiator_id);
CREATE INDEX IF NOT EXISTS idx_interactions_responder ON interactions (responder_id);
CREATE INDEX IF NOT EXISTS idx_interactions_mutual ON interactions (updated_at DESC) WHERE is_mutual;
`

const migration002Down = `
DROP TABLE IF EXISTS interactions;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: BYTE-ORDER PAIR KEYS
// ══════════════════════════════════════════════════════════════════════════════

// pairKeyExpr rebuilds a pair key the way the domain does: byte order,
// independent of the database collation.
const pairKeyExpr = `LEAST(initiator_id COLLATE "C", responder_id COLLATE "C") || ':' || GREATEST(initiator_id COLLATE "C", responder_id COLLATE "C")`

const migration003Up = `
ALTER TABLE interactions DROP CONSTRAINT IF EXISTS valid_pair_key;
ALTER TABLE interactions ADD CONSTRAINT valid_pair_key CHECK (pair_key = ` + pairKeyExpr + `);
`

// Keeps the byte-order constraint: the collation-dependent one rejects
// keys the engine writes.
const migration003Down = `
SELECT 1;
`

// GetMigrations returns all embedded migrations in version order.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_profiles", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_interactions", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "pair_key_byte_order", UpSQL: migration003Up, DownSQL: migration003Down},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migration represents a database migration.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// Migrator handles database migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a migrator with the embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return NewMigratorWithMigrations(conn, GetMigrations())
}

// NewMigratorWithMigrations creates a migrator with custom migrations.
func NewMigratorWithMigrations(conn *Connection, migrations []Migration) *Migrator {
	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	return &Migrator{
		conn:       conn,
		migrations: sorted,
		tableName:  "schema_migrations",
	}
}

// EnsureMigrationTable creates the migration tracking table if it doesn't exist.
func (m *Migrator) EnsureMigrationTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`, m.tableName)

	if _, err := m.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// GetAppliedMigrations returns applied versions with their timestamps.
func (m *Migrator) GetAppliedMigrations(ctx context.Context) (map[int]time.Time, error) {
	query := fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName)

	rows, err := m.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var appliedAt time.Time
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = appliedAt
	}
	return applied, rows.Err()
}

// Migrate applies all pending migrations, each in its own transaction.
// It returns the number of migrations applied.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return 0, err
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, mig := range m.migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		if mig.UpSQL == "" {
			return count, fmt.Errorf("%w: missing up SQL for migration %d", ErrMigrationFailed, mig.Version)
		}

		err := m.conn.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", mig.Version, err)
			}
			insertQuery := fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName)
			_, err := tx.Exec(ctx, insertQuery, mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return count, fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, mig.Version, err)
		}
		count++
	}
	return count, nil
}

// Rollback rolls back the last applied migration.
func (m *Migrator) Rollback(ctx context.Context) error {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return err
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return err
	}

	var lastVersion int
	for v := range applied {
		if v > lastVersion {
			lastVersion = v
		}
	}
	if lastVersion == 0 {
		return nil
	}

	var migration *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == lastVersion {
			migration = &m.migrations[i]
			break
		}
	}
	if migration == nil || migration.DownSQL == "" {
		return fmt.Errorf("%w: missing down SQL for migration %d", ErrMigrationFailed, lastVersion)
	}

	return m.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, migration.DownSQL); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", lastVersion, err)
		}
		deleteQuery := fmt.Sprintf("DELETE FROM %s WHERE version = $1", m.tableName)
		_, err := tx.Exec(ctx, deleteQuery, lastVersion)
		return err
	})
}

// Status returns every known migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return nil, err
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]Migration, len(m.migrations))
	copy(result, m.migrations)
	for i := range result {
		if appliedAt, ok := applied[result[i].Version]; ok {
			result[i].IsApplied = true
			result[i].AppliedAt = appliedAt
		}
	}
	return result, nil
}
