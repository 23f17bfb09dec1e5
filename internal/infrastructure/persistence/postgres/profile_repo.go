package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dentameet/matching-engine/internal/domain/profile"
	"github.com/dentameet/matching-engine/internal/domain/shared"
	"github.com/dentameet/matching-engine/pkg/textnorm"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROFILE STORE IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

const profileDomain = "profile"

const profileColumns = `id, role, display_name, region, locality, latitude, longitude,
		interest_tags, offer_tags, phone, bio, affiliation, onboarding_completed,
		created_at, updated_at`

// ProfileRepository implements profile.Store and profile.Seeder for PostgreSQL.
type ProfileRepository struct {
	conn *Connection
}

// NewProfileRepository creates a new ProfileRepository.
func NewProfileRepository(conn *Connection) *ProfileRepository {
	return &ProfileRepository{conn: conn}
}

// GetProfile returns a profile by ID.
func (r *ProfileRepository) GetProfile(ctx context.Context, id shared.UserID) (*profile.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`

	p, err := scanProfile(r.conn.QueryRow(ctx, query, string(id)))
	if err != nil {
		return nil, translate(profileDomain, "GetProfile", err, shared.ErrProfileNotFound)
	}
	return p, nil
}

// QueryProfiles returns profiles matching the filter, oldest first.
func (r *ProfileRepository) QueryProfiles(ctx context.Context, filter profile.Filter) ([]*profile.Profile, error) {
	query, args := buildProfileQuery(filter)

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, translate(profileDomain, "QueryProfiles", err, nil)
	}
	defer rows.Close()

	profiles := make([]*profile.Profile, 0)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, shared.StoreError(profileDomain, "QueryProfiles", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.StoreError(profileDomain, "QueryProfiles", err)
	}
	return profiles, nil
}

// Upsert creates or replaces a profile from raw data.
func (r *ProfileRepository) Upsert(ctx context.Context, p profile.Params) error {
	args, err := upsertArgs(p, time.Now().UTC())
	if err != nil {
		return err
	}

	query := `
		INSERT INTO profiles (` + profileColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			role = EXCLUDED.role,
			display_name = EXCLUDED.display_name,
			region = EXCLUDED.region,
			locality = EXCLUDED.locality,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			interest_tags = EXCLUDED.interest_tags,
			offer_tags = EXCLUDED.offer_tags,
			phone = EXCLUDED.phone,
			bio = EXCLUDED.bio,
			affiliation = EXCLUDED.affiliation,
			onboarding_completed = EXCLUDED.onboarding_completed,
			updated_at = EXCLUDED.updated_at
	`

	if _, err := r.conn.Exec(ctx, query, args...); err != nil {
		return shared.StoreError(profileDomain, "Upsert", err)
	}
	return nil
}

// upsertArgs orders the profile columns for Upsert. The id is stored in
// its canonical trimmed form; missing timestamps default to now.
func upsertArgs(p profile.Params, now time.Time) ([]interface{}, error) {
	id, err := shared.NewUserID(p.ID)
	if err != nil {
		return nil, err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}

	return []interface{}{
		id.String(),
		p.RoleLabel,
		p.DisplayName,
		p.Region,
		p.Locality,
		p.Latitude,
		p.Longitude,
		nonNil(p.InterestTags),
		nonNil(p.OfferTags),
		p.Phone,
		p.Bio,
		p.Affiliation,
		p.OnboardingCompleted,
		p.CreatedAt,
		p.UpdatedAt,
	}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Query building
// ─────────────────────────────────────────────────────────────────────────────

// buildProfileQuery renders a filter as SQL. Every string comparison goes
// through f_norm on the column side and textnorm.Fold on the argument side.
func buildProfileQuery(f profile.Filter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(f.ExcludeIDs) > 0 {
		ids := make([]string, len(f.ExcludeIDs))
		for i, id := range f.ExcludeIDs {
			ids[i] = string(id)
		}
		conds = append(conds, "NOT (id = ANY("+arg(ids)+"))")
	}

	if labels := foldAll(f.RoleLabels, ""); len(labels) > 0 {
		conds = append(conds, "f_norm(role) = ANY("+arg(labels)+")")
	}
	if patterns := foldAll(f.RoleStems, "%"); len(patterns) > 0 {
		conds = append(conds, "f_norm(role) LIKE ANY("+arg(patterns)+")")
	}

	if region := textnorm.Fold(f.Region); region != "" {
		conds = append(conds, "f_norm(region) = "+arg(region))
	}
	if locality := textnorm.Fold(f.Locality); locality != "" {
		conds = append(conds, "f_norm(locality) = "+arg(locality))
	}

	if f.OnlyOnboarded {
		conds = append(conds, "onboarding_completed")
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(profileColumns)
	sb.WriteString(" FROM profiles")
	if len(conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conds, " AND "))
	}
	sb.WriteString(" ORDER BY created_at, id")
	if f.Limit > 0 {
		sb.WriteString(" LIMIT ")
		sb.WriteString(arg(f.Limit))
	}
	return sb.String(), args
}

// foldAll normalizes values and drops empties. A non-empty wrap turns each
// value into an escaped LIKE pattern wrapped on both sides.
func foldAll(values []string, wrap string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		folded := textnorm.Fold(v)
		if folded == "" {
			continue
		}
		if wrap != "" {
			folded = wrap + likeEscaper.Replace(folded) + wrap
		}
		out = append(out, folded)
	}
	return out
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ─────────────────────────────────────────────────────────────────────────────
// Scanning
// ─────────────────────────────────────────────────────────────────────────────

func scanProfile(row pgx.Row) (*profile.Profile, error) {
	var p profile.Params

	err := row.Scan(
		&p.ID,
		&p.RoleLabel,
		&p.DisplayName,
		&p.Region,
		&p.Locality,
		&p.Latitude,
		&p.Longitude,
		&p.InterestTags,
		&p.OfferTags,
		&p.Phone,
		&p.Bio,
		&p.Affiliation,
		&p.OnboardingCompleted,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return profile.NewProfile(p)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
