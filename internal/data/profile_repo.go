package data

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/target/portal-api/internal/core"
	"github.com/target/portal-api/internal/data/pgxutil"
	domainauth "github.com/target/portal-api/internal/domain/auth"
	apperrors "github.com/target/portal-api/internal/errors"
)

var _ core.ProfileRepository = (*ProfileRepo)(nil)

const profileColumns = `id, email, full_name, role, is_active, avatar_url, is_online, last_seen, created_at, updated_at`

// ProfileRepo provides database operations for profiles.
type ProfileRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewProfileRepo creates a new ProfileRepo with real time provider.
func NewProfileRepo(db *sql.DB) *ProfileRepo {
	return &ProfileRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewProfileRepoWithTimeProvider stamps rows with tp instead of the wall clock.
func NewProfileRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *ProfileRepo {
	return &ProfileRepo{DB: db, timeProvider: tp}
}

// GetByID returns the profile with id.
func (r *ProfileRepo) GetByID(ctx context.Context, id string) (*domainauth.Profile, error) {
	var out *domainauth.Profile
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id)
		if err != nil {
			return err
		}
		p, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[domainauth.Profile])
		if err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return out, nil
}

// Insert creates a profile row.
func (r *ProfileRepo) Insert(ctx context.Context, np domainauth.NewProfile) (*domainauth.Profile, error) {
	role := np.Role
	if !role.Valid() {
		role = domainauth.RoleUser
	}
	now := r.timeProvider.Now().UTC()
	var out *domainauth.Profile
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO profiles (id, email, full_name, role, is_active, created_at, updated_at)
			VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $6)
			RETURNING `+profileColumns,
			np.ID, strings.TrimSpace(np.Email), strings.TrimSpace(np.FullName), role, np.IsActive, now,
		)
		if err != nil {
			return err
		}
		p, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[domainauth.Profile])
		if err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return out, nil
}

// Upsert creates the profile or corrects an existing row. The role only moves upward:
// an admin row stays admin and a client row is never lowered to user. New rows are created
// active; an existing row keeps its is_active flag. A blank full name keeps the stored value.
func (r *ProfileRepo) Upsert(ctx context.Context, req domainauth.FixProfileRequest) (*domainauth.Profile, error) {
	role := req.Role
	if !role.Valid() {
		role = domainauth.RoleUser
	}
	now := r.timeProvider.Now().UTC()
	var out *domainauth.Profile
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{Fn: func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			INSERT INTO profiles (id, email, full_name, role, is_active, created_at, updated_at)
			VALUES ($1, $2, NULLIF($3, ''), $4, TRUE, $5, $5)
			ON CONFLICT (id) DO UPDATE SET
				email      = EXCLUDED.email,
				full_name  = COALESCE(EXCLUDED.full_name, profiles.full_name),
				role       = CASE
					WHEN profiles.role = 'admin' OR EXCLUDED.role = 'admin' THEN 'admin'
					WHEN profiles.role = 'client' OR EXCLUDED.role = 'client' THEN 'client'
					ELSE 'user'
				END,
				is_active  = profiles.is_active,
				updated_at = EXCLUDED.updated_at
			RETURNING `+profileColumns,
			req.ID, strings.TrimSpace(req.Email), strings.TrimSpace(req.FullName), role, now,
		)
		if err != nil {
			return err
		}
		p, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[domainauth.Profile])
		if err != nil {
			return err
		}
		out = p
		return nil
	}})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return out, nil
}

// UpdatePresence sets is_online and last_seen for the profile.
func (r *ProfileRepo) UpdatePresence(ctx context.Context, params core.UpdatePresenceParams) error {
	seenAt := params.SeenAt
	if seenAt.IsZero() {
		seenAt = r.timeProvider.Now().UTC()
	}
	var affected int64
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		tag, err := conn.Exec(ctx,
			`UPDATE profiles SET is_online = $2, last_seen = $3 WHERE id = $1`,
			params.ID, params.Online, seenAt,
		)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return apperrors.MapDBError(err)
	}
	if affected == 0 {
		return apperrors.NotFound("Profile not found")
	}
	return nil
}

// ListClients returns active client profiles ordered by full name.
func (r *ProfileRepo) ListClients(ctx context.Context, opts core.ClientListOptions) ([]*domainauth.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE role = 'client' AND is_active`
	args := []any{}
	if s := strings.TrimSpace(opts.Search); s != "" {
		args = append(args, "%"+escapeLike(s)+"%")
		query += fmt.Sprintf(` AND (full_name ILIKE $%d OR email ILIKE $%d)`, len(args), len(args))
	}
	query += ` ORDER BY full_name ASC NULLS LAST, email ASC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	var out []*domainauth.Profile
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		profiles, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[domainauth.Profile])
		if err != nil {
			return err
		}
		out = profiles
		return nil
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	if out == nil {
		out = []*domainauth.Profile{}
	}
	return out, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }

