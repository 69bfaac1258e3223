package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/spec-kit/account-hierarchy/internal/domain"
)

const userColumns = `id, username, email, password_hash, role, is_active,
        blocked_at, blocked_by, can_view_admins, promoted_by, demoted_by, demoted_at,
        secret_key_hash, secret_key_created_at, secret_key_used_at, created_at, updated_at`

const uniqueViolation = "23505"

type userRepository struct {
	db DBTX
}

// NewUserRepository returns a Postgres-backed implementation.
func NewUserRepository(db DBTX) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	const query = `
        INSERT INTO users (username, email, password_hash, role, is_active, can_view_admins)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		user.Username,
		user.Email,
		user.PasswordHash,
		string(user.Role),
		user.IsActive,
		user.CanViewAdmins,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicate
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id=$1`
	return r.getOne(ctx, query, id)
}

func (r *userRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id=$1 FOR UPDATE`
	return r.getOne(ctx, query, id)
}

func (r *userRepository) GetByUsernameOrEmail(ctx context.Context, login string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username=$1 OR email=$1 ORDER BY (email=$1) DESC LIMIT 1`
	return r.getOne(ctx, query, login)
}

func (r *userRepository) getOne(ctx context.Context, query string, arg any) (*domain.User, error) {
	user, err := scanUser(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}

func (r *userRepository) List(ctx context.Context, filter UserFilter) ([]domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	args := []any{}
	clauses := []string{}

	if filter.Roles != nil {
		roles := make([]string, 0, len(filter.Roles))
		for _, role := range filter.Roles {
			roles = append(roles, string(role))
		}
		args = append(args, roles)
		clauses = append(clauses, fmt.Sprintf("role = ANY($%d)", len(args)))
	}
	if filter.ID != nil {
		args = append(args, *filter.ID)
		clauses = append(clauses, fmt.Sprintf("id=$%d", len(args)))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		clauses = append(clauses, fmt.Sprintf("is_active=$%d", len(args)))
	}
	if filter.Blocked != nil {
		if *filter.Blocked {
			clauses = append(clauses, "blocked_at IS NOT NULL")
		} else {
			clauses = append(clauses, "blocked_at IS NULL")
		}
	}
	if filter.CanViewAdmins != nil {
		args = append(args, *filter.CanViewAdmins)
		clauses = append(clauses, fmt.Sprintf("can_view_admins=$%d", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}

	query += " ORDER BY created_at DESC"
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, *user)
	}
	return result, rows.Err()
}

func (r *userRepository) Update(ctx context.Context, user *domain.User) error {
	const query = `
        UPDATE users SET username=$1, email=$2, password_hash=$3, role=$4, is_active=$5,
            blocked_at=$6, blocked_by=$7, can_view_admins=$8, promoted_by=$9, demoted_by=$10,
            demoted_at=$11, secret_key_hash=$12, secret_key_created_at=$13, secret_key_used_at=$14,
            updated_at=$15
        WHERE id=$16`

	cmd, err := r.db.Exec(ctx, query,
		user.Username,
		user.Email,
		user.PasswordHash,
		string(user.Role),
		user.IsActive,
		user.BlockedAt,
		user.BlockedBy,
		user.CanViewAdmins,
		user.PromotedBy,
		user.DemotedBy,
		user.DemotedAt,
		user.SecretKeyHash,
		user.SecretKeyCreatedAt,
		user.SecretKeyUsedAt,
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.db.Exec(ctx, `DELETE FROM users WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepository) ClaimSecretKey(ctx context.Context, claim SecretKeyClaim) (bool, error) {
	const query = `
        UPDATE users SET secret_key_used_at=$1, updated_at=$1
        WHERE id=$2
          AND role='MASTER'
          AND secret_key_hash=$3
          AND secret_key_used_at IS NULL
          AND (secret_key_created_at IS NULL OR secret_key_created_at >= $4)`

	cmd, err := r.db.Exec(ctx, query,
		claim.UsedAt,
		claim.UserID,
		claim.KeyHash,
		claim.NotCreatedBefore,
	)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return cmd.RowsAffected() == 1, nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		user domain.User
		role string
	)
	if err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&role,
		&user.IsActive,
		&user.BlockedAt,
		&user.BlockedBy,
		&user.CanViewAdmins,
		&user.PromotedBy,
		&user.DemotedBy,
		&user.DemotedAt,
		&user.SecretKeyHash,
		&user.SecretKeyCreatedAt,
		&user.SecretKeyUsedAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, err
	}
	parsed, err := domain.ParseRole(role)
	if err != nil {
		return nil, err
	}
	user.Role = parsed
	return &user, nil
}
