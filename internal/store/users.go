package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/craftcurio/marketplace/internal/database"
	"github.com/craftcurio/marketplace/internal/models"
)

const userColumns = `id, email, name, password_hash, role, verified, created_at, updated_at, version`

func scanUser(row scanner) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.PasswordHash,
		&user.Role,
		&user.Verified,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.Version,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Store) CreateUser(ctx context.Context, email, name, passwordHash, role string) (*models.User, error) {
	query := `
		INSERT INTO users (id, email, name, password_hash, role, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW(), 1)
		RETURNING ` + userColumns

	user, err := scanUser(s.db.QueryRowContext(ctx, query,
		uuid.NewString(), strings.ToLower(strings.TrimSpace(email)), name, passwordHash, role))
	if err != nil {
		if database.IsUniqueViolation(err, "users_email_key") {
			return nil, database.ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	return user, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	if err := parseID(id, database.ErrUserNotFound); err != nil {
		return nil, err
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return user, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	user, err := scanUser(s.db.QueryRowContext(ctx, query, strings.ToLower(strings.TrimSpace(email))))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}

	return user, nil
}

func (s *Store) ListUsers(ctx context.Context, page, pageSize int) (*OffsetPage, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT ` + userColumns + `
		FROM users
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := s.db.QueryContext(ctx, query, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newOffsetPage(users, total, page, pageSize), nil
}

// PromoteToArtisan marks the user as a verified artisan. Admins keep their
// role but are still flagged verified.
func (s *Store) PromoteToArtisan(ctx context.Context, userID string) (*models.User, error) {
	return PromoteToArtisan(ctx, s.db, userID)
}

// PromoteToArtisan is the transactional form used by verification approval.
func PromoteToArtisan(ctx context.Context, q database.Querier, userID string) (*models.User, error) {
	if err := parseID(userID, database.ErrUserNotFound); err != nil {
		return nil, err
	}
	query := `
		UPDATE users
		SET role = CASE WHEN role = $2 THEN role ELSE $3 END,
		    verified = TRUE,
		    updated_at = NOW(),
		    version = version + 1
		WHERE id = $1
		RETURNING ` + userColumns

	user, err := scanUser(q.QueryRowContext(ctx, query, userID, models.RoleAdmin, models.RoleArtisan))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("promote user: %w", err)
	}

	return user, nil
}
