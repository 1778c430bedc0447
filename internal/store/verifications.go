package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/craftcurio/marketplace/internal/database"
	"github.com/craftcurio/marketplace/internal/models"
)

const (
	activeVerificationIndex = "verifications_one_active_idx"
	verificationColumns     = `id, user_id, status, documents, message, review_notes, reviewer_id, reviewed_at, created_at, updated_at`
)

func scanVerification(row scanner) (*models.Verification, error) {
	v := &models.Verification{}
	var (
		reviewerID sql.NullString
		reviewedAt sql.NullTime
	)
	err := row.Scan(
		&v.ID,
		&v.UserID,
		&v.Status,
		pq.Array(&v.Documents),
		&v.Message,
		&v.ReviewNotes,
		&reviewerID,
		&reviewedAt,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if reviewerID.Valid {
		v.ReviewerID = &reviewerID.String
	}
	v.ReviewedAt = timePtr(reviewedAt)
	if v.Documents == nil {
		v.Documents = []string{}
	}
	return v, nil
}

// SubmitVerification opens a request for userID. A user may hold at most one
// pending or approved request.
func (s *Store) SubmitVerification(ctx context.Context, userID string, documents []string, message string) (*models.Verification, error) {
	if len(documents) == 0 {
		return nil, models.Invalid("documents", "documents must contain at least one entry")
	}
	for i, d := range documents {
		if strings.TrimSpace(d) == "" {
			return nil, models.Invalid(fmt.Sprintf("documents[%d]", i), fmt.Sprintf("documents[%d] is empty", i))
		}
	}

	query := `
		INSERT INTO verifications (id, user_id, status, documents, message, created_at, updated_at)
		VALUES ($1, $2, 'pending', $3, $4, NOW(), NOW())
		RETURNING ` + verificationColumns

	v, err := scanVerification(s.db.QueryRowContext(ctx, query, uuid.NewString(), userID, pq.Array(documents), message))
	if err != nil {
		if database.IsUniqueViolation(err, activeVerificationIndex) {
			return nil, database.ErrVerificationActive
		}
		return nil, fmt.Errorf("submit verification: %w", err)
	}

	return v, nil
}

func (s *Store) GetVerification(ctx context.Context, id string) (*models.Verification, error) {
	if err := parseID(id, database.ErrVerificationNotFound); err != nil {
		return nil, err
	}
	query := `SELECT ` + verificationColumns + ` FROM verifications WHERE id = $1`

	v, err := scanVerification(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrVerificationNotFound
		}
		return nil, fmt.Errorf("get verification: %w", err)
	}

	return v, nil
}

func (s *Store) LatestVerification(ctx context.Context, userID string) (*models.Verification, error) {
	query := `
		SELECT ` + verificationColumns + `
		FROM verifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1`

	v, err := scanVerification(s.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrVerificationNotFound
		}
		return nil, fmt.Errorf("latest verification: %w", err)
	}

	return v, nil
}

func (s *Store) ListVerifications(ctx context.Context, status string, page, pageSize int) (*OffsetPage, error) {
	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM verifications WHERE ($1 = '' OR status = $1)`, status).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count verifications: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT ` + verificationColumns + `
		FROM verifications
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.db.QueryContext(ctx, query, status, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list verifications: %w", err)
	}
	defer rows.Close()

	items := []models.Verification{}
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan verification: %w", err)
		}
		items = append(items, *v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newOffsetPage(items, total, page, pageSize), nil
}

// ApproveVerification decides a pending request and promotes its submitter to
// artisan in the same transaction. A request can only be decided once.
func (s *Store) ApproveVerification(ctx context.Context, id, reviewerID, notes string) (*models.Verification, *models.User, error) {
	var (
		v    *models.Verification
		user *models.User
	)

	err := database.WithTransaction(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		decided, err := decideVerification(ctx, tx, id, models.VerificationApproved, reviewerID, notes)
		if err != nil {
			return err
		}
		promoted, err := PromoteToArtisan(ctx, tx, decided.UserID)
		if err != nil {
			return err
		}
		v, user = decided, promoted
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return v, user, nil
}

func (s *Store) RejectVerification(ctx context.Context, id, reviewerID, notes string) (*models.Verification, error) {
	var v *models.Verification

	err := database.WithTransaction(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		decided, err := decideVerification(ctx, tx, id, models.VerificationRejected, reviewerID, notes)
		v = decided
		return err
	})
	if err != nil {
		return nil, err
	}

	return v, nil
}

func decideVerification(ctx context.Context, tx *sql.Tx, id, status, reviewerID, notes string) (*models.Verification, error) {
	if err := parseID(id, database.ErrVerificationNotFound); err != nil {
		return nil, err
	}
	query := `
		UPDATE verifications
		SET status = $2,
		    reviewer_id = $3,
		    review_notes = $4,
		    reviewed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + verificationColumns

	v, err := scanVerification(tx.QueryRowContext(ctx, query, id, status, reviewerID, notes))
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("decide verification: %w", err)
	}

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM verifications WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check verification exists: %w", err)
	}
	if !exists {
		return nil, database.ErrVerificationNotFound
	}
	return nil, database.ErrVerificationDecided
}
