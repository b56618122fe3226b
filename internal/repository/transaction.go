package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/parlor/parlor/internal/model"
)

// ListTransactionsSince returns the user's transactions created at or after
// since, plus those with no timestamp, oldest first.
func (r *Repository) ListTransactionsSince(ctx context.Context, userID string, since time.Time) ([]model.Transaction, error) {
	query := `
		SELECT id, user_id, created_at, token_type, token_value, raw_amount, COALESCE(model, '')
		FROM transactions
		WHERE user_id = $1 AND (created_at >= $2 OR created_at IS NULL)
		ORDER BY created_at ASC NULLS LAST, id ASC
	`

	rows, err := r.pool.Query(ctx, query, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	txs := make([]model.Transaction, 0)
	for rows.Next() {
		var (
			tx        model.Transaction
			tokenType string
		)
		if err := rows.Scan(
			&tx.ID,
			&tx.UserID,
			&tx.CreatedAt,
			&tokenType,
			&tx.TokenValue,
			&tx.RawAmount,
			&tx.Model,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.TokenType = model.ParseTokenType(tokenType)
		txs = append(txs, tx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return txs, nil
}

// CreateTransaction records a usage event. Used by seeding and tests.
func (r *Repository) CreateTransaction(ctx context.Context, tx *model.Transaction) error {
	query := `
		INSERT INTO transactions (id, user_id, token_type, token_value, raw_amount, model, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
	`

	_, err := r.pool.Exec(ctx, query,
		tx.ID,
		tx.UserID,
		string(tx.TokenType),
		tx.TokenValue,
		tx.RawAmount,
		tx.Model,
		tx.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

// CountConversations returns the number of conversations owned by the user.
func (r *Repository) CountConversations(ctx context.Context, userID string) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM conversations WHERE user_id = $1`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count conversations: %w", err)
	}
	return n, nil
}

// CountMessages returns the number of messages authored by the user.
func (r *Repository) CountMessages(ctx context.Context, userID string) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE user_id = $1`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}
