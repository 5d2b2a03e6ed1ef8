package clients

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/finkeeper/internal/dbx"
	"github.com/dmitrijs2005/finkeeper/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Touch(ctx context.Context, c models.Client) error {
	query := `
		INSERT INTO clients (user_id, client_id, last_seen, last_cursor)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, client_id)
		DO UPDATE SET
			last_seen = GREATEST(clients.last_seen, EXCLUDED.last_seen),
			last_cursor = GREATEST(clients.last_cursor, EXCLUDED.last_cursor);
	`
	if _, err := r.db.ExecContext(ctx, query, c.UserID, c.ClientID, c.LastSeen, c.Cursor); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, userID string) ([]models.Client, error) {
	query := `SELECT user_id, client_id, last_seen, last_cursor FROM clients
		WHERE user_id = $1
		ORDER BY last_seen DESC, client_id`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select clients: %w", err)
	}
	defer rows.Close()

	var result []models.Client
	for rows.Next() {
		var c models.Client
		if err := rows.Scan(&c.UserID, &c.ClientID, &c.LastSeen, &c.Cursor); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
