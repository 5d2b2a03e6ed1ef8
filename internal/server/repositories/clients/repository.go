// Package clients tracks which clients synced a user's data and with which cursor.
package clients

import (
	"context"

	"github.com/dmitrijs2005/finkeeper/internal/server/models"
)

type Repository interface {
	// Touch records a sync by the client. The stored cursor never decreases.
	Touch(ctx context.Context, c models.Client) error
	// List returns the user's clients, most recently seen first.
	List(ctx context.Context, userID string) ([]models.Client, error)
}
