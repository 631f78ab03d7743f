package ports

import (
	"context"
	"time"

	"github.com/sokomarket/payment-service/internal/domain/models"
)

// OTPStore is a TTL-capable key/value store for one-time passcodes, keyed by
// an opaque OTP id. Expiry is enforced by the store itself: a Get past the
// TTL returns a not-found error.
type OTPStore interface {
	Put(ctx context.Context, id string, record *models.OTPRecord, ttl time.Duration) error
	Get(ctx context.Context, id string) (*models.OTPRecord, error)

	// IncrementAttempts atomically bumps the attempt counter for the record
	// and returns the new value. The record's remaining TTL is preserved.
	// Two concurrent guesses must observe distinct counter values.
	IncrementAttempts(ctx context.Context, id string) (int64, error)

	Delete(ctx context.Context, id string) error
}
