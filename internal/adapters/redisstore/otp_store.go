package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sokomarket/payment-service/internal/domain"
	"github.com/sokomarket/payment-service/internal/domain/models"
	"github.com/sokomarket/payment-service/internal/domain/ports"
)

const (
	otpKeyPrefix  = "withdrawal:otp:"
	recordField   = "record"
	attemptsField = "attempts"
)

// OTPStore implements ports.OTPStore on Redis. The record and its attempt
// counter live in one hash so the key TTL expires both together, and
// HIncrBy gives the atomic counter two concurrent guesses cannot share.
type OTPStore struct {
	client *redis.Client
}

// NewOTPStore creates a Redis-backed OTP store
func NewOTPStore(client *redis.Client) *OTPStore {
	return &OTPStore{client: client}
}

func otpKey(id string) string {
	return otpKeyPrefix + id
}

// Put stores the record under the given id, replacing any previous one.
// The TTL applies to the whole hash, attempts included.
func (s *OTPStore) Put(ctx context.Context, id string, record *models.OTPRecord, ttl time.Duration) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal otp record: %w", err)
	}

	key := otpKey(id)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, recordField, payload, attemptsField, 0)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store otp record: %w", err)
	}
	return nil
}

// Get returns the record, or ErrOTPExpired once the key TTL has elapsed
func (s *OTPStore) Get(ctx context.Context, id string) (*models.OTPRecord, error) {
	payload, err := s.client.HGet(ctx, otpKey(id), recordField).Result()
	if err == redis.Nil {
		return nil, domain.ErrOTPExpired
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load otp record: %w", err)
	}

	var record models.OTPRecord
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal otp record: %w", err)
	}
	return &record, nil
}

// IncrementAttempts bumps the attempt counter and returns the new value.
// HIncrBy leaves the key TTL untouched. Incrementing an expired id would
// resurrect the key without a TTL, so existence is checked first.
func (s *OTPStore) IncrementAttempts(ctx context.Context, id string) (int64, error) {
	key := otpKey(id)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to check otp record: %w", err)
	}
	if exists == 0 {
		return 0, domain.ErrOTPExpired
	}

	attempts, err := s.client.HIncrBy(ctx, key, attemptsField, 1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment otp attempts: %w", err)
	}
	return attempts, nil
}

// Delete removes the record and its attempt counter
func (s *OTPStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, otpKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete otp record: %w", err)
	}
	return nil
}

var _ ports.OTPStore = (*OTPStore)(nil)
