package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const tokenPrefix = "stream_token:"

var (
	ErrTokenNotFound    = errors.New("token not found or expired")
	ErrStoreUnavailable = errors.New("token store unavailable")
	ErrMalformedToken   = errors.New("malformed token payload")
)

// TokenStore handles the one-time stream tokens the auth collaborator
// issues. A token maps to a user id, lives for a short TTL, and is consumed
// exactly once.
type TokenStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewTokenStore(rdb *redis.Client, ttl time.Duration) *TokenStore {
	return &TokenStore{rdb: rdb, ttl: ttl}
}

// Issue creates a fresh one-time token for a user.
func (s *TokenStore) Issue(ctx context.Context, userID int64) (string, error) {
	token := uuid.NewString()
	key := tokenPrefix + token
	if err := s.rdb.Set(ctx, key, strconv.FormatInt(userID, 10), s.ttl).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return token, nil
}

// Consume atomically reads and deletes a token, so it cannot be replayed.
func (s *TokenStore) Consume(ctx context.Context, token string) (int64, error) {
	val, err := s.rdb.GetDel(ctx, tokenPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrTokenNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	userID, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, ErrMalformedToken
	}
	return userID, nil
}
