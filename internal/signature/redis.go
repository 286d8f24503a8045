package signature

import (
	"context"

	"github.com/dyluth/glint/pkg/blackboard"
)

// RedisStore adapts the blackboard Redis client to Store.
type RedisStore struct {
	client *blackboard.Client
}

// NewRedisStore wraps client.
func NewRedisStore(client *blackboard.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get loads the signature, mapping a missing hash to ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, key string) (*blackboard.Signature, error) {
	sig, err := s.client.GetSignature(ctx, key)
	if blackboard.IsNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return sig, nil
}

// Set replaces the signature hash in one MULTI/EXEC.
func (s *RedisStore) Set(ctx context.Context, sig *blackboard.Signature) error {
	return s.client.PutSignature(ctx, sig)
}

// Keys scans the instance's signature hashes.
func (s *RedisStore) Keys(ctx context.Context) ([]string, error) {
	return s.client.ScanSignatureKeys(ctx)
}
