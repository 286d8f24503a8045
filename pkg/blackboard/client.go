package blackboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Client provides instance-scoped Redis operations for the Glint blackboard:
// durable signature storage and analysis request/event Pub/Sub.
// All keys and channels are namespaced with the instance name.
// The client is safe for concurrent use.
type Client struct {
	rdb          *redis.Client
	instanceName string
}

// NewClient creates a new blackboard client for the specified instance.
//
// Parameters:
//   - redisOpts: Redis connection options (address, password, DB, etc.)
//   - instanceName: Glint instance identifier (must not be empty)
//
// Returns an error if instanceName is empty.
func NewClient(redisOpts *redis.Options, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// InstanceName returns the namespace of this client.
func (c *Client) InstanceName() string {
	return c.instanceName
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// PutSignature replaces the stored signature for s.Key.
// The old hash is deleted and the new one written inside MULTI/EXEC, so a
// concurrent reader sees either the old entry or the new one, never a mix.
func (c *Client) PutSignature(ctx context.Context, s *Signature) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid signature: %w", err)
	}

	hash, err := SignatureToHash(s)
	if err != nil {
		return fmt.Errorf("failed to serialize signature: %w", err)
	}

	key := SignatureKey(c.instanceName, s.Key)
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, hash)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write signature to Redis: %w", err)
	}

	return nil
}

// GetSignature retrieves a signature by key.
// Returns (nil, redis.Nil) if the signature doesn't exist.
// Use IsNotFound() to check for not-found errors.
func (c *Client) GetSignature(ctx context.Context, signatureKey string) (*Signature, error) {
	key := SignatureKey(c.instanceName, signatureKey)

	hashData, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read signature from Redis: %w", err)
	}

	// HGetAll returns an empty map for non-existent keys
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	sig, err := HashToSignature(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize signature: %w", err)
	}

	return sig, nil
}

// SignatureExists checks if a signature exists without fetching it.
func (c *Client) SignatureExists(ctx context.Context, signatureKey string) (bool, error) {
	key := SignatureKey(c.instanceName, signatureKey)
	exists, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check signature existence: %w", err)
	}
	return exists > 0, nil
}

// ScanSignatureKeys lists the keys of every stored signature on this
// instance, using SCAN so large caches do not block the server.
// Returned keys are the content hashes, without the Redis namespace.
func (c *Client) ScanSignatureKeys(ctx context.Context) ([]string, error) {
	prefix := SignatureKey(c.instanceName, "")
	iter := c.rdb.Scan(ctx, 0, prefix+"*", 0).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan signatures: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// PublishAnalysis publishes a finished analysis to glint:{instance}:analysis_events.
func (c *Client) PublishAnalysis(ctx context.Context, event *AnalysisEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis event: %w", err)
	}

	channel := AnalysisEventsChannel(c.instanceName)
	if err := c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish analysis event: %w", err)
	}

	return nil
}

// PublishRequest publishes an analysis request to glint:{instance}:analysis_requests.
func (c *Client) PublishRequest(ctx context.Context, req *AnalysisRequest) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis request: %w", err)
	}

	channel := AnalysisRequestsChannel(c.instanceName)
	if err := c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish analysis request: %w", err)
	}

	return nil
}

// Subscription represents an active Pub/Sub subscription delivering decoded
// messages of type T. Caller must call Close() when done.
type Subscription[T any] struct {
	events <-chan *T
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of decoded messages.
// The channel is closed when the subscription is closed or the context is cancelled.
func (s *Subscription[T]) Events() <-chan *T {
	return s.events
}

// Errors returns the channel of subscription errors.
// Errors include JSON unmarshaling failures; the subscription continues after errors.
func (s *Subscription[T]) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements io.Closer.
// Safe to call multiple times.
func (s *Subscription[T]) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeAnalysisEvents subscribes to finished-analysis events for this instance.
func (c *Client) SubscribeAnalysisEvents(ctx context.Context) (*Subscription[AnalysisEvent], error) {
	return subscribe[AnalysisEvent](ctx, c.rdb, AnalysisEventsChannel(c.instanceName))
}

// SubscribeRequests subscribes to analysis requests for this instance.
func (c *Client) SubscribeRequests(ctx context.Context) (*Subscription[AnalysisRequest], error) {
	return subscribe[AnalysisRequest](ctx, c.rdb, AnalysisRequestsChannel(c.instanceName))
}

// subscribe starts a goroutine that decodes JSON messages from channel.
//
// Events are delivered on a buffered channel (size 10). Redis Pub/Sub is
// at-most-once: a slow subscriber may miss messages.
func subscribe[T any](ctx context.Context, rdb *redis.Client, channel string) (*Subscription[T], error) {
	pubsub := rdb.Subscribe(ctx, channel)

	// Wait for the subscription to be confirmed so publishes after return are not lost
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	eventsChan := make(chan *T, 10)
	errorsChan := make(chan error, 10)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var decoded T
				if err := json.Unmarshal([]byte(msg.Payload), &decoded); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal message on %s: %w", channel, err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &decoded:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription[T]{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error (redis.Nil).
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
