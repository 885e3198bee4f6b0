// Package mint implements the mint role: it terminates the SV2
// mint-quote sub-protocol on the pool link, issues quotes for accepted
// share hashes, and serves the Cashu HTTP API the translator wallet
// redeems against.
package mint

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hashpool/hashpool/pkg/errors"
)

// Quote states
const (
	// QuoteStatePending - quote created, proofs not yet minted
	QuoteStatePending = "PENDING"
	// QuoteStateIssued - proofs minted, quote spent
	QuoteStateIssued = "ISSUED"
)

// Quote is the mint's record of one share's ehash entitlement
type Quote struct {
	ID            string    `json:"id"`
	ShareHash     string    `json:"share_hash"`
	Amount        uint64    `json:"amount"`
	Unit          string    `json:"unit"`
	LockingPubKey []byte    `json:"locking_pubkey"`
	KeysetID      string    `json:"keyset_id"`
	State         string    `json:"state"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Expired reports whether the quote can no longer be redeemed
func (q *Quote) Expired(now time.Time) bool {
	return now.After(q.ExpiresAt)
}

// Store persists quotes. share_hash is the external idempotency key:
// a second request for an already-quoted hash must find the first quote.
type Store interface {
	PutQuote(ctx context.Context, quote *Quote) error
	GetQuote(ctx context.Context, id string) (*Quote, error)
	GetQuoteByShareHash(ctx context.Context, shareHash string) (*Quote, error)
	// MarkIssued transitions a quote to issued exactly once; a second
	// call for the same id fails.
	MarkIssued(ctx context.Context, id string) error
	Close() error
}

// ErrQuoteNotFound is returned for unknown or expired quote lookups
var ErrQuoteNotFound = errors.New(errors.ErrorTypeMint, "get_quote", "quote not found")

// ErrQuoteAlreadyIssued is returned for a second redemption attempt
var ErrQuoteAlreadyIssued = errors.New(errors.ErrorTypeMint, "mark_issued", "quote already issued")

const (
	quoteKeyPrefix  = "mint:quote:"
	shareKeyPrefix  = "mint:share:"
	issuedKeyPrefix = "mint:issued:"
)

// RedisStore persists quotes in Redis with TTL-native expiry
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the link with a ping
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeMint, "new_redis_store", "invalid redis url")
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeNetwork, "new_redis_store", "redis ping failed")
	}

	return &RedisStore{client: client}, nil
}

// PutQuote stores the quote record and the share-hash index, both
// expiring with the quote.
func (s *RedisStore) PutQuote(ctx context.Context, quote *Quote) error {
	data, err := json.Marshal(quote)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "put_quote", "failed to marshal quote")
	}

	ttl := time.Until(quote.ExpiresAt)
	if ttl <= 0 {
		return errors.New(errors.ErrorTypeMint, "put_quote", "quote already expired")
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, quoteKeyPrefix+quote.ID, data, ttl)
	pipe.Set(ctx, shareKeyPrefix+quote.ShareHash, quote.ID, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeMint, "put_quote", "failed to store quote")
	}
	return nil
}

// GetQuote fetches a quote by id
func (s *RedisStore) GetQuote(ctx context.Context, id string) (*Quote, error) {
	data, err := s.client.Get(ctx, quoteKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, ErrQuoteNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeMint, "get_quote", "redis get failed")
	}

	var quote Quote
	if err := json.Unmarshal(data, &quote); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "get_quote", "failed to unmarshal quote")
	}
	return &quote, nil
}

// GetQuoteByShareHash resolves the share-hash index, then the quote
func (s *RedisStore) GetQuoteByShareHash(ctx context.Context, shareHash string) (*Quote, error) {
	id, err := s.client.Get(ctx, shareKeyPrefix+shareHash).Result()
	if err == redis.Nil {
		return nil, ErrQuoteNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeMint, "get_quote_by_share_hash", "redis get failed")
	}
	return s.GetQuote(ctx, id)
}

// MarkIssued sets a single-redeem marker with SetNX so concurrent
// redemption attempts cannot both succeed, then rewrites the record.
func (s *RedisStore) MarkIssued(ctx context.Context, id string) error {
	quote, err := s.GetQuote(ctx, id)
	if err != nil {
		return err
	}

	ttl := time.Until(quote.ExpiresAt)
	if ttl <= 0 {
		return ErrQuoteNotFound
	}

	ok, err := s.client.SetNX(ctx, issuedKeyPrefix+id, "1", ttl).Result()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeMint, "mark_issued", "redis setnx failed")
	}
	if !ok {
		return ErrQuoteAlreadyIssued
	}

	quote.State = QuoteStateIssued
	data, err := json.Marshal(quote)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "mark_issued", "failed to marshal quote")
	}
	if err := s.client.Set(ctx, quoteKeyPrefix+id, data, ttl).Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeMint, "mark_issued", "redis set failed")
	}
	return nil
}

// Close closes the Redis client
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// MemoryStore is an in-process Store used by tests and single-node
// development deployments.
type MemoryStore struct {
	mu      sync.Mutex
	quotes  map[string]*Quote
	byShare map[string]string
}

// NewMemoryStore creates an empty memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		quotes:  make(map[string]*Quote),
		byShare: make(map[string]string),
	}
}

// PutQuote stores a copy of the quote
func (s *MemoryStore) PutQuote(ctx context.Context, quote *Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *quote
	s.quotes[quote.ID] = &stored
	s.byShare[quote.ShareHash] = quote.ID
	return nil
}

// GetQuote fetches a quote by id, honoring expiry
func (s *MemoryStore) GetQuote(ctx context.Context, id string) (*Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	quote, ok := s.quotes[id]
	if !ok || quote.Expired(time.Now()) {
		return nil, ErrQuoteNotFound
	}
	copied := *quote
	return &copied, nil
}

// GetQuoteByShareHash resolves the share-hash index, then the quote
func (s *MemoryStore) GetQuoteByShareHash(ctx context.Context, shareHash string) (*Quote, error) {
	s.mu.Lock()
	id, ok := s.byShare[shareHash]
	s.mu.Unlock()
	if !ok {
		return nil, ErrQuoteNotFound
	}
	return s.GetQuote(ctx, id)
}

// MarkIssued transitions a quote to issued exactly once
func (s *MemoryStore) MarkIssued(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	quote, ok := s.quotes[id]
	if !ok || quote.Expired(time.Now()) {
		return ErrQuoteNotFound
	}
	if quote.State == QuoteStateIssued {
		return ErrQuoteAlreadyIssued
	}
	quote.State = QuoteStateIssued
	return nil
}

// Close is a no-op for the memory store
func (s *MemoryStore) Close() error {
	return nil
}
