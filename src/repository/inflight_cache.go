package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-redis/redis/v8"
)

// InflightSponsorship is one signed authorization that has been handed
// out but not yet settled. The set of these is what an operator inspects
// during a sponsor's withdrawal delay window: it bounds the staleness of
// any balance-based sponsorship decision.
type InflightSponsorship struct {
	UserOpHash  common.Hash    `json:"user_op_hash"`
	Sponsor     common.Address `json:"sponsor"`
	MaxCostWei  string         `json:"max_cost_wei"`
	PriceMarkup uint32         `json:"price_markup"`
	ValidUntil  uint64         `json:"valid_until"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Expired reports whether the authorization's window has passed.
func (s *InflightSponsorship) Expired(now time.Time) bool {
	return s.ValidUntil != 0 && uint64(now.Unix()) > s.ValidUntil
}

// InflightCacheRepository tracks outstanding sponsorships in Redis so
// every instance of the service shares one view.
type InflightCacheRepository struct {
	redis   *redis.Client
	hashKey string
}

func NewInflightCacheRepository(redis *redis.Client, keyPrefix string) *InflightCacheRepository {
	return &InflightCacheRepository{
		redis:   redis,
		hashKey: keyPrefix + ":inflight",
	}
}

// Track records a freshly signed sponsorship.
func (r *InflightCacheRepository) Track(ctx context.Context, sponsorship InflightSponsorship) error {
	data, err := json.Marshal(sponsorship)
	if err != nil {
		return fmt.Errorf("failed to marshal inflight sponsorship: %w", err)
	}
	return r.redis.HSet(ctx, r.hashKey, sponsorship.UserOpHash.Hex(), data).Err()
}

// Clear removes a sponsorship once it settles.
func (r *InflightCacheRepository) Clear(ctx context.Context, userOpHash common.Hash) error {
	return r.redis.HDel(ctx, r.hashKey, userOpHash.Hex()).Err()
}

// List returns every tracked sponsorship, skipping entries whose window
// already expired.
func (r *InflightCacheRepository) List(ctx context.Context, now time.Time) ([]*InflightSponsorship, error) {
	raw, err := r.redis.HGetAll(ctx, r.hashKey).Result()
	if err != nil {
		return nil, err
	}

	out := make([]*InflightSponsorship, 0, len(raw))
	for _, data := range raw {
		var sponsorship InflightSponsorship
		if err := json.Unmarshal([]byte(data), &sponsorship); err != nil {
			return nil, fmt.Errorf("failed to unmarshal inflight sponsorship: %w", err)
		}
		if sponsorship.Expired(now) {
			continue
		}
		out = append(out, &sponsorship)
	}
	return out, nil
}

// PruneExpired drops entries whose validity window has passed and returns
// how many were removed.
func (r *InflightCacheRepository) PruneExpired(ctx context.Context, now time.Time) (int, error) {
	raw, err := r.redis.HGetAll(ctx, r.hashKey).Result()
	if err != nil {
		return 0, err
	}

	var expired []string
	for field, data := range raw {
		var sponsorship InflightSponsorship
		if err := json.Unmarshal([]byte(data), &sponsorship); err != nil {
			// Unparseable entries are dropped rather than kept forever.
			expired = append(expired, field)
			continue
		}
		if sponsorship.Expired(now) {
			expired = append(expired, field)
		}
	}

	if len(expired) == 0 {
		return 0, nil
	}
	if err := r.redis.HDel(ctx, r.hashKey, expired...).Err(); err != nil {
		return 0, err
	}
	return len(expired), nil
}
