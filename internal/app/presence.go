package app

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ovident/telecall/internal/domain"
)

const presencePrefix = "telecall:presence:"

// Presence records which users currently hold a live signaling channel, so
// the surrounding platform can show availability. Nil-safe: a nil *Presence
// disables the feature without branching at call sites.
type Presence struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewPresence(rdb *redis.Client, ttl time.Duration) *Presence {
	return &Presence{rdb: rdb, ttl: ttl}
}

func (p *Presence) Online(ctx context.Context, uid domain.UserID) {
	if p == nil {
		return
	}
	if err := p.rdb.Set(ctx, presencePrefix+string(uid), "1", p.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("module", "app.presence").Str("uid", string(uid)).Msg("set presence")
	}
}

// Refresh extends the TTL; called on the channel's ping cadence so a crashed
// relay never leaves a user permanently "online".
func (p *Presence) Refresh(ctx context.Context, uid domain.UserID) {
	if p == nil {
		return
	}
	if err := p.rdb.Expire(ctx, presencePrefix+string(uid), p.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("module", "app.presence").Str("uid", string(uid)).Msg("refresh presence")
	}
}

func (p *Presence) Offline(ctx context.Context, uid domain.UserID) {
	if p == nil {
		return
	}
	if err := p.rdb.Del(ctx, presencePrefix+string(uid)).Err(); err != nil {
		log.Warn().Err(err).Str("module", "app.presence").Str("uid", string(uid)).Msg("del presence")
	}
}

func (p *Presence) IsOnline(ctx context.Context, uid domain.UserID) (bool, error) {
	if p == nil {
		return false, nil
	}
	n, err := p.rdb.Exists(ctx, presencePrefix+string(uid)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
