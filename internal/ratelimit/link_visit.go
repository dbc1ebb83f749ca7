package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/referralledger/internal/config"
)

const keyLinkVisit = "referral:link:%s:%s"

// LinkVisitLimiter throttles repeated clicks on a referral link from one
// visitor, which would otherwise let a broker manufacture fresh visit
// timestamps before each signup.
type LinkVisitLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewLinkVisitLimiter(cfg config.Config, client *redis.Client) (*LinkVisitLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled || client == nil {
		return nil, nil
	}
	if limitCfg.LinkVisitRate <= 0 || limitCfg.LinkVisitBurst <= 0 {
		return nil, errors.New("link visit rate limit must be positive")
	}
	return &LinkVisitLimiter{
		bucket: NewTokenBucket(client),
		rate:   limitCfg.LinkVisitRate,
		burst:  limitCfg.LinkVisitBurst,
	}, nil
}

func (l *LinkVisitLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *LinkVisitLimiter) AllowVisit(ctx context.Context, code, visitorIP string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	key := fmt.Sprintf(keyLinkVisit, strings.TrimSpace(code), strings.TrimSpace(visitorIP))
	res, err := l.bucket.Allow(ctx, key, l.rate, l.burst)
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}
