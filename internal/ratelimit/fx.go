package ratelimit

import (
	brokerdomain "github.com/smallbiznis/referralledger/internal/broker/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("rate.limit",
	fx.Provide(NewRedisClient),
	fx.Provide(NewLocker),
	fx.Provide(NewLinkVisitLimiter),
	fx.Provide(func(l *LinkVisitLimiter) brokerdomain.VisitLimiter { return l }),
)
