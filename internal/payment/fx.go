package payment

import (
	"github.com/smallbiznis/referralledger/internal/payment/adapters"
	"github.com/smallbiznis/referralledger/internal/payment/adapters/stripe"
	"github.com/smallbiznis/referralledger/internal/payment/platform"
	"github.com/smallbiznis/referralledger/internal/payment/repository"
	"github.com/smallbiznis/referralledger/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(platform.NewClient),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			stripe.NewFactory(),
		)
	}),
	fx.Provide(webhook.NewService),
)
