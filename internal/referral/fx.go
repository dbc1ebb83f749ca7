package referral

import (
	paymentdomain "github.com/smallbiznis/referralledger/internal/payment/domain"
	"github.com/smallbiznis/referralledger/internal/referral/domain"
	"github.com/smallbiznis/referralledger/internal/referral/repository"
	"github.com/smallbiznis/referralledger/internal/referral/service"
	"go.uber.org/fx"
)

var Module = fx.Module("referral.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(func(s *service.Service) domain.Service { return s }),
	fx.Provide(func(s *service.Service) paymentdomain.EventHandler { return s }),
)
