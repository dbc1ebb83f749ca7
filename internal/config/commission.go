package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// CommissionPolicy holds the tunable commission and fraud parameters.
type CommissionPolicy struct {
	HoldDays              int   `mapstructure:"holdDays"`
	ClawbackDays          int   `mapstructure:"clawbackDays"`
	BrokerActivationDays  int   `mapstructure:"brokerActivationDays"`
	BountyAmount          int64 `mapstructure:"bountyAmount"`
	RecurringAmount       int64 `mapstructure:"recurringAmount"`
	RiskThreshold         int   `mapstructure:"riskThreshold"`
	EmailDistanceMax      int   `mapstructure:"emailDistanceMax"`
	LinkFastWindowMinutes int   `mapstructure:"linkFastWindowMinutes"`
	LinkSlowWindowMinutes int   `mapstructure:"linkSlowWindowMinutes"`
}

func DefaultCommissionPolicy() CommissionPolicy {
	return CommissionPolicy{
		HoldDays:              60,
		ClawbackDays:          90,
		BrokerActivationDays:  60,
		BountyAmount:          50_000,
		RecurringAmount:       5_000,
		RiskThreshold:         50,
		EmailDistanceMax:      2,
		LinkFastWindowMinutes: 60,
		LinkSlowWindowMinutes: 24 * 60,
	}
}

func (p CommissionPolicy) HoldPeriod() time.Duration {
	return time.Duration(p.HoldDays) * 24 * time.Hour
}

func (p CommissionPolicy) ClawbackWindow() time.Duration {
	return time.Duration(p.ClawbackDays) * 24 * time.Hour
}

func (p CommissionPolicy) ActivationPeriod() time.Duration {
	return time.Duration(p.BrokerActivationDays) * 24 * time.Hour
}

func (p CommissionPolicy) LinkFastWindow() time.Duration {
	return time.Duration(p.LinkFastWindowMinutes) * time.Minute
}

func (p CommissionPolicy) LinkSlowWindow() time.Duration {
	return time.Duration(p.LinkSlowWindowMinutes) * time.Minute
}

// PolicySource exposes the current commission policy.
type PolicySource interface {
	Get() CommissionPolicy
}

type CommissionPolicyHolder struct {
	current atomic.Value // holds CommissionPolicy
}

// StaticPolicy wraps a fixed policy, mostly for tests and tooling.
func StaticPolicy(p CommissionPolicy) *CommissionPolicyHolder {
	holder := &CommissionPolicyHolder{}
	holder.current.Store(p)
	return holder
}

func NewCommissionPolicyHolder(log *zap.Logger) (*CommissionPolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("commission")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/referralledger/config")
	v.AddConfigPath("/etc/referralledger")
	v.AddConfigPath(".")

	v.SetEnvPrefix("REFERRALLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultCommissionPolicy()
	v.SetDefault("commission.holdDays", defaults.HoldDays)
	v.SetDefault("commission.clawbackDays", defaults.ClawbackDays)
	v.SetDefault("commission.brokerActivationDays", defaults.BrokerActivationDays)
	v.SetDefault("commission.bountyAmount", defaults.BountyAmount)
	v.SetDefault("commission.recurringAmount", defaults.RecurringAmount)
	v.SetDefault("commission.riskThreshold", defaults.RiskThreshold)
	v.SetDefault("commission.emailDistanceMax", defaults.EmailDistanceMax)
	v.SetDefault("commission.linkFastWindowMinutes", defaults.LinkFastWindowMinutes)
	v.SetDefault("commission.linkSlowWindowMinutes", defaults.LinkSlowWindowMinutes)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg CommissionPolicy
	if err := v.UnmarshalKey("commission", &cfg); err != nil {
		return nil, err
	}
	if err := validateCommissionPolicy(cfg); err != nil {
		return nil, err
	}

	holder := &CommissionPolicyHolder{}
	holder.current.Store(cfg)

	if !fileLoaded {
		log.Info("commission policy file not found, using defaults")
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated CommissionPolicy
		if err := v.UnmarshalKey("commission", &updated); err != nil {
			log.Warn("commission policy reload failed", zap.Error(err))
			return
		}
		if err := validateCommissionPolicy(updated); err != nil {
			log.Warn("invalid commission policy ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("commission policy reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *CommissionPolicyHolder) Get() CommissionPolicy {
	return h.current.Load().(CommissionPolicy)
}

func validateCommissionPolicy(cfg CommissionPolicy) error {
	switch {
	case cfg.HoldDays <= 0:
		return errors.New("commission.holdDays must be positive")
	case cfg.ClawbackDays <= 0:
		return errors.New("commission.clawbackDays must be positive")
	case cfg.BrokerActivationDays < 0:
		return errors.New("commission.brokerActivationDays cannot be negative")
	case cfg.BountyAmount <= 0 || cfg.RecurringAmount <= 0:
		return errors.New("commission amounts must be positive")
	case cfg.RiskThreshold <= 0:
		return errors.New("commission.riskThreshold must be positive")
	case cfg.EmailDistanceMax < 0:
		return errors.New("commission.emailDistanceMax cannot be negative")
	case cfg.LinkFastWindowMinutes <= 0 || cfg.LinkSlowWindowMinutes < cfg.LinkFastWindowMinutes:
		return errors.New("commission link windows are invalid")
	}
	return nil
}
