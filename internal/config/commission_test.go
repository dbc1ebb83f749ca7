package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCommissionPolicy(t *testing.T) {
	p := DefaultCommissionPolicy()

	require.NoError(t, validateCommissionPolicy(p))
	assert.Equal(t, 60*24*time.Hour, p.HoldPeriod())
	assert.Equal(t, 90*24*time.Hour, p.ClawbackWindow())
	assert.Equal(t, 60*24*time.Hour, p.ActivationPeriod())
	assert.Equal(t, time.Hour, p.LinkFastWindow())
	assert.Equal(t, 24*time.Hour, p.LinkSlowWindow())
	assert.Equal(t, int64(50_000), p.BountyAmount)
	assert.Equal(t, int64(5_000), p.RecurringAmount)
	assert.Equal(t, 50, p.RiskThreshold)
}

func TestValidateCommissionPolicyRejectsInvalid(t *testing.T) {
	cases := map[string]func(*CommissionPolicy){
		"zero hold":        func(p *CommissionPolicy) { p.HoldDays = 0 },
		"zero clawback":    func(p *CommissionPolicy) { p.ClawbackDays = 0 },
		"negative amount":  func(p *CommissionPolicy) { p.BountyAmount = -1 },
		"zero threshold":   func(p *CommissionPolicy) { p.RiskThreshold = 0 },
		"inverted windows": func(p *CommissionPolicy) { p.LinkSlowWindowMinutes = 10 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := DefaultCommissionPolicy()
			mutate(&p)
			assert.Error(t, validateCommissionPolicy(p))
		})
	}
}

func TestStaticPolicy(t *testing.T) {
	p := DefaultCommissionPolicy()
	p.HoldDays = 7

	holder := StaticPolicy(p)
	assert.Equal(t, 7, holder.Get().HoldDays)
}
