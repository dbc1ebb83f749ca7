package migration

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpStatementsCoverSchema(t *testing.T) {
	stmts, err := upStatements()
	require.NoError(t, err)
	require.NotEmpty(t, stmts)

	joined := strings.Join(stmts, "\n")
	for _, table := range []string{"brokers", "broker_link_visits", "referred_customers", "referrals", "webhook_events", "audit_logs"} {
		assert.Contains(t, joined, "CREATE TABLE IF NOT EXISTS "+table+" ")
	}
	assert.Contains(t, joined, "ux_referrals_bounty")
	assert.Contains(t, joined, "ux_webhook_events_provider_event")
	assert.Contains(t, joined, "ix_webhook_events_customer")
}
