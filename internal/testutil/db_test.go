package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenDBIsIsolated(t *testing.T) {
	first := OpenDB(t)
	second := OpenDB(t)

	require.NoError(t, first.Exec(
		`INSERT INTO webhook_events (id, provider, event_id, event_type, payload, outcome, received_at)
		 VALUES (1, 'stripe', 'evt_1', 'invoice.paid', '{}', 'ignored', CURRENT_TIMESTAMP)`,
	).Error)

	var inFirst, inSecond int64
	require.NoError(t, first.Raw(`SELECT COUNT(1) FROM webhook_events`).Scan(&inFirst).Error)
	require.NoError(t, second.Raw(`SELECT COUNT(1) FROM webhook_events`).Scan(&inSecond).Error)
	assert.Equal(t, int64(1), inFirst)
	assert.Equal(t, int64(0), inSecond)
}
