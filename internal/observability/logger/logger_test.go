package logger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSampleBelowWarnKeepsEveryWarning(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(sampleBelowWarn(core, time.Minute, 1, 0))

	for i := 0; i < 5; i++ {
		log.Info("referral created")
		log.Warn("transfer failed")
	}

	assert.Equal(t, 1, logs.FilterMessage("referral created").Len())
	assert.Equal(t, 5, logs.FilterMessage("transfer failed").Len())
}

func TestSampleBelowWarnRespectsCoreLevel(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	log := zap.New(sampleBelowWarn(core, time.Minute, 1, 0))

	log.Warn("dropped")
	log.Error("kept")

	assert.Equal(t, 0, logs.FilterMessage("dropped").Len())
	assert.Equal(t, 1, logs.FilterMessage("kept").Len())
}

func TestNormalizeFormat(t *testing.T) {
	assert.Equal(t, "console", normalizeFormat(" Console "))
	assert.Equal(t, "json", normalizeFormat("logfmt"))
}
