package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock abstracts wall time so hold and clawback windows can be tested.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real time in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

var Module = fx.Module("clock",
	fx.Provide(func() Clock { return SystemClock{} }),
)
