package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock abstracts time so reset evaluation and TTLs are testable.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// New returns the wall clock. All timestamps in the engine are UTC.
func New() Clock {
	return systemClock{}
}

var Module = fx.Module("clock",
	fx.Provide(New),
)
