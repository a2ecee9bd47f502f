package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock supplies the current time. Timestamps persisted by the services
// are always taken from a Clock so tests can pin them.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

func NewSystemClock() Clock {
	return systemClock{}
}

var Module = fx.Module("clock",
	fx.Provide(NewSystemClock),
)
