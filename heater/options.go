package heater

import (
	"errors"
	"time"

	"github.com/arloliu/go-gcodelink/logger"
)

// Option is a functional option for configuring a Heater.
type Option interface {
	apply(*Heater) error
}

type optFunc func(*Heater) error

func (f optFunc) apply(h *Heater) error { return f(h) }

// WithHeatUpTime sets how long the heater takes to reach a new target.
func WithHeatUpTime(d time.Duration) Option {
	return optFunc(func(h *Heater) error {
		if d <= 0 {
			return errors.New("heater: heat-up time must be positive")
		}
		h.heatUpTime = d
		return nil
	})
}

// WithRampInterval sets the ramp task period.
func WithRampInterval(d time.Duration) Option {
	return optFunc(func(h *Heater) error {
		if d <= 0 {
			return errors.New("heater: ramp interval must be positive")
		}
		h.interval = d
		return nil
	})
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(h *Heater) error {
		if l != nil {
			h.logger = l
		}
		return nil
	})
}
