package stream

import (
	"errors"
	"time"

	"github.com/arloliu/go-gcodelink/logger"
)

type pauseConfig struct {
	macros MacroReplacer
	now    func() time.Time
	logger logger.Logger
}

func defaultPauseConfig() *pauseConfig {
	return &pauseConfig{
		macros: noMacros{},
		now:    time.Now,
		logger: logger.GetLogger(),
	}
}

// PauseOption is a functional option for configuring a PauseHandler.
type PauseOption interface {
	apply(*pauseConfig) error
}

type pauseOptFunc func(*pauseConfig) error

func (f pauseOptFunc) apply(cfg *pauseConfig) error { return f(cfg) }

// WithMacros sets the macro replacer applied to injected code.
func WithMacros(m MacroReplacer) PauseOption {
	return pauseOptFunc(func(cfg *pauseConfig) error {
		if m != nil {
			cfg.macros = m
		}
		return nil
	})
}

// WithClock replaces time.Now for idle and polling timers.
func WithClock(now func() time.Time) PauseOption {
	return pauseOptFunc(func(cfg *pauseConfig) error {
		if now == nil {
			return errors.New("stream: nil clock")
		}
		cfg.now = now
		return nil
	})
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) PauseOption {
	return pauseOptFunc(func(cfg *pauseConfig) error {
		if l != nil {
			cfg.logger = l
		}
		return nil
	})
}
