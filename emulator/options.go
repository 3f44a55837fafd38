package emulator

import (
	"context"
	"errors"
	"time"

	"github.com/arloliu/go-gcodelink/heater"
	"github.com/arloliu/go-gcodelink/logger"
)

const (
	DefaultDTRInterval = 10 * time.Millisecond
	DefaultProbeDelay  = 500 * time.Millisecond
	DefaultSlowDelay   = 20 * time.Millisecond

	// DefaultMaxExtruders bounds the extruder index accepted by M104 and T<n>.
	DefaultMaxExtruders = 8

	// DefaultExtruderTemp and DefaultBedTemp are the ambient temperatures of new heaters.
	DefaultExtruderTemp = 27.0
	DefaultBedTemp      = 26.0

	// lineErrorPeriod is how often a numbered line is corrupted when line errors are simulated.
	lineErrorPeriod = 11
)

type config struct {
	ctx                context.Context
	logger             logger.Logger
	heaterOpts         []heater.Option
	hasHeatedBed       bool
	maxExtruders       int
	runSlow            bool
	simulateLineErrors bool
	dtrInterval        time.Duration
	probeDelay         time.Duration
	slowDelay          time.Duration
}

func defaultConfig() *config {
	return &config{
		ctx:          context.Background(),
		logger:       logger.GetLogger(),
		hasHeatedBed: true,
		maxExtruders: DefaultMaxExtruders,
		dtrInterval:  DefaultDTRInterval,
		probeDelay:   DefaultProbeDelay,
		slowDelay:    DefaultSlowDelay,
	}
}

// Option is a functional option for configuring an Emulator.
type Option interface {
	apply(*config) error
}

type optFunc func(*config) error

func (f optFunc) apply(cfg *config) error { return f(cfg) }

// WithContext sets the parent context of the emulator's background tasks.
func WithContext(ctx context.Context) Option {
	return optFunc(func(cfg *config) error {
		if ctx == nil {
			return errors.New("emulator: nil context")
		}
		cfg.ctx = ctx
		return nil
	})
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *config) error {
		if l != nil {
			cfg.logger = l
		}
		return nil
	})
}

// WithHeaterOptions passes options to every heater the emulator creates.
func WithHeaterOptions(opts ...heater.Option) Option {
	return optFunc(func(cfg *config) error {
		cfg.heaterOpts = append(cfg.heaterOpts, opts...)
		return nil
	})
}

// WithoutHeatedBed removes the bed heater; M140/M190 become no-ops and M105 omits the bed.
func WithoutHeatedBed() Option {
	return optFunc(func(cfg *config) error {
		cfg.hasHeatedBed = false
		return nil
	})
}

// WithRunSlow adds a fixed delay to every recognized command.
func WithRunSlow(enable bool) Option {
	return optFunc(func(cfg *config) error {
		cfg.runSlow = enable
		return nil
	})
}

// WithSimulateLineErrors corrupts every 11th numbered line before validation, forcing a resend.
func WithSimulateLineErrors(enable bool) Option {
	return optFunc(func(cfg *config) error {
		cfg.simulateLineErrors = enable
		return nil
	})
}

// WithProbeDelay sets the artificial latency of G30.
func WithProbeDelay(d time.Duration) Option {
	return optFunc(func(cfg *config) error {
		if d < 0 {
			return errors.New("emulator: negative probe delay")
		}
		cfg.probeDelay = d
		return nil
	})
}

// WithDTRInterval sets the DTR mirror polling interval.
func WithDTRInterval(d time.Duration) Option {
	return optFunc(func(cfg *config) error {
		if d <= 0 {
			return errors.New("emulator: DTR interval must be positive")
		}
		cfg.dtrInterval = d
		return nil
	})
}

// WithMaxExtruders sets how many extruders a command may address. Higher indexes are
// rejected and acknowledged without effect.
func WithMaxExtruders(n int) Option {
	return optFunc(func(cfg *config) error {
		if n < 1 {
			return errors.New("emulator: max extruders must be at least 1")
		}
		cfg.maxExtruders = n
		return nil
	})
}
