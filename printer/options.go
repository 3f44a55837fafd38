package printer

import (
	"context"
	"errors"
	"time"

	"github.com/arloliu/go-gcodelink/logger"
	"github.com/arloliu/go-gcodelink/stream"
)

const (
	// DefaultAckTimeout is how long the sender waits for ok before moving on.
	DefaultAckTimeout = 2 * time.Minute
	// DefaultIdleInterval is how often an idle sender polls the pipeline.
	DefaultIdleInterval = 50 * time.Millisecond
	// DefaultHistorySize is how many numbered lines are kept for resend.
	DefaultHistorySize = 64
)

type config struct {
	ctx           context.Context
	logger        logger.Logger
	lineNumbers   bool
	settings      stream.PauseSettings
	macros        stream.MacroReplacer
	pauseOpts     []stream.PauseOption
	ackTimeout    time.Duration
	idleInterval  time.Duration
	historySize   int
	stateHandlers []CommStateChangeHandler
}

func defaultConfig() *config {
	return &config{
		ctx:          context.Background(),
		logger:       logger.GetLogger(),
		ackTimeout:   DefaultAckTimeout,
		idleInterval: DefaultIdleInterval,
		historySize:  DefaultHistorySize,
	}
}

// Option is a functional option for configuring a Connection.
type Option interface {
	apply(*config) error
}

type optFunc func(*config) error

func (f optFunc) apply(cfg *config) error {
	return f(cfg)
}

// WithContext sets the parent context of the connection tasks.
func WithContext(ctx context.Context) Option {
	return optFunc(func(cfg *config) error {
		if ctx == nil {
			return errors.New("printer: nil context")
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

// WithLineNumbers enables N-prefixed, checksummed lines with resend support.
func WithLineNumbers(enabled bool) Option {
	return optFunc(func(cfg *config) error {
		cfg.lineNumbers = enabled
		return nil
	})
}

// WithPauseSettings sets the pause, resume and keep-alive behavior.
func WithPauseSettings(settings stream.PauseSettings) Option {
	return optFunc(func(cfg *config) error {
		cfg.settings = settings
		return nil
	})
}

// WithMacros sets the macro replacer used for queued lines and injected pause code.
func WithMacros(m stream.MacroReplacer) Option {
	return optFunc(func(cfg *config) error {
		cfg.macros = m
		return nil
	})
}

// WithPauseOptions passes extra options to the pause stage.
func WithPauseOptions(opts ...stream.PauseOption) Option {
	return optFunc(func(cfg *config) error {
		cfg.pauseOpts = append(cfg.pauseOpts, opts...)
		return nil
	})
}

// WithAckTimeout sets how long a sent line may wait for ok.
func WithAckTimeout(d time.Duration) Option {
	return optFunc(func(cfg *config) error {
		if d <= 0 {
			return errors.New("printer: ack timeout must be positive")
		}
		cfg.ackTimeout = d
		return nil
	})
}

// WithIdleInterval sets the poll interval used when the pipeline has nothing to send.
func WithIdleInterval(d time.Duration) Option {
	return optFunc(func(cfg *config) error {
		if d <= 0 {
			return errors.New("printer: idle interval must be positive")
		}
		cfg.idleInterval = d
		return nil
	})
}

// WithHistorySize sets how many numbered lines are kept for resend.
func WithHistorySize(n int) Option {
	return optFunc(func(cfg *config) error {
		if n < 1 {
			return errors.New("printer: history size must be at least 1")
		}
		cfg.historySize = n
		return nil
	})
}

// WithStateHandlers registers communication state handlers at construction.
func WithStateHandlers(handlers ...CommStateChangeHandler) Option {
	return optFunc(func(cfg *config) error {
		cfg.stateHandlers = append(cfg.stateHandlers, handlers...)
		return nil
	})
}
