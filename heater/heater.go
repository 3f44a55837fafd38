// Package heater simulates a thermal element whose temperature ramps toward a target.
package heater

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/arloliu/go-gcodelink/internal/task"
	"github.com/arloliu/go-gcodelink/logger"
)

const (
	// DefaultHeatUpTime is how long a heater takes to reach any new target.
	DefaultHeatUpTime = 3 * time.Second
	// DefaultRampInterval is the period of the ramp task.
	DefaultRampInterval = 100 * time.Millisecond
)

// State is a point-in-time copy of a heater.
type State struct {
	Name    string  `json:"name"`
	Current float64 `json:"current"`
	Target  float64 `json:"target"`
}

// Heater is a simulated heater.
//
// The ramp task and SetTarget both take the same lock, so current and target are always
// read and written together.
type Heater struct {
	name       string
	ambient    float64
	heatUpTime time.Duration
	interval   time.Duration
	logger     logger.Logger

	mu      sync.Mutex
	current float64
	target  float64
	rate    float64 // degrees per second

	taskMgr  *task.Manager
	stopOnce sync.Once
}

// New creates a heater at the given ambient temperature and starts its ramp task.
func New(name string, ambient float64, opts ...Option) (*Heater, error) {
	h := &Heater{
		name:       name,
		ambient:    ambient,
		current:    ambient,
		heatUpTime: DefaultHeatUpTime,
		interval:   DefaultRampInterval,
		logger:     logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(h); err != nil {
			return nil, err
		}
	}

	h.logger = h.logger.With("heater", name)
	h.taskMgr = task.NewManager(context.Background(), h.logger)
	if _, err := h.taskMgr.StartInterval("heater-ramp-"+name, h.step, h.interval, false); err != nil {
		return nil, fmt.Errorf("heater: start ramp task: %w", err)
	}

	return h, nil
}

// Name returns the heater name.
func (h *Heater) Name() string { return h.name }

// Current returns the current temperature.
func (h *Heater) Current() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.current
}

// Target returns the target temperature.
func (h *Heater) Target() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.target
}

// Snapshot returns name, current and target read under one lock.
func (h *Heater) Snapshot() State {
	h.mu.Lock()
	defer h.mu.Unlock()

	return State{Name: h.name, Current: h.current, Target: h.target}
}

// SetTarget sets a new target. The ramp task reaches it after the configured heat-up time.
func (h *Heater) SetTarget(target float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.target = target
	dist := math.Abs(h.goal() - h.current)
	h.rate = dist / h.heatUpTime.Seconds()
}

// Stop stops the ramp task. It is safe to call more than once.
func (h *Heater) Stop() {
	h.stopOnce.Do(func() {
		h.taskMgr.Stop()
		h.taskMgr.Wait()
	})
}

// goal is the temperature the ramp heads for; a heater never cools below ambient.
func (h *Heater) goal() float64 {
	return math.Max(h.target, h.ambient)
}

func (h *Heater) step() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	goal := h.goal()
	if h.current == goal || h.rate == 0 {
		return true
	}

	delta := h.rate * h.interval.Seconds()
	if math.Abs(goal-h.current) <= delta {
		h.current = goal
		return true
	}

	if goal > h.current {
		h.current += delta
	} else {
		h.current -= delta
	}

	return true
}
