package service

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/symbiote-h2020/Registry-sub000/component"
	"github.com/symbiote-h2020/Registry-sub000/errors"
)

// DefaultStopTimeout bounds each component's graceful shutdown
const DefaultStopTimeout = 10 * time.Second

// Manager drives the lifecycle of the registered components: initialize in
// registration order, start concurrently, stop in reverse order
type Manager struct {
	components  []component.Lifecycle
	started     []component.Lifecycle
	stopTimeout time.Duration
	logger      *slog.Logger
}

// NewManager creates an empty lifecycle manager
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		stopTimeout: DefaultStopTimeout,
		logger:      logger,
	}
}

// Add registers a component; order matters for initialization and shutdown
func (m *Manager) Add(c component.Lifecycle) {
	m.components = append(m.components, c)
}

// Start initializes every component in order, then starts them all. A
// failure stops the already-started components before returning.
func (m *Manager) Start(ctx context.Context) error {
	for _, c := range m.components {
		if err := c.Initialize(); err != nil {
			return errors.Wrap(err, "Manager", "Start", "initialize "+c.Name())
		}
		m.logger.Debug("Component initialized", "component", c.Name())
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range m.components {
		c := c
		g.Go(func() error {
			if err := c.Start(gctx); err != nil {
				return errors.Wrap(err, "Manager", "Start", "start "+c.Name())
			}
			m.logger.Info("Component started", "component", c.Name())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		m.started = m.components
		m.Stop()
		return err
	}

	m.started = m.components
	return nil
}

// Stop shuts components down in reverse registration order. All components
// get their chance to stop; the first error is returned.
func (m *Manager) Stop() error {
	var firstErr error
	for i := len(m.started) - 1; i >= 0; i-- {
		c := m.started[i]
		if err := c.Stop(m.stopTimeout); err != nil {
			m.logger.Error("Component stop failed", "component", c.Name(), "error", err)
			if firstErr == nil {
				firstErr = errors.Wrap(err, "Manager", "Stop", "stop "+c.Name())
			}
			continue
		}
		m.logger.Info("Component stopped", "component", c.Name())
	}
	m.started = nil
	return firstErr
}

// Run starts the components, blocks until ctx is cancelled, then stops them
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	m.logger.Info("Shutting down")
	return m.Stop()
}
