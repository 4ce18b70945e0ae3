package registry

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Monitor periodically probes every registered connection and force-closes
// the ones that stopped answering. Closing the transport makes the
// connection's read loop exit, which performs the actual registry cleanup.
// In-flight fan-out work targeting a terminated connection is unaffected; it
// handles its own send failures.
type Monitor struct {
	registry *Registry
	interval time.Duration
	log      zerolog.Logger
}

// NewMonitor creates a heartbeat monitor over the given registry.
func NewMonitor(registry *Registry, interval time.Duration, log zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		registry: registry,
		interval: interval,
		log:      log.With().Str("component", "heartbeat").Logger(),
	}
}

// Run probes until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probeAll()
		}
	}
}

func (m *Monitor) probeAll() {
	for _, c := range m.registry.Snapshot() {
		if c.Probe() {
			m.log.Info().Str("session", c.SessionID()).Msg("connection unresponsive, terminating")
			if err := c.Close(); err != nil {
				m.log.Debug().Err(err).Str("session", c.SessionID()).Msg("close failed")
			}
			continue
		}

		if err := c.Ping(); err != nil {
			m.log.Debug().Err(err).Str("session", c.SessionID()).Msg("ping failed, terminating")
			_ = c.Close()
		}
	}
}
