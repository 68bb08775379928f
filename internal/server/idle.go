package server

import (
	"context"
	"time"
)

// monitorIdle shuts the server down once no command has been processed and
// no connection accepted for IdleTimeout.
func (s *Server) monitorIdle() {
	window := s.cfg.IdleTimeout
	tick := window / 6
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := s.clock.Ticker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			idle := s.Idle()
			if idle < window {
				continue
			}
			s.log.Info().Dur("idle", idle).Dur("window", window).Msg("no activity, shutting down")

			ctx, cancel := context.WithTimeout(context.Background(), idleShutdownTimeout)
			if err := s.Shutdown(ctx); err != nil {
				s.log.Warn().Err(err).Msg("idle shutdown")
			}
			cancel()
			return
		}
	}
}

const idleShutdownTimeout = 10 * time.Second

// Idle reports how long the server has gone without activity.
func (s *Server) Idle() time.Duration {
	last := time.Unix(0, s.lastActivity.Load())
	return s.clock.Now().Sub(last)
}
