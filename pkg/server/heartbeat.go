package server

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweep disconnects every connection idle for at least the idle timeout as
// of now, and returns how many were dropped. Any decoded inbound packet
// counts as activity.
func (s *Server) Sweep(now time.Time) int {
	evicted := 0
	for _, c := range s.conns.All() {
		idle := now.Sub(c.LastActivity())
		if idle < s.cfg.IdleTimeout {
			continue
		}
		slog.Info("disconnecting idle connection", "conn", c.ID(), "user", c.Username(), "idle", idle.Truncate(time.Second))
		s.metrics.HeartbeatEvictions.Add(1)
		s.disconnect(c, "idle timeout")
		evicted++
	}
	return evicted
}

// scheduler runs the periodic jobs: the heartbeat sweep and the metrics log.
type scheduler struct {
	cron *cron.Cron
}

func (s *Server) newScheduler() *scheduler {
	c := cron.New()
	if s.cfg.HeartbeatInterval > 0 {
		c.Schedule(cron.Every(s.cfg.HeartbeatInterval), cron.FuncJob(func() {
			s.Sweep(s.now())
		}))
	}
	if s.cfg.MetricsInterval > 0 {
		c.Schedule(cron.Every(s.cfg.MetricsInterval), cron.FuncJob(s.metrics.LogSummary))
	}
	return &scheduler{cron: c}
}

func (sc *scheduler) Start() {
	sc.cron.Start()
}

// Stop stops scheduling and waits for a running job to finish.
func (sc *scheduler) Stop() {
	<-sc.cron.Stop().Done()
}
