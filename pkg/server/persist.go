package server

import (
	"log/slog"
	"sync"
)

// persister serializes writes of one document. Each run takes a fresh
// snapshot, so a later write always carries the newest state. Failures are
// logged and counted; the in-memory table stays authoritative.
type persister struct {
	mu      sync.Mutex
	doc     string
	metrics *Metrics
}

func (p *persister) run(save func() error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := save(); err != nil {
		p.metrics.PersistFailures.Add(1)
		slog.Error("persist failed", "doc", p.doc, "err", err)
	}
}
