package main

import (
	"context"
	"time"

	"github.com/pivaldi/syncengine/internal/gossip"
	"github.com/pivaldi/syncengine/internal/logging"
	"github.com/pivaldi/syncengine/internal/peerregistry"
)

// reconnectInterval is how often the background reconnection loop
// walks the registry looking for peers whose backoff window has
// elapsed (spec §4.12/§7).
const reconnectInterval = 30 * time.Second

// runReconnectLoop periodically redials every known peer with a stored
// address whose Fibonacci backoff (peerregistry.Peer.ShouldRetryNow)
// has elapsed, recording each attempt so repeated failures keep
// pushing the next retry further out.
func runReconnectLoop(ctx context.Context, registry *peerregistry.Registry, transport *gossip.Transport, logger logging.Logger) {
	ticker := time.NewTicker(reconnectInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reconnectDue(ctx, registry, transport, logger)
		}
	}
}

func reconnectDue(ctx context.Context, registry *peerregistry.Registry, transport *gossip.Transport, logger logging.Logger) {
	peers, err := registry.List()
	if err != nil {
		logger.Warnf("list peers for reconnect: %v", err)
		return
	}
	now := time.Now().Unix()
	for _, p := range peers {
		if p.NodeAddr == "" || !p.ShouldRetryNow(now) {
			continue
		}
		p.RecordAttempt(now)
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := transport.Connect(dialCtx, p.NodeAddr)
		cancel()
		if err != nil {
			p.RecordFailure()
			logger.Infof("reconnect to %s failed: %v", p.DisplayName(), err)
		} else {
			p.RecordSuccess(now)
			logger.Infof("reconnected to %s", p.DisplayName())
		}
		if err := registry.Save(p); err != nil {
			logger.Warnf("save peer %s after reconnect attempt: %v", p.DisplayName(), err)
		}
	}
}
