package callkit

import (
	"log/slog"
	"sync"
	"time"

	"github.com/meetscribe/callkit/pkg/protocol"
)

// keepaliveMonitor sends the heartbeat token over one channel on a fixed
// interval. It stops on its own when the channel's read loop exits, so a
// dropped connection never leaves a ticker goroutine behind.
type keepaliveMonitor struct {
	ch       *wsChannel
	interval time.Duration
	logger   *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

func startKeepalive(ch *wsChannel, interval time.Duration, logger *slog.Logger) *keepaliveMonitor {
	m := &keepaliveMonitor{
		ch:       ch,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *keepaliveMonitor) run() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-m.ch.done:
			return
		case <-ticker.C:
			if err := m.ch.sendText([]byte(protocol.KeepaliveToken)); err != nil {
				m.logger.Debug("keepalive send failed",
					"channel", string(m.ch.role),
					"error", err)
				return
			}
		}
	}
}

func (m *keepaliveMonitor) Stop() {
	if m == nil {
		return
	}
	m.stopOnce.Do(func() { close(m.stop) })
}
