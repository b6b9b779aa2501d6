// Package surface provides host presentation surfaces for rendered tickets.
package surface

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"ticket-delivery/internal/config"
	"ticket-delivery/internal/delivery"
	"ticket-delivery/internal/domain"
)

// New selects the surface named by cfg.Surface.Kind.
func New(cfg config.DeliveryConfig) (delivery.Surface, error) {
	switch strings.ToLower(cfg.Surface.Kind) {
	case "chrome":
		return NewChrome(cfg.Surface, cfg.ViewTTL), nil
	case "system", "":
		return NewSystem(cfg.Surface, cfg.ViewTTL), nil
	case "none":
		return None{}, nil
	}
	return nil, fmt.Errorf("unknown surface kind %q", cfg.Surface.Kind)
}

// None is the surface of a host without a display; every open is blocked.
type None struct{}

func (None) Name() string { return "none" }

func (None) Open(ctx context.Context, doc domain.DocumentRef, mode domain.Mode) (delivery.Session, error) {
	return nil, fmt.Errorf("%w: host has no presentation surface", domain.ErrPresentationBlocked)
}

// lifetime closes done after ttl or on stop, whichever comes first.
type lifetime struct {
	done  chan struct{}
	once  sync.Once
	onEnd func()
	timer *time.Timer
}

func newLifetime(ttl time.Duration, onEnd func()) *lifetime {
	l := &lifetime{done: make(chan struct{}), onEnd: onEnd}
	if ttl > 0 {
		l.timer = time.AfterFunc(ttl, l.end)
	}
	return l
}

func (l *lifetime) end() {
	l.once.Do(func() {
		if l.onEnd != nil {
			l.onEnd()
		}
		close(l.done)
	})
}

func (l *lifetime) stop() {
	if l.timer != nil {
		l.timer.Stop()
	}
	l.end()
}
