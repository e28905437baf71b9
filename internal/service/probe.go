package service

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	appErr "github.com/toolhub/hubauth/internal/pkg/errors"
)

// Availability is the result of one store health check. Reason is set
// when the store is unavailable.
type Availability struct {
	Available bool
	Reason    error
}

func Available() Availability {
	return Availability{Available: true}
}

func Unavailable(reason error) Availability {
	return Availability{Reason: reason}
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

type Prober interface {
	Probe(ctx context.Context) Availability
}

// StoreProbe pings the durable store. Concurrent probes share one ping.
type StoreProbe struct {
	db      Pinger
	timeout time.Duration
	group   singleflight.Group
}

func NewStoreProbe(db Pinger, timeout time.Duration) *StoreProbe {
	if timeout <= 0 {
		timeout = 1500 * time.Millisecond
	}
	return &StoreProbe{db: db, timeout: timeout}
}

func (p *StoreProbe) Probe(ctx context.Context) Availability {
	if p.db == nil {
		return Unavailable(appErr.ErrStorageUnavailable)
	}
	_, err, _ := p.group.Do("ping", func() (interface{}, error) {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()
		return nil, p.db.PingContext(pctx)
	})
	if err != nil {
		return Unavailable(fmt.Errorf("%w: %w", appErr.ErrStorageUnavailable, err))
	}
	return Available()
}
