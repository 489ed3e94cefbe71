package transport

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ReconnectPolicy decides whether and when a dropped connection is redialed.
// Next is called after each failure; Reset after each successful connect.
type ReconnectPolicy interface {
	Next() (time.Duration, bool)
	Reset()
}

// NeverReconnect leaves a dropped connection dropped.
type NeverReconnect struct{}

func (NeverReconnect) Next() (time.Duration, bool) { return 0, false }
func (NeverReconnect) Reset()                      {}

// BackoffSettings bound the exponential reconnect schedule. Zero values pick
// the backoff library defaults, except MaxRetries where zero means unlimited.
type BackoffSettings struct {
	InitialInterval time.Duration `mapstructure:"initial_interval" yaml:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval" yaml:"max_interval"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time" yaml:"max_elapsed_time"`
	MaxRetries      uint64        `mapstructure:"max_retries" yaml:"max_retries"`
}

// BackoffPolicy is a bounded exponential backoff with jitter.
type BackoffPolicy struct {
	mu sync.Mutex
	b  backoff.BackOff
}

var _ ReconnectPolicy = (*BackoffPolicy)(nil)

func NewBackoffPolicy(s BackoffSettings) *BackoffPolicy {
	eb := backoff.NewExponentialBackOff()
	if s.InitialInterval > 0 {
		eb.InitialInterval = s.InitialInterval
	}
	if s.MaxInterval > 0 {
		eb.MaxInterval = s.MaxInterval
	}
	if s.MaxElapsedTime > 0 {
		eb.MaxElapsedTime = s.MaxElapsedTime
	}
	var b backoff.BackOff = eb
	if s.MaxRetries > 0 {
		b = backoff.WithMaxRetries(eb, s.MaxRetries)
	}
	b.Reset()
	return &BackoffPolicy{b: b}
}

func (p *BackoffPolicy) Next() (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d := p.b.NextBackOff()
	if d == backoff.Stop {
		return 0, false
	}
	return d, true
}

func (p *BackoffPolicy) Reset() {
	p.mu.Lock()
	p.b.Reset()
	p.mu.Unlock()
}
