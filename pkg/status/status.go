// Package status reads and caches whether an agent's publishing page is
// connected.
package status

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/postpilot/pkg/backend"
)

const DefaultTTL = 30 * time.Second

type Status struct {
	AccessTokenStatus string `json:"access_token_status" yaml:"access_token_status"`
	PermissionsOK     bool   `json:"permissions_ok" yaml:"permissions_ok"`
}

// Connected is true only for a valid token with the required permissions.
func (s Status) Connected() bool {
	return s.AccessTokenStatus == "valid" && s.PermissionsOK
}

type Source interface {
	FacebookStatus(ctx context.Context, agentID string) (backend.StatusResponse, error)
}

type Checker struct {
	src   Source
	cache *cache.Cache
	// serializes lookups per checker so concurrent callers share one request
	mu sync.Mutex
}

// NewChecker caches answers for ttl. A non-positive ttl disables caching.
func NewChecker(src Source, ttl time.Duration) *Checker {
	c := &Checker{src: src}
	if ttl > 0 {
		c.cache = cache.New(ttl, 2*ttl)
	}
	return c
}

func (c *Checker) Check(ctx context.Context, agentID string) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cache != nil {
		if v, ok := c.cache.Get(agentID); ok {
			return v.(Status), nil
		}
	}
	resp, err := c.src.FacebookStatus(ctx, agentID)
	if err != nil {
		return Status{}, errors.Wrap(err, "read facebook status")
	}
	st := Status{AccessTokenStatus: resp.AccessTokenStatus, PermissionsOK: resp.PermissionsOK}
	log.Debug().
		Str("component", "status").
		Str("agent_id", agentID).
		Bool("connected", st.Connected()).
		Msg("facebook status refreshed")
	if c.cache != nil {
		c.cache.SetDefault(agentID, st)
	}
	return st, nil
}

// Invalidate drops the cached answer for agentID.
func (c *Checker) Invalidate(agentID string) {
	if c.cache != nil {
		c.cache.Delete(agentID)
	}
}
