// Package counters drives the decorative "visitors" and "spots left" numbers
// on the landing page. Nothing in the registration pipeline reads them.
package counters

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/ProofDrop/internal/kvstore"
)

// Storage keys. Existing browser-era values keep working under these names.
const (
	KeyVisitors = "visitorsCount"
	KeySpots    = "spotsCount"
)

// Bounds fixes the start values and clamps. Visitors only grow, spots only
// shrink.
type Bounds struct {
	VisitorsStart int
	VisitorsMax   int
	SpotsStart    int
	SpotsMin      int
}

// Values is one reading of both counters.
type Values struct {
	Visitors int `json:"visitors"`
	Spots    int `json:"spots"`
}

// Counter holds the current values and persists each change.
type Counter struct {
	kv     kvstore.KV
	bounds Bounds
	delay  func() time.Duration
	log    *zap.Logger

	mu     sync.RWMutex
	values Values
}

// New builds a Counter at the start values. delay picks the wait before each
// tick in Run.
func New(kv kvstore.KV, bounds Bounds, delay func() time.Duration, log *zap.Logger) *Counter {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Counter{kv: kv, bounds: bounds, delay: delay, log: log}
	c.values = c.clamp(Values{Visitors: bounds.VisitorsStart, Spots: bounds.SpotsStart})
	return c
}

// RandomDelay returns a delay function uniform over [min, max].
func RandomDelay(min, max time.Duration, rnd *rand.Rand) func() time.Duration {
	var mu sync.Mutex
	return func() time.Duration {
		if max <= min {
			return min
		}
		mu.Lock()
		defer mu.Unlock()
		return min + time.Duration(rnd.Int63n(int64(max-min)+1))
	}
}

// Load restores stored values. Both keys must be present and numeric,
// otherwise the start values are kept. Stored values are clamped.
func (c *Counter) Load(ctx context.Context) error {
	vRaw, vok, err := c.kv.Get(ctx, KeyVisitors)
	if err != nil {
		return err
	}
	sRaw, sok, err := c.kv.Get(ctx, KeySpots)
	if err != nil {
		return err
	}
	if !vok || !sok {
		return nil
	}
	v, verr := strconv.Atoi(vRaw)
	s, serr := strconv.Atoi(sRaw)
	if verr != nil || serr != nil {
		c.log.Warn("ignoring unparsable stored counters", zap.String("visitors", vRaw), zap.String("spots", sRaw))
		return nil
	}
	c.mu.Lock()
	c.values = c.clamp(Values{Visitors: v, Spots: s})
	c.mu.Unlock()
	return nil
}

// Tick adds one visitor and removes one spot within bounds, then persists the
// new values.
func (c *Counter) Tick(ctx context.Context) (Values, error) {
	c.mu.Lock()
	c.values = c.clamp(Values{Visitors: c.values.Visitors + 1, Spots: c.values.Spots - 1})
	v := c.values
	c.mu.Unlock()
	return v, c.persist(ctx, v)
}

// Reset goes back to the start values and persists them.
func (c *Counter) Reset(ctx context.Context) (Values, error) {
	c.mu.Lock()
	c.values = c.clamp(Values{Visitors: c.bounds.VisitorsStart, Spots: c.bounds.SpotsStart})
	v := c.values
	c.mu.Unlock()
	return v, c.persist(ctx, v)
}

// Snapshot returns the current values.
func (c *Counter) Snapshot() Values {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values
}

// Run ticks after each delay until ctx is cancelled. Storage errors are logged
// and do not stop the loop.
func (c *Counter) Run(ctx context.Context) error {
	timer := time.NewTimer(c.delay())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			if _, err := c.Tick(ctx); err != nil && ctx.Err() == nil {
				c.log.Warn("persist counters", zap.Error(err))
			}
			timer.Reset(c.delay())
		}
	}
}

func (c *Counter) persist(ctx context.Context, v Values) error {
	if err := c.kv.Set(ctx, KeyVisitors, strconv.Itoa(v.Visitors)); err != nil {
		return err
	}
	return c.kv.Set(ctx, KeySpots, strconv.Itoa(v.Spots))
}

func (c *Counter) clamp(v Values) Values {
	b := c.bounds
	if v.Visitors < 0 {
		v.Visitors = 0
	}
	if v.Visitors > b.VisitorsMax {
		v.Visitors = b.VisitorsMax
	}
	if v.Spots > b.SpotsStart {
		v.Spots = b.SpotsStart
	}
	if v.Spots < b.SpotsMin {
		v.Spots = b.SpotsMin
	}
	if v.Spots < 0 {
		v.Spots = 0
	}
	return v
}
