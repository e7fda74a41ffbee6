package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

// Checker runs a job if it is due.
type Checker interface {
	Check(ctx context.Context, now time.Time)
}

// RequestTrigger lets incoming traffic drive the jobs when no scheduler runs.
// At most one check starts per interval, and it runs off the request path.
type RequestTrigger struct {
	checkers []Checker
	every    time.Duration
	last     atomic.Int64
	wg       sync.WaitGroup
	now      func() time.Time
}

func NewRequestTrigger(every time.Duration, checkers ...Checker) *RequestTrigger {
	return &RequestTrigger{
		checkers: checkers,
		every:    every,
		now:      time.Now,
	}
}

// Middleware pokes the trigger before handing the request on.
func (t *RequestTrigger) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		t.Poke()
		c.Next()
	}
}

// Poke starts a background check unless one started within the interval.
func (t *RequestTrigger) Poke() bool {
	now := t.now()
	last := t.last.Load()
	if last != 0 && now.Sub(time.Unix(0, last)) < t.every {
		return false
	}
	if !t.last.CompareAndSwap(last, now.UnixNano()) {
		return false
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for _, c := range t.checkers {
			c.Check(context.Background(), now)
		}
	}()
	return true
}

// Wait blocks until started checks return.
func (t *RequestTrigger) Wait() {
	t.wg.Wait()
}
