package connectors

import (
	"sync/atomic"
	"time"

	"orderengine/src/utils"
)

// serverClock produces venue timestamps corrected by the last observed server offset.
type serverClock struct {
	now    func() time.Time
	offset atomic.Int64 // ms, server minus local
}

func newServerClock() *serverClock {
	return &serverClock{now: time.Now}
}

func (c *serverClock) Millis() int64 {
	return utils.UnixMilli(c.now()) + c.offset.Load()
}

func (c *serverClock) Sync(serverMillis int64) {
	c.offset.Store(serverMillis - utils.UnixMilli(c.now()))
}

func (c *serverClock) Offset() time.Duration {
	return time.Duration(c.offset.Load()) * time.Millisecond
}
