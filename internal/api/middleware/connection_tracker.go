package middleware

import (
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

// ConnectionTracker counts things that are currently open.
type ConnectionTracker struct {
	count atomic.Int64
}

// Increment adds one.
func (ct *ConnectionTracker) Increment() {
	ct.count.Add(1)
}

// Decrement removes one.
func (ct *ConnectionTracker) Decrement() {
	ct.count.Add(-1)
}

// Count returns the current value.
func (ct *ConnectionTracker) Count() int64 {
	return ct.count.Load()
}

var (
	// ActiveConnections counts in-flight HTTP requests.
	ActiveConnections = &ConnectionTracker{}
	// ActiveWidgetSessions counts open widget websocket sessions.
	ActiveWidgetSessions = &ConnectionTracker{}
)

// ConnectionTrackerMiddleware keeps ActiveConnections current.
func ConnectionTrackerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ActiveConnections.Increment()
		defer ActiveConnections.Decrement()
		c.Next()
	}
}
