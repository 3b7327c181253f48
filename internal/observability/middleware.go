package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const (
	ctxOp  = "udpkv.op"
	ctxKey = "udpkv.key"

	// OpNone labels admin requests that do not touch the store.
	OpNone = "none"
)

// TagCommand marks the request as running op against key, so the admin log
// line and metrics carry both.
func TagCommand(c *gin.Context, op string, key uint32) {
	c.Set(ctxOp, op)
	c.Set(ctxKey, key)
}

func commandTag(c *gin.Context) (string, uint32, bool) {
	op := c.GetString(ctxOp)
	if op == "" {
		return OpNone, 0, false
	}
	key, _ := c.Value(ctxKey).(uint32)
	return op, key, true
}

func route(c *gin.Context) string {
	if path := c.FullPath(); path != "" {
		return path
	}
	return "unmatched"
}

// AdminRequests logs and counts every admin request. Store writes log at info,
// other successful requests at debug.
func AdminRequests(service string, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		status := c.Writer.Status()
		op, key, tagged := commandTag(c)
		RecordHTTPRequest(service, route(c), op, status, elapsed)

		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		case op == "write":
			event = logger.Info()
		default:
			event = logger.Debug()
		}
		event = event.
			Str("method", c.Request.Method).
			Str("route", route(c)).
			Str("op", op)
		if tagged {
			event = event.Uint32("key", key)
		}
		event.
			Int("status", status).
			Dur("duration", elapsed).
			Str("remote", c.ClientIP()).
			Msg("admin request")
	}
}
