package api

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// timingWriter injects X-Response-Time-Ms right before the status line or
// first body byte goes out, while the duration is still measurable.
type timingWriter struct {
	gin.ResponseWriter
	start    time.Time
	now      func() time.Time
	injected bool
}

func (w *timingWriter) WriteHeader(code int) {
	w.inject()
	w.ResponseWriter.WriteHeader(code)
}

func (w *timingWriter) Write(b []byte) (int, error) {
	w.inject()
	return w.ResponseWriter.Write(b)
}

func (w *timingWriter) WriteString(s string) (int, error) {
	w.inject()
	return w.ResponseWriter.WriteString(s)
}

func (w *timingWriter) inject() {
	if w.injected {
		return
	}
	w.injected = true
	ms := elapsedMs(w.start, w.now())
	w.Header().Set("X-Response-Time-Ms", strconv.FormatFloat(ms, 'f', 2, 64))
}

func elapsedMs(start, end time.Time) float64 {
	return float64(end.Sub(start).Microseconds()) / 1000.0
}

// timing stamps every response and folds the request into the metrics
// aggregate once the handlers finish.
func (s *Server) timing() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := s.now()
		c.Writer = &timingWriter{ResponseWriter: c.Writer, start: start, now: s.now}
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		s.deps.Metrics.Record(c.Request.Method, path, elapsedMs(start, s.now()), c.Writer.Status() >= 400)
	}
}

// rateLimited guards a mutating endpoint per client address.
func (s *Server) rateLimited() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, info := s.deps.Limiter.Check(c.ClientIP())
		if ok {
			return
		}
		retry := int(math.Ceil(info.RetryAfterSeconds))
		if retry < 1 {
			retry = 1
		}
		c.Header("Retry-After", strconv.Itoa(retry))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":       "rate limit exceeded",
			"limit":       info.Limit,
			"retry_after": info.RetryAfterSeconds,
		})
	}
}
