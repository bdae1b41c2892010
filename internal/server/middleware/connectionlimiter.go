package middleware

import (
	"log/slog"
	"net/http"
	"sync"
)

// NewConnectionLimiter caps concurrent upgrade requests per client IP. The
// registry already enforces one connection per user by supersession, so this
// guard exists purely against a single host opening sockets in bulk.
// maxPerIP <= 0 disables the cap.
func NewConnectionLimiter(logger *slog.Logger, maxPerIP int) Middleware {
	var mu sync.Mutex
	active := make(map[string]int)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxPerIP <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				logger.Error("Connection limiter could not find request metadata in context. Check middleware order.")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			mu.Lock()
			count := active[reqMeta.IP]
			if count >= maxPerIP {
				mu.Unlock()
				logger.Warn("Connection limit reached for IP",
					slog.String("ip", reqMeta.IP), slog.Int("count", count))
				http.Error(w, "Too Many Active Connections", http.StatusTooManyRequests)
				return
			}
			active[reqMeta.IP] = count + 1
			mu.Unlock()

			// The upgrade handler blocks for the connection's lifetime, so
			// the slot is held until the socket closes.
			defer func() {
				mu.Lock()
				if active[reqMeta.IP] <= 1 {
					delete(active, reqMeta.IP)
				} else {
					active[reqMeta.IP]--
				}
				mu.Unlock()
			}()

			next.ServeHTTP(w, r)
		})
	}
}
