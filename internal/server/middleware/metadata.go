package middleware

import (
	"context"
	"net"
	"net/http"
)

type contextKey string

const reqMetaKey = contextKey("r-metadata")

// RequestMetadata carries the handshake parameters a client declares when
// it connects: its identity plus its organizational scope.
type RequestMetadata struct {
	IP       string
	UserID   string
	ClientID string
	Region   string
	District string
}

func ReqMetadataFrom(ctx context.Context) (*RequestMetadata, bool) {
	reqMeta, ok := ctx.Value(reqMetaKey).(*RequestMetadata)
	return reqMeta, ok
}

// creates and injects the RequestMetadata struct into the request.
// **This should be the first middleware in the chain.**
func RequestMetadataMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr // Fallback
			}

			q := r.URL.Query()
			reqMeta := &RequestMetadata{
				IP:       ip,
				UserID:   q.Get("userId"),
				ClientID: q.Get("clientId"),
				Region:   q.Get("region"),
				District: q.Get("district"),
			}
			ctx := context.WithValue(r.Context(), reqMetaKey, reqMeta)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
