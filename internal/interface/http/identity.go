package http

import (
	"context"
	"encoding/hex"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/alem-hub/edu-progress/internal/domain/shared"
)

// Headers set by the trusted gateway after authentication.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

type contextKey string

const contextKeyIdentity contextKey = "identity"

// Fingerprint derives a stable anonymous id from the client address and
// user agent. The result is a 32-character hex string.
func Fingerprint(ip, userAgent string) string {
	h, _ := blake2b.New(16, nil)
	h.Write([]byte(strings.TrimSpace(ip)))
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimSpace(userAgent)))
	return hex.EncodeToString(h.Sum(nil))
}

// identity attaches a shared.Identity to the request context. Requests
// without X-User-ID are anonymous.
func (s *Server) identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id shared.Identity

		if userID := strings.TrimSpace(r.Header.Get(HeaderUserID)); userID != "" {
			if s.config.StrictUserIDs {
				if _, err := uuid.Parse(userID); err != nil {
					writeJSONError(w, r, http.StatusBadRequest, "invalid_user_id", "X-User-ID must be a UUID")
					return
				}
			}
			id = shared.RegisteredIdentity(userID, shared.ParseRole(r.Header.Get(HeaderUserRole)))
		} else {
			id = shared.AnonymousIdentity(Fingerprint(clientIP(r), r.UserAgent()))
		}

		ctx := context.WithValue(r.Context(), contextKeyIdentity, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// identityFrom returns the identity attached by the identity middleware.
func identityFrom(ctx context.Context) (shared.Identity, bool) {
	id, ok := ctx.Value(contextKeyIdentity).(shared.Identity)
	return id, ok
}

// clientIP strips the port from RemoteAddr, which middleware.RealIP has
// already replaced with the forwarded address when present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
