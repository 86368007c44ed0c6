package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// BodyLimitMiddleware caps request body sizes on the session routes.
// Patches are JSON and stay small; voice note uploads carry raw audio
// and get a separate, larger allowance.
type BodyLimitMiddleware struct {
	patchMax int64
	audioMax int64
}

func NewBodyLimitMiddleware(patchMax, audioMax int64) *BodyLimitMiddleware {
	return &BodyLimitMiddleware{patchMax: patchMax, audioMax: audioMax}
}

func (m *BodyLimitMiddleware) limitFor(r *http.Request) int64 {
	if strings.HasSuffix(r.URL.Path, "/audio") {
		return m.audioMax
	}
	return m.patchMax
}

func (m *BodyLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := m.limitFor(r)
		if r.Body != nil && r.ContentLength > limit {
			log.Warn().
				Str("path", r.URL.Path).
				Int64("contentLength", r.ContentLength).
				Int64("limit", limit).
				Msg("request body over limit")
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
				"error": "Request body too large",
			})
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, limit)
		next.ServeHTTP(w, r)
	})
}
