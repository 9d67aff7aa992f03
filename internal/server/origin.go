package server

import (
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// OriginChecker decides whether a WebSocket upgrade may proceed based on
// the request's Origin header.
type OriginChecker struct {
	allowAll bool
	allowed  map[string]struct{}
	logger   *zap.Logger
}

// NewOriginChecker normalizes origins. A "*" entry allows every origin;
// invalid entries are logged and skipped.
func NewOriginChecker(origins []string, logger *zap.Logger) *OriginChecker {
	oc := &OriginChecker{
		allowed: make(map[string]struct{}, len(origins)),
		logger:  logger.Named("origin"),
	}

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			oc.allowAll = true
			continue
		}

		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			oc.logger.Warn("ignoring invalid origin in configuration", zap.String("origin", origin))
			continue
		}
		oc.allowed[normalized] = struct{}{}
	}
	return oc
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// Allowed reports whether the request's origin is on the allow-list. A
// missing Origin header is rejected.
func (oc *OriginChecker) Allowed(r *http.Request) bool {
	header := r.Header.Get("Origin")
	if header == "" {
		return false
	}
	if oc.allowAll {
		return true
	}

	normalized, ok := normalizeOrigin(header)
	if !ok {
		return false
	}
	_, exists := oc.allowed[normalized]
	return exists
}

// Check is suitable as websocket.Upgrader.CheckOrigin.
func (oc *OriginChecker) Check(r *http.Request) bool {
	if oc.Allowed(r) {
		return true
	}
	oc.logger.Warn("blocked WebSocket connection from disallowed origin", zap.String("origin", r.Header.Get("Origin")))
	return false
}
