package handlers

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/NullWinters/GalChat/internal/chat"
	"github.com/NullWinters/GalChat/internal/gateway"
	"github.com/NullWinters/GalChat/internal/identity"
	"github.com/NullWinters/GalChat/internal/store"
	"github.com/NullWinters/GalChat/internal/suggest"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	registry *chat.Registry
	resolver *identity.Resolver
	engine   *suggest.Engine
	hub      *gateway.Hub
	store    store.MessageStore // may be nil
	cache    *store.RecentCache // may be nil
	logger   zerolog.Logger
}

// NewHandler creates a new Handler with the given collaborators.
func NewHandler(registry *chat.Registry, resolver *identity.Resolver, engine *suggest.Engine, hub *gateway.Hub, st store.MessageStore, cache *store.RecentCache, logger zerolog.Logger) *Handler {
	return &Handler{
		registry: registry,
		resolver: resolver,
		engine:   engine,
		hub:      hub,
		store:    st,
		cache:    cache,
		logger:   logger,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// origin returns the client's network origin: the IP without port.
// Behind proxies chi's RealIP middleware rewrites RemoteAddr to a bare IP
// with no port; a bare IPv6 address must survive unchanged.
func origin(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	host = strings.Trim(host, "[]")
	if host == "" {
		host = "127.0.0.1"
	}
	return host
}

// sanitizeName trims and limits a display string to 100 characters,
// removing control characters.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	// Remove control characters
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	// Limit to 100 characters
	if runes := []rune(name); len(runes) > 100 {
		name = string(runes[:100])
	}

	return name
}

// sanitizeBody cleans a message body: control characters other than
// newlines are dropped and the length is capped at 4000 characters.
func sanitizeBody(body string) string {
	body = strings.TrimSpace(body)

	body = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' {
			return -1
		}
		return r
	}, body)

	if runes := []rune(body); len(runes) > 4000 {
		body = string(runes[:4000])
	}

	return body
}
