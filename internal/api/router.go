package api

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterOptions struct {
	// RequestTimeout bounds every request except the event stream.
	RequestTimeout time.Duration
	CORSOrigins    []string
}

func Router(h *Handler, opts RouterOptions) http.Handler {
	mux := http.NewServeMux()
	bounded := func(fn http.HandlerFunc) http.Handler {
		return withTimeout(opts.RequestTimeout, fn)
	}

	mux.Handle("GET /health", bounded(h.Health))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("POST /webhook", bounded(h.Webhook))

	mux.Handle("POST /api/send", bounded(h.Send))
	mux.Handle("GET /api/chats", bounded(h.ListChats))
	mux.Handle("GET /api/chats/{conversationId}", bounded(h.ChatMessages))
	mux.Handle("POST /api/chats/{conversationId}/read", bounded(h.MarkRead))
	mux.Handle("GET /api/contacts", bounded(h.ListContacts))
	mux.Handle("POST /api/contacts", bounded(h.SaveContact))
	mux.Handle("GET /api/stats", bounded(h.Stats))
	mux.HandleFunc("GET /api/events", h.Events)

	mux.Handle("GET /v1/spool/status", bounded(h.SpoolStatus))
	mux.Handle("POST /v1/spool/start", bounded(h.SpoolStart))
	mux.Handle("POST /v1/spool/stop", bounded(h.SpoolStop))

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("webhook-inbox"))
	})

	return withCORS(opts.CORSOrigins, mux)
}

func withTimeout(d time.Duration, next http.Handler) http.Handler {
	if d <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), d)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withCORS allows the listed origins; "*" allows any.
func withCORS(origins []string, next http.Handler) http.Handler {
	if len(origins) == 0 {
		return next
	}
	allowAll := slices.Contains(origins, "*")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowAll || slices.Contains(origins, origin)) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
