package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"meetmind-asr-relay/internal/app"
)

// NewRouter constructs the HTTP router that serves everything except ASR
// upgrades. Unmatched requests go to the framework when FRAMEWORK_URL is
// set.
func NewRouter(application *app.Application) (http.Handler, error) {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if application.Tracker.Draining() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("draining"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Get("/sessions", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"active":      application.Tracker.Count(),
				"draining":    application.Tracker.Draining(),
				"sttProvider": application.Cfg.STT.Provider,
			})
		})
	})

	if target := application.Cfg.Service.FrameworkURL; target != "" {
		proxy, err := NewFrameworkProxy(target)
		if err != nil {
			return nil, err
		}
		r.NotFound(proxy.ServeHTTP)
		r.MethodNotAllowed(proxy.ServeHTTP)
	}

	return r, nil
}

// NewFrameworkProxy forwards requests, including websocket upgrades, to the
// web framework at target.
func NewFrameworkProxy(target string) (*httputil.ReverseProxy, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid framework URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid framework URL %q: scheme and host required", target)
	}

	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(u)
			pr.Out.Host = pr.In.Host
			pr.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.Warn().Err(err).Str("path", r.URL.Path).Msg("Framework proxy error")
			w.WriteHeader(http.StatusBadGateway)
		},
	}
	return proxy, nil
}
