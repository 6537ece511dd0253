package statusapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/quailyquaily/slackrelay/internal/session"
)

// SessionLister exposes the live conversation sessions.
type SessionLister interface {
	List() []session.Info
}

type RoutesOptions struct {
	Mode      string
	AuthToken string
	Turns     TurnReader
	Sessions  SessionLister
	Now       func() time.Time
}

// RegisterRoutes mounts /health, /sessions, /turns (status, thread and limit
// query filters) and /turns/{id}. Everything
// except /health requires the bearer token; with no token configured those
// routes always answer 401.
func RegisterRoutes(mux *http.ServeMux, opts RoutesOptions) {
	if mux == nil {
		return
	}
	mode := strings.TrimSpace(opts.Mode)
	authToken := strings.TrimSpace(opts.AuthToken)
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead:
		default:
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		payload := map[string]any{
			"ok":   true,
			"time": now().Format(time.RFC3339Nano),
		}
		if mode != "" {
			payload["mode"] = mode
		}
		if opts.Sessions != nil {
			payload["sessions"] = len(opts.Sessions.List())
		}
		if opts.Turns != nil {
			payload["turns"] = opts.Turns.Counts()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return
		}
		_ = json.NewEncoder(w).Encode(payload)
	})

	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !checkAuth(r, authToken) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if opts.Sessions == nil {
			http.Error(w, "session store is unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, map[string]any{"items": opts.Sessions.List()})
	})

	mux.HandleFunc("/turns", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !checkAuth(r, authToken) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if opts.Turns == nil {
			http.Error(w, "turn log is unavailable", http.StatusServiceUnavailable)
			return
		}
		status, ok := ParseTurnStatus(r.URL.Query().Get("status"))
		if !ok {
			http.Error(w, "invalid status", http.StatusBadRequest)
			return
		}
		limit := 0
		if rawLimit := strings.TrimSpace(r.URL.Query().Get("limit")); rawLimit != "" {
			parsed, err := strconv.Atoi(rawLimit)
			if err != nil || parsed <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = parsed
		}
		writeJSON(w, map[string]any{"items": opts.Turns.List(TurnFilter{
			Status: status,
			Thread: r.URL.Query().Get("thread"),
			Limit:  limit,
		})})
	})

	mux.HandleFunc("/turns/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !checkAuth(r, authToken) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if opts.Turns == nil {
			http.Error(w, "turn log is unavailable", http.StatusServiceUnavailable)
			return
		}
		id := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/turns/"))
		if id == "" {
			http.Error(w, "missing id", http.StatusBadRequest)
			return
		}
		info, ok := opts.Turns.Get(id)
		if !ok || info == nil {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, info)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type ServerOptions struct {
	Listen string
	Routes RoutesOptions
}

// StartServer listens on opts.Listen and serves until ctx is done.
func StartServer(ctx context.Context, logger *slog.Logger, opts ServerOptions) (*http.Server, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = slog.Default()
	}
	listen := strings.TrimSpace(opts.Listen)
	if listen == "" {
		return nil, errors.New("empty status listen address")
	}

	mux := http.NewServeMux()
	RegisterRoutes(mux, opts.Routes)

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, err
	}

	srv := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status_server_error", "addr", srv.Addr, "error", err.Error())
		}
	}()

	logger.Info("status_server_start",
		"addr", srv.Addr,
		"mode", strings.TrimSpace(opts.Routes.Mode),
		"auth", strings.TrimSpace(opts.Routes.AuthToken) != "",
	)
	return srv, nil
}

func checkAuth(r *http.Request, token string) bool {
	token = strings.TrimSpace(token)
	if token == "" {
		return false
	}
	got := strings.TrimSpace(r.Header.Get("Authorization"))
	want := "Bearer " + token
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
