package handler

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/qiwen/lan-chat/internal/auth"
	"github.com/qiwen/lan-chat/internal/config"
	authHandler "github.com/qiwen/lan-chat/internal/handler/auth"
	"github.com/qiwen/lan-chat/internal/handler/ws"
	middlewarePkg "github.com/qiwen/lan-chat/internal/middleware"
)

// NewRouter wires HTTP routes to core services: the wallet-login API,
// the presence websocket, and the static app shell.
func NewRouter(cfg config.ServerConfig, authenticator *auth.Authenticator, hub *ws.Hub) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(cfg.CORSOrigin))

	r.Route("/api", func(api chi.Router) {
		authHandler.New(authenticator).RegisterRoutes(api)
	})

	ws.New(hub).RegisterRoutes(r)

	r.NotFound(spaHandler(cfg.StaticDir))

	return r
}

// spaHandler serves static assets and falls back to index.html for
// client-side routes. It carries no presence logic.
func spaHandler(staticDir string) http.HandlerFunc {
	fileServer := http.FileServer(http.Dir(staticDir))

	return func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") || r.URL.Path == "/ws" {
			http.NotFound(w, r)
			return
		}

		path := filepath.Join(staticDir, filepath.Clean("/"+r.URL.Path))
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			fileServer.ServeHTTP(w, r)
			return
		}

		http.ServeFile(w, r, filepath.Join(staticDir, "index.html"))
	}
}
