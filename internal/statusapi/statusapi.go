// Package statusapi serves a read-only, bearer-token-gated HTTP view of
// catalog state for the `serve` subcommand: file count and size totals
// (/status), the duplicate count (/files/summary), and the labels of
// full tapes (/tapes). Trimmed from
// teacher's full multi-user CRUD api.Server down to GET-only reporting
// routes, since this project's data model has no user/session concept
// to serve the rest of teacher's surface.
package statusapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/RoseOO/tapebackarr/internal/catalog"
	"github.com/RoseOO/tapebackarr/internal/logging"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang-jwt/jwt/v5"
)

// Server serves read-only status endpoints over HTTP.
type Server struct {
	router    *chi.Mux
	catalog   *catalog.Catalog
	jwtSecret []byte
	log       *logging.Logger
}

// New builds a Server. jwtSecret gates every route except /healthz behind
// a bearer token signed with it (HS256); an empty secret disables auth
// entirely, which
// is only appropriate for binding to loopback.
func New(cat *catalog.Catalog, jwtSecret string, log *logging.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		catalog:   cat,
		jwtSecret: []byte(jwtSecret),
		log:       log,
	}
	s.routes()
	return s
}

// Handler returns the server's http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}))

	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		if len(s.jwtSecret) > 0 {
			r.Use(s.authMiddleware)
		}
		r.Get("/status", s.handleStatus)
		r.Get("/files/summary", s.handleFilesSummary)
		r.Get("/tapes", s.handleTapes)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		var tokenStr string
		if parts := strings.SplitN(authHeader, " ", 2); len(parts) == 2 && parts[0] == "Bearer" {
			tokenStr = parts[1]
		}
		if tokenStr == "" {
			s.respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		_, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrTokenSignatureInvalid
			}
			return s.jwtSecret, nil
		})
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) respondError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (s *Server) respondJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, map[string]string{"status": "ok"})
}

type statusResponse struct {
	FileCount     int   `json:"file_count"`
	MinFileSize   int64 `json:"min_file_size"`
	MaxFileSize   int64 `json:"max_file_size"`
	TotalFileSize int64 `json:"total_file_size"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	count, err := s.catalog.FileCount()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	minSize, err := s.catalog.MinFileSize()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	maxSize, err := s.catalog.MaxFileSize()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	totalSize, err := s.catalog.TotalFileSize()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, statusResponse{
		FileCount:     count,
		MinFileSize:   minSize,
		MaxFileSize:   maxSize,
		TotalFileSize: totalSize,
	})
}

func (s *Server) handleFilesSummary(w http.ResponseWriter, r *http.Request) {
	dups, err := s.catalog.Duplicates()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, map[string]interface{}{"duplicate_count": len(dups)})
}

func (s *Server) handleTapes(w http.ResponseWriter, r *http.Request) {
	labels, err := s.catalog.FullTapeLabels()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	full := make([]string, 0, len(labels))
	for label, isFull := range labels {
		if isFull {
			full = append(full, label)
		}
	}
	s.respondJSON(w, map[string]interface{}{"full_tapes": full})
}
