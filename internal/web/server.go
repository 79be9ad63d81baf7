package web

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/renderinc/kirk-archive/internal/content"
	"github.com/renderinc/kirk-archive/internal/ingest"
	"github.com/renderinc/kirk-archive/internal/log"
	"github.com/renderinc/kirk-archive/internal/search"
	"github.com/renderinc/kirk-archive/internal/storage"
)

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed static/*
var staticFS embed.FS

// multipartOverhead covers form fields and part headers on top of the file itself
const multipartOverhead = 1 << 20

type Server struct {
	svc       *ingest.Service
	files     content.Store
	idx       *search.Index // nil disables /api/search
	templates *template.Template
	metrics   *metrics
}

type SearchResponse struct {
	Results []*search.SearchResult `json:"results"`
	Query   string                 `json:"query"`
	Count   int                    `json:"count"`
	Error   string                 `json:"error,omitempty"`
}

type feedData struct {
	Query      string
	Posts      []*storage.Post
	AllowVideo bool
}

func NewServer(svc *ingest.Service, files content.Store, idx *search.Index) (*Server, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("error parsing templates: %w", err)
	}

	return &Server{
		svc:       svc,
		files:     files,
		idx:       idx,
		templates: tmpl,
		metrics:   newMetrics(),
	}, nil
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.PathPrefix("/static/").Handler(http.FileServer(http.FS(staticFS))).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/upload", s.handleUpload).Methods(http.MethodPost)
	r.HandleFunc("/uploads/{name}", s.handleServeUpload).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/search", s.handleSearch).Methods(http.MethodGet)

	return otelhttp.NewHandler(r, "kirk-archive")
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))

	posts, err := s.svc.List(r.Context(), q)
	if err != nil {
		log.Error.Printf("Error listing posts: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	s.metrics.feedRequests.WithLabelValues(strconv.FormatBool(q != "")).Inc()

	data := feedData{
		Query:      q,
		Posts:      posts,
		AllowVideo: s.svc.Config().AllowVideo,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, "index.html", data); err != nil {
		log.Error.Printf("Error rendering template: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.svc.Config().MaxUploadSize+multipartOverhead)

	u, err := readUpload(r)
	if err == nil {
		_, err = s.svc.Upload(r.Context(), u)
	}

	var (
		verr    *ingest.ValidationError
		maxErr  *http.MaxBytesError
		status  int
		message string
	)
	switch {
	case err == nil:
		s.metrics.uploads.WithLabelValues("ok").Inc()
		http.Redirect(w, r, "/", http.StatusFound)
		return
	case errors.As(err, &maxErr), errors.Is(err, ingest.ErrTooLarge):
		status, message = http.StatusRequestEntityTooLarge, ingest.ErrTooLarge.Error()
	case errors.As(err, &verr):
		status, message = http.StatusBadRequest, verr.Error()
	default:
		log.Error.Printf("Error storing upload: %v", err)
		s.metrics.uploads.WithLabelValues("error").Inc()
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.metrics.uploads.WithLabelValues("invalid").Inc()
	http.Error(w, "Invalid file: "+message, status)
}

// readUpload pulls the file and text fields out of a multipart form. A
// missing file field yields an Upload with nil Data.
func readUpload(r *http.Request) (ingest.Upload, error) {
	if err := r.ParseMultipartForm(32 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return ingest.Upload{}, err
		}
		return ingest.Upload{}, ingest.ErrMissingFile
	}

	u := ingest.Upload{
		Caption: r.FormValue("caption"),
		Tags:    r.FormValue("tags"),
	}

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		// Older upload forms name the field "image"
		file, header, err = r.FormFile("image")
	}
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return u, nil
	}
	if err != nil {
		return u, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return u, err
	}
	u.Filename = header.Filename
	u.Data = data

	return u, nil
}

func (s *Server) handleServeUpload(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !content.ValidName(name) {
		http.NotFound(w, r)
		return
	}

	f, modTime, err := s.files.Open(r.Context(), name)
	if errors.Is(err, content.ErrNotFound) || errors.Is(err, content.ErrInvalidName) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		log.Error.Printf("Error opening %s: %v", name, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, name, modTime, f)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.svc.Health()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"ok":   h.OK,
		"time": float64(h.Time.UnixNano()) / 1e9,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	resp := SearchResponse{Query: query, Results: []*search.SearchResult{}}

	if s.idx == nil {
		resp.Error = "search index not available"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	if query == "" {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	results, err := s.idx.Search(query, limit)
	if err != nil {
		resp.Error = err.Error()
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	resp.Results = results
	resp.Count = len(results)
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
