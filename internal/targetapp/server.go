// Package targetapp is the reference application under test: CPU-bound
// fibonacci and bubble-sort endpoints that report their own processing span.
package targetapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config controls the application limits
type Config struct {
	// ServiceURL is where recursive fibonacci calls are sent. Empty means
	// the recursion runs in-process.
	ServiceURL    string
	MaxFibonacci  int
	MaxBubbleSort int
	ClientTimeout time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxFibonacci:  40,
		MaxBubbleSort: 1 << 20,
		ClientTimeout: 60 * time.Second,
	}
}

// Server serves the workload endpoints
type Server struct {
	config Config
	router chi.Router
	client *http.Client
	logger *zap.Logger
}

// Option configures the server
type Option func(*Server)

// WithLogger adds logging
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates the application
func New(cfg Config, opts ...Option) *Server {
	if cfg.MaxFibonacci <= 0 {
		cfg.MaxFibonacci = DefaultConfig().MaxFibonacci
	}
	if cfg.MaxBubbleSort <= 0 {
		cfg.MaxBubbleSort = DefaultConfig().MaxBubbleSort
	}
	if cfg.ClientTimeout <= 0 {
		cfg.ClientTimeout = DefaultConfig().ClientTimeout
	}
	cfg.ServiceURL = strings.TrimRight(cfg.ServiceURL, "/")

	s := &Server{
		config: cfg,
		client: &http.Client{Timeout: cfg.ClientTimeout},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Get("/fibonacci", s.handleFibonacciQuery)
	r.Get("/fibonacci/{n}", s.handleFibonacciPath)
	r.Get("/bubble-sort", s.handleBubbleSort)

	s.router = r
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

type endpoint struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

type indexResponse struct {
	Message   string     `json:"message"`
	Endpoints []endpoint `json:"endpoints"`
}

// FibonacciResponse is returned by the fibonacci endpoints
type FibonacciResponse struct {
	Start     time.Time `json:"start"`
	Fibonacci int64     `json:"fibonacci"`
	End       time.Time `json:"end"`
}

// SortResponse is returned by the bubble-sort endpoint
type SortResponse struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, indexResponse{
		Message: "Welcome to the performance test service",
		Endpoints: []endpoint{
			{Method: http.MethodGet, Path: "/fibonacci/{n}"},
			{Method: http.MethodGet, Path: "/fibonacci?n=<number>"},
			{Method: http.MethodGet, Path: "/bubble-sort?n=<number>"},
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleFibonacciPath(w http.ResponseWriter, r *http.Request) {
	s.fibonacci(w, r, chi.URLParam(r, "n"), func(n int) string {
		return fmt.Sprintf("%s/fibonacci/%d", s.config.ServiceURL, n)
	})
}

func (s *Server) handleFibonacciQuery(w http.ResponseWriter, r *http.Request) {
	s.fibonacci(w, r, r.URL.Query().Get("n"), func(n int) string {
		return fmt.Sprintf("%s/fibonacci?n=%d", s.config.ServiceURL, n)
	})
}

func (s *Server) fibonacci(w http.ResponseWriter, r *http.Request, raw string, next func(int) string) {
	n, err := parseBounded(raw, s.config.MaxFibonacci)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	start := time.Now().UTC()
	var value int64
	if s.config.ServiceURL == "" || n <= 2 {
		value = fib(n)
	} else {
		value, err = s.fanOut(r.Context(), n, next)
		if err != nil {
			s.logger.Warn("fibonacci fan-out failed", zap.Int("n", n), zap.Error(err))
			writeError(w, http.StatusBadGateway, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, FibonacciResponse{
		Start:     start,
		Fibonacci: value,
		End:       time.Now().UTC(),
	})
}

// fanOut requests fib(n-1) and fib(n-2) from the service concurrently
func (s *Server) fanOut(ctx context.Context, n int, next func(int) string) (int64, error) {
	var a, b int64

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := s.fetchFibonacci(gctx, next(n-1))
		a = v
		return err
	})
	g.Go(func() error {
		v, err := s.fetchFibonacci(gctx, next(n-2))
		b = v
		return err
	})
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return a + b, nil
}

func (s *Server) fetchFibonacci(ctx context.Context, url string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("GET %s returned %d", url, resp.StatusCode)
	}
	var out FibonacciResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode %s: %w", url, err)
	}
	return out.Fibonacci, nil
}

func (s *Server) handleBubbleSort(w http.ResponseWriter, r *http.Request) {
	n, err := parseBounded(r.URL.Query().Get("n"), s.config.MaxBubbleSort)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	start := time.Now().UTC()
	arr := make([]int, n)
	for i := range arr {
		arr[i] = n - i
	}
	bubbleSort(arr)

	writeJSON(w, http.StatusOK, SortResponse{Start: start, End: time.Now().UTC()})
}

// fib is the naive recursion; the cost is the point
func fib(n int) int64 {
	if n < 2 {
		return int64(n)
	}
	return fib(n-1) + fib(n-2)
}

func bubbleSort(arr []int) {
	for i := len(arr); i > 0; i-- {
		for j := 1; j < i; j++ {
			if arr[j] < arr[j-1] {
				arr[j], arr[j-1] = arr[j-1], arr[j]
			}
		}
	}
}

var errMissingN = errors.New("query parameter n is required")

func parseBounded(raw string, max int) (int, error) {
	if raw == "" {
		return 0, errMissingN
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("n must be an integer: %w", err)
	}
	if n < 0 || n > max {
		return 0, fmt.Errorf("n must be in [0, %d], got %d", max, n)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
