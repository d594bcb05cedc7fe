// Package http exposes the ledger engine as a JSON API. The wrapping
// authorization layer is expected to resolve sessions and budget membership
// before requests reach this service; budget ids are trusted here.
package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"conti/internal/cache"
	"conti/internal/core"
	"conti/internal/services"
	"conti/internal/storage"
)

type Server struct {
	http.Server
	store     *storage.SQLiteRepository
	ledger    *services.LedgerService
	generator *services.PendingGenerator
	goals     *services.GoalService

	rateLimiter *rateLimiter
	monthCache  *cache.LRUCache[[]core.Transaction]

	stopCacheCleanup chan struct{}
	shutdownOnce     sync.Once
}

// Options tune the ambient behavior of the server; zero values fall back to
// sensible defaults.
type Options struct {
	WriteRateLimit int
	MonthCacheSize int
	MonthCacheTTL  time.Duration
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(addr string, store *storage.SQLiteRepository, ledger *services.LedgerService, generator *services.PendingGenerator, goals *services.GoalService, opts Options) *Server {
	if opts.WriteRateLimit <= 0 {
		opts.WriteRateLimit = 120
	}
	if opts.MonthCacheSize <= 0 {
		opts.MonthCacheSize = 200
	}
	if opts.MonthCacheTTL <= 0 {
		opts.MonthCacheTTL = 5 * time.Minute
	}

	mux := http.NewServeMux()
	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		store:            store,
		ledger:           ledger,
		generator:        generator,
		goals:            goals,
		rateLimiter:      newRateLimiter(opts.WriteRateLimit),
		monthCache:       cache.NewLRUCache[[]core.Transaction](opts.MonthCacheSize, opts.MonthCacheTTL),
		stopCacheCleanup: make(chan struct{}),
	}

	go s.startCacheCleanup()

	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/readyz", handleReady)

	mux.HandleFunc("/api/accounts", s.withRequestLog(s.handleAccounts))
	mux.HandleFunc("/api/categories", s.withRequestLog(s.handleCreateCategory))
	mux.HandleFunc("/api/bills", s.withRequestLog(s.handleCreateBill))
	mux.HandleFunc("/api/income-sources", s.withRequestLog(s.handleCreateIncomeSource))
	mux.HandleFunc("/api/goals", s.withRequestLog(s.handleCreateGoal))
	mux.HandleFunc("/api/goals/contribute", s.withRequestLog(s.handleContribute))
	mux.HandleFunc("/api/transactions", s.withRequestLog(s.handleTransactions))
	mux.HandleFunc("/api/transactions/confirm", s.withRequestLog(s.handleConfirmScheduled))
	mux.HandleFunc("/api/pending", s.withRequestLog(s.handleEnsurePending))
	mux.HandleFunc("/api/billing-cycle", s.withRequestLog(s.handleBillingCycle))
	mux.HandleFunc("/api/billing-month", s.withRequestLog(s.handleBillingMonth))

	return s
}

func (s *Server) startCacheCleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if cleaned := s.monthCache.CleanExpired(); cleaned > 0 {
				slog.Debug("Month cache cleanup completed", "entries_removed", cleaned)
			}
		case <-s.stopCacheCleanup:
			return
		}
	}
}

// Shutdown stops the cleanup goroutines alongside the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.stopCacheCleanup != nil {
			close(s.stopCacheCleanup)
		}
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// withRequestLog adds a request id, structured request logging, and rate
// limiting of write methods.
func (s *Server) withRequestLog(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := r.Header.Get("X-Forwarded-For")
		if clientIP == "" {
			clientIP = r.RemoteAddr
		}

		requestID := generateRequestID()
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		slog.InfoContext(ctx, "Request started",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"client_ip", clientIP)

		if r.Method == http.MethodPost && !s.rateLimiter.allow(clientIP) {
			slog.WarnContext(ctx, "Rate limit exceeded", "client_ip", clientIP, "url", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		slog.InfoContext(ctx, "Request completed",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds())
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

// Simple in-memory rate limiter keyed by client IP.
type rateLimiter struct {
	mu           sync.Mutex
	limit        int
	clients      map[string]*clientInfo
	stopCleanup  chan struct{}
	shutdownOnce sync.Once
}

type clientInfo struct {
	lastRequest time.Time
	requests    int
}

func newRateLimiter(limit int) *rateLimiter {
	rl := &rateLimiter{
		limit:       limit,
		clients:     make(map[string]*clientInfo),
		stopCleanup: make(chan struct{}),
	}
	go rl.startCleanup()
	return rl
}

func (rl *rateLimiter) startCleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStaleEntries()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *rateLimiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, client := range rl.clients {
		if client.lastRequest.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

func (rl *rateLimiter) stop() {
	rl.shutdownOnce.Do(func() {
		if rl.stopCleanup != nil {
			close(rl.stopCleanup)
		}
	})
}

func (rl *rateLimiter) allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	client, exists := rl.clients[clientIP]
	if !exists {
		rl.clients[clientIP] = &clientInfo{lastRequest: now, requests: 1}
		return true
	}

	if now.Sub(client.lastRequest) > time.Minute {
		client.requests = 1
		client.lastRequest = now
		return true
	}

	client.requests++
	client.lastRequest = now
	return client.requests <= rl.limit
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) monthCacheKey(budgetID string, year, month int) string {
	return budgetID + "|" + strconv.Itoa(year) + "-" + strconv.Itoa(month)
}

func (s *Server) invalidateMonth(budgetID string, year, month int) {
	s.monthCache.Delete(s.monthCacheKey(budgetID, year, month))
}
