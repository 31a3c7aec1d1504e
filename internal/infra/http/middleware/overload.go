package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tourwise/gatekeeper/internal/config"
	"github.com/tourwise/gatekeeper/pkg/apierror"
	"github.com/tourwise/gatekeeper/pkg/logger"
)

// OverloadGuard is a process-local per-IP token bucket that sits in front
// of the store-backed admission pipeline. It is not the quota mechanism;
// it caps how fast any single IP can make this instance hit the shared
// store, so a flood cannot exhaust the store's connection budget.
type OverloadGuard struct {
	visitors map[string]*visitor
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	cleanup  time.Duration
	log      *logger.Logger
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewOverloadGuard creates a guard and starts its cleanup goroutine.
func NewOverloadGuard(cfg *config.OverloadConfig, log *logger.Logger) *OverloadGuard {
	g := &OverloadGuard{
		visitors: make(map[string]*visitor),
		rate:     rate.Limit(cfg.RequestsPerSec),
		burst:    cfg.Burst,
		cleanup:  cfg.CleanupInterval,
		log:      log,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}

	go g.cleanupVisitors()

	return g
}

// Stop stops the cleanup goroutine and waits for it to exit. Safe to call
// multiple times.
func (g *OverloadGuard) Stop() {
	g.stopOnce.Do(func() {
		close(g.done)
	})
	<-g.stopped
}

func (g *OverloadGuard) getVisitor(ip string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	v, exists := g.visitors[ip]
	if !exists {
		limiter := rate.NewLimiter(g.rate, g.burst)
		g.visitors[ip] = &visitor{limiter: limiter, lastSeen: time.Now()}
		return limiter
	}

	v.lastSeen = time.Now()
	return v.limiter
}

func (g *OverloadGuard) cleanupVisitors() {
	ticker := time.NewTicker(g.cleanup)
	defer ticker.Stop()
	defer close(g.stopped)

	for {
		select {
		case <-g.done:
			return
		case <-ticker.C:
			g.mu.Lock()
			for ip, v := range g.visitors {
				if time.Since(v.lastSeen) > 3*time.Minute {
					delete(g.visitors, ip)
				}
			}
			g.mu.Unlock()
		}
	}
}

// Middleware returns the overload guard middleware.
func (g *OverloadGuard) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := GetDeviceIP(r.Context())
			if ip == "" {
				ip = clientIP(r)
			}

			if !g.getVisitor(ip).Allow() {
				g.log.Warn("overload guard tripped",
					"ip", ip,
					"path", r.URL.Path,
					"request_id", GetRequestID(r.Context()),
				)
				apierror.WriteRateLimited(w, 1)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// OverloadGuardWithStop creates the guard middleware and returns a stop
// function for graceful shutdown. Disabled config yields a pass-through.
func OverloadGuardWithStop(cfg *config.OverloadConfig, log *logger.Logger) (func(http.Handler) http.Handler, func()) {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler {
			return next
		}, func() {}
	}

	g := NewOverloadGuard(cfg, log)
	return g.Middleware(), g.Stop
}
