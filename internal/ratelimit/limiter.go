package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fairyhunter13/resume-matcher/internal/adapter/observability"
)

// Rejection reasons carried on decisions.
const (
	ReasonHourlyLimit  = "hourly_limit"
	ReasonBurstLimit   = "burst_limit"
	ReasonConcurrency  = "concurrency_limit"
	ReasonGlobalCap    = "global_concurrency"
	ReasonBreakerOpen  = "breaker_open"
	ReasonStoreFailure = "limiter_unavailable"
)

// sweepInterval is how often per-client state is compacted.
const sweepInterval = 5 * time.Minute

// demandSpan is how long an over-cap rejection counts toward breaker demand.
const demandSpan = 5 * time.Second

// Options configures the limiter.
type Options struct {
	Profiles            map[Class]Profile
	MaxGlobalConcurrent int
	DecayUp             float64
	DecayDown           float64
	MinReputation       float64
	RecoveryTime        time.Duration
}

func (o Options) withDefaults() Options {
	if o.Profiles == nil {
		o.Profiles = DefaultProfiles()
	}
	if o.MaxGlobalConcurrent <= 0 {
		o.MaxGlobalConcurrent = 200
	}
	if o.DecayUp <= 0 {
		o.DecayUp = 0.01
	}
	if o.DecayDown <= 0 {
		o.DecayDown = 0.05
	}
	if o.MinReputation <= 0 {
		o.MinReputation = 0.1
	}
	if o.RecoveryTime <= 0 {
		o.RecoveryTime = time.Minute
	}
	return o
}

// Decision is the outcome of one admission check. Admitted decisions must be
// released exactly once when the request completes.
type Decision struct {
	Admitted   bool
	Reason     string
	RetryAfter time.Duration
	Class      Class
	Limit      int
	Remaining  int
	Reset      time.Time

	release func()
	once    sync.Once
}

// Release returns the concurrency slots taken by an admitted decision. Safe
// to call multiple times; only the first has effect.
func (d *Decision) Release() {
	if d.release == nil {
		return
	}
	d.once.Do(d.release)
}

type clientState struct {
	reputation float64
	inflight   map[Class]int
	lastSeen   time.Time
}

func (c *clientState) totalInflight() int {
	n := 0
	for _, v := range c.inflight {
		n += v
	}
	return n
}

// Limiter is the single admission point for request intake.
type Limiter struct {
	opts  Options
	store WindowStore

	mu               sync.Mutex
	clients          map[string]*clientState
	globalInFlight   int
	overCapRejects   []time.Time
	breakerOpenUntil time.Time

	now func() time.Time
}

// New constructs a limiter over the given window store.
func New(store WindowStore, opts Options) *Limiter {
	return &Limiter{
		opts:    opts.withDefaults(),
		store:   store,
		clients: make(map[string]*clientState),
		now:     time.Now,
	}
}

// Run starts the periodic state sweep until ctx ends.
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweep(ctx)
		}
	}
}

// globalClass reports whether the class counts against the global cap.
func globalClass(c Class) bool {
	return c == ClassJobApplication || c == ClassFileUpload
}

// Check decides admission for one request. It never fails open: window store
// errors reject the request and raise the degraded gauge.
func (l *Limiter) Check(ctx context.Context, clientID, method, path string) *Decision {
	class := Classify(method, path)
	profile := l.opts.Profiles[class]
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Before(l.breakerOpenUntil) {
		return l.reject(class, ReasonBreakerOpen, l.breakerOpenUntil.Sub(now), 0, 0, time.Time{})
	}

	c := l.clients[clientID]
	if c == nil {
		c = &clientState{reputation: 1.0, inflight: make(map[Class]int)}
		l.clients[clientID] = c
	}
	c.lastSeen = now

	effLimit := int(c.reputation * float64(profile.RequestsPerHour))
	effConc := int(c.reputation * float64(profile.ConcurrentLimit))
	if effConc < 1 {
		effConc = 1
	}

	tally, err := l.store.Count(ctx, windowKey(clientID, class), now)
	if err != nil {
		observability.RateLimitBackendDegraded.Set(1)
		slog.Error("rate limit window store failed, rejecting", slog.Any("error", err))
		return l.reject(class, ReasonStoreFailure, 5*time.Second, effLimit, 0, time.Time{})
	}
	observability.RateLimitBackendDegraded.Set(0)

	reset := now.Add(windowSpan)
	if !tally.Oldest.IsZero() {
		reset = tally.Oldest.Add(windowSpan)
	}

	if tally.HourCount >= effLimit {
		c.reputation = math.Max(l.opts.MinReputation, c.reputation-l.opts.DecayDown)
		return l.reject(class, ReasonHourlyLimit, time.Until(reset), effLimit, 0, reset)
	}
	if profile.BurstAllowance > 0 && tally.MinuteCount >= profile.BurstAllowance {
		c.reputation = math.Max(0.3*l.opts.MinReputation, c.reputation-l.opts.DecayDown/2)
		return l.reject(class, ReasonBurstLimit, burstSpan, effLimit, effLimit-tally.HourCount, reset)
	}
	if c.inflight[class] >= effConc {
		c.reputation = math.Max(0.3*l.opts.MinReputation, c.reputation-l.opts.DecayDown/2)
		return l.reject(class, ReasonConcurrency, time.Second, effLimit, effLimit-tally.HourCount, reset)
	}

	if globalClass(class) && l.globalInFlight >= l.opts.MaxGlobalConcurrent {
		l.overCapRejects = append(l.overCapRejects, now)
		l.pruneDemand(now)
		demand := l.globalInFlight + len(l.overCapRejects)
		if float64(demand) >= 1.5*float64(l.opts.MaxGlobalConcurrent) {
			l.breakerOpenUntil = now.Add(l.opts.RecoveryTime)
			slog.Warn("rate limiter breaker tripped",
				slog.Int("demand", demand),
				slog.Int("cap", l.opts.MaxGlobalConcurrent))
			return l.reject(class, ReasonBreakerOpen, l.opts.RecoveryTime, effLimit, effLimit-tally.HourCount, reset)
		}
		return l.reject(class, ReasonGlobalCap, 2*time.Second, effLimit, effLimit-tally.HourCount, reset)
	}

	if err := l.store.Record(ctx, windowKey(clientID, class), now); err != nil {
		observability.RateLimitBackendDegraded.Set(1)
		slog.Error("rate limit window record failed, rejecting", slog.Any("error", err))
		return l.reject(class, ReasonStoreFailure, 5*time.Second, effLimit, 0, time.Time{})
	}

	c.inflight[class]++
	if globalClass(class) {
		l.globalInFlight++
		observability.GlobalConcurrent.Set(float64(l.globalInFlight))
	}
	c.reputation = math.Min(1.0, c.reputation+l.opts.DecayUp)

	observability.RateLimitDecisionsTotal.WithLabelValues(string(class), "admitted").Inc()
	d := &Decision{
		Admitted:  true,
		Class:     class,
		Limit:     effLimit,
		Remaining: effLimit - tally.HourCount - 1,
		Reset:     reset,
	}
	d.release = func() { l.releaseSlot(clientID, class) }
	return d
}

// Reputation returns the current reputation of a client (1.0 for unknown).
func (l *Limiter) Reputation(clientID string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.clients[clientID]; ok {
		return c.reputation
	}
	return 1.0
}

// GlobalInFlight returns the current global concurrency count.
func (l *Limiter) GlobalInFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.globalInFlight
}

func (l *Limiter) releaseSlot(clientID string, class Class) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.clients[clientID]; ok && c.inflight[class] > 0 {
		c.inflight[class]--
	}
	if globalClass(class) && l.globalInFlight > 0 {
		l.globalInFlight--
		observability.GlobalConcurrent.Set(float64(l.globalInFlight))
	}
}

// reject builds a denial; caller holds the lock.
func (l *Limiter) reject(class Class, reason string, retryAfter time.Duration, limit, remaining int, reset time.Time) *Decision {
	observability.RateLimitDecisionsTotal.WithLabelValues(string(class), reason).Inc()
	if remaining < 0 {
		remaining = 0
	}
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return &Decision{
		Reason:     reason,
		RetryAfter: retryAfter,
		Class:      class,
		Limit:      limit,
		Remaining:  remaining,
		Reset:      reset,
	}
}

// pruneDemand ages out over-cap rejections; caller holds the lock.
func (l *Limiter) pruneDemand(now time.Time) {
	cutoff := now.Add(-demandSpan)
	i := 0
	for i < len(l.overCapRejects) && l.overCapRejects[i].Before(cutoff) {
		i++
	}
	l.overCapRejects = l.overCapRejects[i:]
}

// sweep compacts per-client state and the window store.
func (l *Limiter) sweep(ctx context.Context) {
	now := l.now()
	l.mu.Lock()
	removed := 0
	for id, c := range l.clients {
		if c.totalInflight() == 0 && now.Sub(c.lastSeen) > windowSpan {
			delete(l.clients, id)
			removed++
		}
	}
	l.pruneDemand(now)
	l.mu.Unlock()

	swept, err := l.store.Sweep(ctx, now)
	if err != nil {
		slog.Warn("window store sweep failed", slog.Any("error", err))
	}
	if removed > 0 || swept > 0 {
		slog.Debug("rate limit state swept", slog.Int("clients", removed), slog.Int("windows", swept))
	}
}

func windowKey(clientID string, class Class) string {
	return clientID + ":" + string(class)
}

// forwardHeaders in priority order for client identification.
var forwardHeaders = []string{"CF-Connecting-IP", "True-Client-IP", "X-Real-IP", "X-Forwarded-For"}

// ClientIP extracts the first valid IPv4 from the forwarded headers, falling
// back to the direct peer address.
func ClientIP(h http.Header, remoteAddr string) string {
	for _, name := range forwardHeaders {
		for _, part := range strings.Split(h.Get(name), ",") {
			candidate := strings.TrimSpace(part)
			if ip := net.ParseIP(candidate); ip != nil && ip.To4() != nil {
				return ip.String()
			}
		}
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return remoteAddr
}
