package middleware

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type memoryWindows struct {
	mu         sync.Mutex
	counts     map[string]int64
	violations map[string]int64
	blocked    map[string]bool
}

func newMemoryWindows() *memoryWindows {
	return &memoryWindows{
		counts:     make(map[string]int64),
		violations: make(map[string]int64),
		blocked:    make(map[string]bool),
	}
}

func (m *memoryWindows) CountAndAdd(ctx context.Context, key string, window time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.counts[key]
	m.counts[key]++
	return n, nil
}

func (m *memoryWindows) IncrViolations(ctx context.Context, ip string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.violations[ip]++
	return m.violations[ip], nil
}

func (m *memoryWindows) IsBlocked(ctx context.Context, ip string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blocked[ip]
}

func (m *memoryWindows) Block(ctx context.Context, ip string, d time.Duration, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocked[ip] = true
	return nil
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRateLimiter_LimitsRoomCreation(t *testing.T) {
	rl := NewRateLimiter(newMemoryWindows(), zerolog.Nop(), RateLimiterConfig{})
	h := rl.Middleware(okHandler)

	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/room", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/room", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After")
	}
}

func TestRateLimiter_SendKeyedByIPNotSender(t *testing.T) {
	rl := NewRateLimiter(newMemoryWindows(), zerolog.Nop(), RateLimiterConfig{})
	h := rl.Middleware(okHandler)

	rejected := 0
	for i := 0; i < 100; i++ {
		req := httptest.NewRequest(http.MethodPost, "/chat/send", nil)
		req.RemoteAddr = "198.51.100.7:4000"
		req.Header.Set("X-Parley-Sender", "sender-"+strconv.Itoa(i))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			rejected++
		}
	}
	if rejected != 40 {
		t.Fatalf("expected 40 of 100 sends from one IP rejected, got %d", rejected)
	}
}

func TestRateLimiter_WhitelistAndUnlimited(t *testing.T) {
	rl := NewRateLimiter(newMemoryWindows(), zerolog.Nop(), RateLimiterConfig{
		Whitelist: []string{"192.0.2.0/24", "not-a-cidr/99"},
	})
	h := rl.Middleware(okHandler)

	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodPost, "/room", nil)
		req.RemoteAddr = "192.0.2.10:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("whitelisted request rejected with %d", rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Header().Get("X-RateLimit-Limit") != "" {
		t.Fatal("unlimited path got rate limit headers")
	}
}

func TestRateLimiter_AutoBlock(t *testing.T) {
	windows := newMemoryWindows()
	rl := NewRateLimiter(windows, zerolog.Nop(), RateLimiterConfig{AutoBlockEnabled: true})
	h := rl.Middleware(okHandler)

	for i := 0; i < 10+violationsBeforeBlock; i++ {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/room", nil))
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected blocked IP to get 403, got %d", rec.Code)
	}
}

func TestFindLimit_LongestPrefix(t *testing.T) {
	rl := NewRateLimiter(newMemoryWindows(), zerolog.Nop(), RateLimiterConfig{})

	pattern, limit := rl.findLimit(httptest.NewRequest(http.MethodGet, "/chat/subscribe", nil))
	if pattern != "GET /chat/subscribe" || limit == nil {
		t.Fatalf("expected subscribe limit, got %q", pattern)
	}
	pattern, _ = rl.findLimit(httptest.NewRequest(http.MethodGet, "/chat?room_id=1", nil))
	if pattern != "GET /chat" {
		t.Fatalf("expected history limit, got %q", pattern)
	}
}

func TestRealIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.1.1:5555"
	if got := RealIP(req); got != "10.1.1.1" {
		t.Fatalf("expected remote addr ip, got %q", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := RealIP(req); got != "203.0.113.7" {
		t.Fatalf("expected first forwarded ip, got %q", got)
	}
}

func TestValidateRequest(t *testing.T) {
	h := ValidateRequest(okHandler)

	req := httptest.NewRequest(http.MethodPost, "/chat/send", strings.NewReader("x=1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat?room_id=<script>", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestMaxBodySize(t *testing.T) {
	h := MaxBodySize(4)(okHandler)
	req := httptest.NewRequest(http.MethodPost, "/chat/send", strings.NewReader("too large"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"/room/12":              "/room/:id",
		"/room/12/participants": "/room/:id/participants",
		"/room":                 "/room",
		"/chat/send":            "/chat/send",
	}
	for in, want := range cases {
		if got := normalizePath(in); got != want {
			t.Errorf("normalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

// hijackRecorder is a ResponseRecorder that also supports hijacking.
type hijackRecorder struct {
	*httptest.ResponseRecorder
}

func (h hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return nil, nil, nil
}

func TestMetrics_PreservesFlusherAndHijacker(t *testing.T) {
	var flusher, hijacker bool
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, flusher = w.(http.Flusher)
		_, hijacker = w.(http.Hijacker)
	})

	req := httptest.NewRequest(http.MethodGet, "/chat/subscribe", nil)
	Metrics(Logger(zerolog.Nop())(inner)).ServeHTTP(hijackRecorder{httptest.NewRecorder()}, req)

	if !flusher || !hijacker {
		t.Fatalf("wrapped writer lost interfaces: flusher=%v hijacker=%v", flusher, hijacker)
	}
}
