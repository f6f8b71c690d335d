package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func requestFrom(ip string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/threads", nil)
	req.RemoteAddr = ip + ":40000"
	return req
}

func TestRateLimitMiddleware_AllowsRequestsWithinLimit(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 2, Burst: 5, CleanupInterval: time.Minute})
	defer rl.Stop()

	calls := 0
	handler := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFrom("192.0.2.1"))
		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("request %d: status = %d, want 200", i, w.Result().StatusCode)
		}
	}
	if calls != 5 {
		t.Errorf("handler call count = %d, want 5", calls)
	}
}

func TestRateLimitMiddleware_Returns429WithRetryAfter(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: rate.Limit(0.5), Burst: 2, CleanupInterval: time.Minute})
	defer rl.Stop()

	handler := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), requestFrom("192.0.2.2"))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("192.0.2.2"))

	resp := w.Result()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	retry, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || retry != 2 {
		t.Errorf("Retry-After = %q, want 2", resp.Header.Get("Retry-After"))
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != ErrCodeRateLimited {
		t.Errorf("code = %q, want %q", body.Code, ErrCodeRateLimited)
	}
}

func TestRateLimitMiddleware_IsolatesClients(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: rate.Limit(0.01), Burst: 1, CleanupInterval: time.Minute})
	defer rl.Stop()

	handler := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("192.0.2.3"))
	if w.Code != http.StatusOK {
		t.Fatalf("first client status = %d, want 200", w.Code)
	}
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("192.0.2.3"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("first client second request status = %d, want 429", w.Code)
	}
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("192.0.2.4"))
	if w.Code != http.StatusOK {
		t.Errorf("second client status = %d, want 200", w.Code)
	}
	if got := rl.LimiterCount(); got != 2 {
		t.Errorf("LimiterCount = %d, want 2", got)
	}
}

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 1, Burst: 1, CleanupInterval: time.Hour})
	defer rl.Stop()

	rl.limiterFor("192.0.2.5")
	rl.limiterFor("192.0.2.6")

	rl.cleanup(time.Now())
	if got := rl.LimiterCount(); got != 2 {
		t.Fatalf("LimiterCount after fresh cleanup = %d, want 2", got)
	}

	rl.cleanup(time.Now().Add(3 * time.Hour))
	if got := rl.LimiterCount(); got != 0 {
		t.Errorf("LimiterCount after expiry = %d, want 0", got)
	}
}

func TestPerMinute(t *testing.T) {
	cfg := PerMinute(120)
	if cfg.Rate != rate.Limit(2) {
		t.Errorf("Rate = %v, want 2", cfg.Rate)
	}
	if cfg.Burst != 120 {
		t.Errorf("Burst = %d, want 120", cfg.Burst)
	}

	def := DefaultRateLimiterConfig()
	if def.Burst != 240 || def.Rate != rate.Limit(4) {
		t.Errorf("default = %+v, want 240/min", def)
	}
	if PerMinute(0).Burst != 240 {
		t.Error("non-positive value should fall back to 240/min")
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	rl.Stop()
	rl.Stop()
}
