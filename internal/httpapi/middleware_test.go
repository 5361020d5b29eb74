package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
)

func TestRateLimitConcurrentClients(t *testing.T) {
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	limited := RateLimit(okHandler, 100, 100)

	// Distinct client IPs force concurrent inserts into the bucket map
	// alongside lookups; run with the race detector.
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 16; j++ {
				req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
				req.Header.Set("X-Forwarded-For", "10.0."+strconv.Itoa(n)+"."+strconv.Itoa(j))
				rec := httptest.NewRecorder()
				limited.ServeHTTP(rec, req)
				if rec.Code != http.StatusOK {
					t.Errorf("status = %d", rec.Code)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestRateLimitRejectsBurstOverflow(t *testing.T) {
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	limited := RateLimit(okHandler, 3, 1)

	codes := make(map[int]int)
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set("X-Forwarded-For", "192.0.2.1")
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, req)
		codes[rec.Code]++
	}
	if codes[http.StatusOK] < 3 {
		t.Fatalf("burst not honored: %v", codes)
	}
	if codes[http.StatusTooManyRequests] == 0 {
		t.Fatalf("no request limited: %v", codes)
	}
}
