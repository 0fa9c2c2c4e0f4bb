package rates

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestHTTPSourceFetchesAndCaches(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/rates/LTC/SGTK" {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"rate": "0.5"}`)
	}))
	defer srv.Close()

	src := NewHTTPSource("internal", srv.URL+"/rates/{from}/{to}", time.Minute)
	for i := 0; i < 3; i++ {
		rate, err := src.Rate(context.Background(), "LTC", "SGTK")
		if err != nil {
			t.Fatalf("rate: %v", err)
		}
		if !rate.Equal(decimal.NewFromFloat(0.5)) {
			t.Errorf("rate = %s, want 0.5", rate)
		}
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("endpoint hit %d times, want 1", n)
	}
}

func TestHTTPSourceDoesNotCacheBadRates(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			fmt.Fprint(w, `{"rate": "0"}`)
			return
		}
		fmt.Fprint(w, `{"rate": "0.5"}`)
	}))
	defer srv.Close()

	src := NewHTTPSource("internal", srv.URL+"/{from}/{to}", time.Minute)
	if _, err := src.Rate(context.Background(), "LTC", "SGTK"); err == nil {
		t.Fatal("zero rate should be an error")
	}
	// The endpoint recovers; the zero must not have been cached for the TTL.
	rate, err := src.Rate(context.Background(), "LTC", "SGTK")
	if err != nil {
		t.Fatalf("rate after recovery: %v", err)
	}
	if !rate.Equal(decimal.NewFromFloat(0.5)) {
		t.Errorf("rate = %s, want 0.5", rate)
	}
	if n := hits.Load(); n != 2 {
		t.Errorf("endpoint hit %d times, want 2", n)
	}
}

func TestHTTPSourceRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	src := NewHTTPSource("internal", srv.URL+"/{from}/{to}", time.Minute)
	if _, err := src.Rate(context.Background(), "LTC", "SGTK"); err == nil {
		t.Fatal("non-200 response should be an error")
	}
}
