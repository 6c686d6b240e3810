package ratelimit

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestFixedWindowAdmitsThenRejects(t *testing.T) {
	l := NewFixedWindow(1, 60*time.Second)
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	now := base
	l.now = func() time.Time { return now }
	ctx := context.Background()

	d, err := l.Allow(ctx, "203.0.113.1")
	if err != nil || !d.Allowed {
		t.Fatalf("first Allow() = %+v, %v", d, err)
	}
	if d.Remaining != 0 {
		t.Fatalf("Remaining = %d, want 0", d.Remaining)
	}

	now = base.Add(10 * time.Second)
	d, _ = l.Allow(ctx, "203.0.113.1")
	if d.Allowed {
		t.Fatalf("second Allow() admitted")
	}
	if d.RetryAfterSeconds < 1 || d.RetryAfterSeconds > 50 {
		t.Fatalf("RetryAfterSeconds = %d, want within (0,50]", d.RetryAfterSeconds)
	}

	d, _ = l.Allow(ctx, "198.51.100.7")
	if !d.Allowed {
		t.Fatalf("other key rejected")
	}

	now = base.Add(61 * time.Second)
	d, _ = l.Allow(ctx, "203.0.113.1")
	if !d.Allowed {
		t.Fatalf("Allow() after window rejected")
	}
}

func TestFixedWindowRetryAfterAtLeastOne(t *testing.T) {
	l := NewFixedWindow(1, time.Second)
	base := time.Unix(1000, 0)
	now := base
	l.now = func() time.Time { return now }
	_, _ = l.Allow(context.Background(), "k")
	now = base.Add(999 * time.Millisecond)
	d, _ := l.Allow(context.Background(), "k")
	if d.Allowed || d.RetryAfterSeconds != 1 {
		t.Fatalf("Allow() = %+v, want rejection with retry 1", d)
	}
}

func TestFixedWindowConcurrentSingleAdmission(t *testing.T) {
	l := NewFixedWindow(1, time.Minute)
	var admitted int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, _ := l.Allow(context.Background(), "same")
			if d.Allowed {
				atomic.AddInt32(&admitted, 1)
			}
		}()
	}
	wg.Wait()
	if admitted != 1 {
		t.Fatalf("admitted = %d, want 1", admitted)
	}
}

func TestClientKey(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		remoteAddr string
		want       string
	}{
		{name: "single ip", header: "203.0.113.1", remoteAddr: "198.51.100.10:1234", want: "203.0.113.1"},
		{name: "multiple ips use first", header: " 203.0.113.1 , 198.51.100.2 ", remoteAddr: "198.51.100.10:1234", want: "203.0.113.1"},
		{name: "invalid forwarded falls back", header: "invalid", remoteAddr: "198.51.100.10:1234", want: "198.51.100.10"},
		{name: "ipv6 forwarded", header: "2001:db8::1", remoteAddr: net.JoinHostPort("2001:db8::2", "443"), want: "2001:db8::1"},
		{name: "remote without port", header: "", remoteAddr: "203.0.113.1", want: "203.0.113.1"},
		{name: "nothing usable", header: "garbage", remoteAddr: "pipe", want: UnknownClient},
		{name: "empty remote", header: "", remoteAddr: "", want: UnknownClient},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/upload", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.header != "" {
				req.Header.Set("X-Forwarded-For", tc.header)
			}
			if got := ClientKey(req); got != tc.want {
				t.Fatalf("ClientKey() = %q, want %q", got, tc.want)
			}
		})
	}
}
