package video

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"showcase/internal/providers"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

type fakeHost struct{}

func (fakeHost) Upload(_ context.Context, path string) (string, error) {
	return "https://img.example/" + path, nil
}

func respond(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Header: http.Header{}, Body: io.NopCloser(strings.NewReader(body))}
}

func newTestHiggsfield(t *testing.T, rt roundTripFunc, creds ...Credential) *Higgsfield {
	t.Helper()
	h, err := NewHiggsfield(HiggsfieldOptions{
		BaseURL:     "https://hf.test",
		Credentials: creds,
		Host:        fakeHost{},
		HTTPClient:  &http.Client{Transport: rt},
	})
	if err != nil {
		t.Fatalf("NewHiggsfield() error = %v", err)
	}
	return h
}

func TestSubmitSendsPayloadAndHeaders(t *testing.T) {
	h := newTestHiggsfield(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.String() != "https://hf.test/kling-video/v2.6/pro/image-to-video" {
			t.Fatalf("endpoint = %s", r.URL)
		}
		if r.Header.Get("hf-api-key") != "k1" || r.Header.Get("hf-secret") != "s1" {
			t.Fatalf("auth headers missing")
		}
		var payload higgsfieldSubmitRequest
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if payload.ImageURL != "https://img.example/a.png" || payload.LastImageURL != "https://img.example/b.png" {
			t.Fatalf("frame urls = %+v", payload)
		}
		if payload.Duration != 5 || payload.CFGScale != 0.5 || payload.NegativePrompt != "blur" {
			t.Fatalf("payload = %+v", payload)
		}
		return respond(http.StatusOK, `{"request_id":"r1","status_url":"https://hf.test/status/r1"}`), nil
	}, Credential{APIKey: "k1", Secret: "s1"})

	handle, err := h.Submit(context.Background(), providers.SegmentRequest{
		StartFramePath: "a.png", EndFramePath: "b.png", Prompt: "orbit", NegativePrompt: "blur", DurationSeconds: 5,
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if handle.ID != "r1" || handle.StatusURL != "https://hf.test/status/r1" || handle.Credential != 0 {
		t.Fatalf("handle = %+v", handle)
	}
}

func TestSubmitRotatesCredentialsOnExhaustedCredits(t *testing.T) {
	var calls int32
	h := newTestHiggsfield(t, func(r *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		if r.Header.Get("hf-api-key") == "primary" {
			return respond(http.StatusForbidden, `{"detail":"Not enough credits"}`), nil
		}
		return respond(http.StatusOK, `{"request_id":"r2","status_url":"https://hf.test/status/r2"}`), nil
	}, Credential{APIKey: "primary", Secret: "a"}, Credential{APIKey: "secondary", Secret: "b"})

	handle, err := h.Submit(context.Background(), providers.SegmentRequest{StartFramePath: "a.png"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if handle.Credential != 1 || calls != 2 {
		t.Fatalf("handle = %+v calls = %d", handle, calls)
	}
	if _, err := h.Submit(context.Background(), providers.SegmentRequest{StartFramePath: "a.png"}); err != nil {
		t.Fatalf("second Submit() error = %v", err)
	}
	if calls != 3 {
		t.Fatalf("secondary credential not kept active, calls = %d", calls)
	}
}

func TestSubmitErrorsClassified(t *testing.T) {
	h := newTestHiggsfield(t, func(r *http.Request) (*http.Response, error) {
		return respond(http.StatusForbidden, "not enough credits"), nil
	}, Credential{APIKey: "only"})
	_, err := h.Submit(context.Background(), providers.SegmentRequest{StartFramePath: "a.png"})
	if !errors.Is(err, ErrInsufficientCredits) || providers.Transient(err) {
		t.Fatalf("Submit() error = %v, want permanent ErrInsufficientCredits", err)
	}

	h = newTestHiggsfield(t, func(r *http.Request) (*http.Response, error) {
		return respond(http.StatusBadGateway, "oops"), nil
	}, Credential{APIKey: "only"})
	_, err = h.Submit(context.Background(), providers.SegmentRequest{StartFramePath: "a.png"})
	if !providers.Transient(err) {
		t.Fatalf("Submit() error = %v, want transient", err)
	}
}

func TestPollStates(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   providers.PollState
		ref    string
		errTx  bool
	}{
		{name: "queued", status: 200, body: `{"status":"queued"}`, want: providers.PollPending},
		{name: "in progress", status: 200, body: `{"status":"in_progress"}`, want: providers.PollPending},
		{name: "completed", status: 200, body: `{"status":"completed","video":{"url":"https://cdn/v.mp4"}}`, want: providers.PollSucceeded, ref: "https://cdn/v.mp4"},
		{name: "completed without url", status: 200, body: `{"status":"completed"}`, want: providers.PollFailed},
		{name: "failed", status: 200, body: `{"status":"failed","error":"moderation"}`, want: providers.PollFailed},
		{name: "server error", status: 503, body: "busy", errTx: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHiggsfield(t, func(r *http.Request) (*http.Response, error) {
				return respond(tc.status, tc.body), nil
			}, Credential{APIKey: "k"})
			res, err := h.Poll(context.Background(), providers.Handle{StatusURL: "https://hf.test/status/x"})
			if tc.errTx {
				if !providers.Transient(err) {
					t.Fatalf("Poll() error = %v, want transient", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Poll() error = %v", err)
			}
			if res.State != tc.want || res.VideoRef != tc.ref {
				t.Fatalf("Poll() = %+v, want state %s ref %q", res, tc.want, tc.ref)
			}
		})
	}
}
