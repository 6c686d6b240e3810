package video

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"showcase/internal/infra"
	"showcase/internal/providers"
	"showcase/internal/providers/hosting"
)

const (
	defaultHiggsfieldBaseURL = "https://platform.higgsfield.ai"
	defaultHiggsfieldModel   = "kling-video/v2.6/pro/image-to-video"
	defaultCFGScale          = 0.5
)

// ErrInsufficientCredits is returned when every credential ran out of credits.
var ErrInsufficientCredits = errors.New("video: insufficient credits")

// Credential is one Higgsfield key pair.
type Credential struct {
	APIKey string
	Secret string
}

// HiggsfieldOptions configures the Higgsfield image-to-video client.
type HiggsfieldOptions struct {
	BaseURL     string
	Model       string
	Credentials []Credential
	CFGScale    float64
	Host        hosting.Uploader
	HTTPClient  *http.Client
	Logger      *infra.Logger
}

// Higgsfield implements providers.VideoSegmentGenerator against the
// Higgsfield platform. Frames are published through Host first because the
// platform only accepts image URLs.
type Higgsfield struct {
	endpoint   string
	creds      []Credential
	cfgScale   float64
	host       hosting.Uploader
	httpClient *http.Client
	logger     *infra.Logger

	mu     sync.Mutex
	active int
}

type higgsfieldSubmitRequest struct {
	ImageURL       string  `json:"image_url"`
	LastImageURL   string  `json:"last_image_url,omitempty"`
	Prompt         string  `json:"prompt"`
	Duration       int     `json:"duration"`
	CFGScale       float64 `json:"cfg_scale"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
}

type higgsfieldSubmitResponse struct {
	RequestID string `json:"request_id"`
	StatusURL string `json:"status_url"`
}

type higgsfieldStatusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Video  *struct {
		URL string `json:"url"`
	} `json:"video"`
}

// NewHiggsfield validates credentials and returns a client.
func NewHiggsfield(opts HiggsfieldOptions) (*Higgsfield, error) {
	var creds []Credential
	for _, c := range opts.Credentials {
		if strings.TrimSpace(c.APIKey) != "" {
			creds = append(creds, Credential{APIKey: strings.TrimSpace(c.APIKey), Secret: strings.TrimSpace(c.Secret)})
		}
	}
	if len(creds) == 0 {
		return nil, errors.New("video: at least one higgsfield credential is required")
	}
	if opts.Host == nil {
		return nil, errors.New("video: image host is required")
	}
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = defaultHiggsfieldBaseURL
	}
	model := strings.Trim(strings.TrimSpace(opts.Model), "/")
	if model == "" {
		model = defaultHiggsfieldModel
	}
	endpoint := base + "/" + model
	if strings.HasPrefix(model, "http://") || strings.HasPrefix(model, "https://") {
		endpoint = model
	}
	cfg := opts.CFGScale
	if cfg <= 0 {
		cfg = defaultCFGScale
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Higgsfield{
		endpoint:   endpoint,
		creds:      creds,
		cfgScale:   cfg,
		host:       opts.Host,
		httpClient: client,
		logger:     logger,
	}, nil
}

// Submit uploads both frames and queues an image-to-video task. When the
// active credential has no credits left the next one is tried and stays
// active for later submissions.
func (h *Higgsfield) Submit(ctx context.Context, req providers.SegmentRequest) (providers.Handle, error) {
	startURL, err := h.host.Upload(ctx, req.StartFramePath)
	if err != nil {
		return providers.Handle{}, fmt.Errorf("upload start frame: %w", err)
	}
	payload := higgsfieldSubmitRequest{
		ImageURL:       startURL,
		Prompt:         req.Prompt,
		Duration:       req.DurationSeconds,
		CFGScale:       h.cfgScale,
		NegativePrompt: req.NegativePrompt,
	}
	if req.EndFramePath != "" {
		endURL, err := h.host.Upload(ctx, req.EndFramePath)
		if err != nil {
			return providers.Handle{}, fmt.Errorf("upload end frame: %w", err)
		}
		payload.LastImageURL = endURL
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return providers.Handle{}, fmt.Errorf("marshal submit: %w", err)
	}

	for {
		idx := h.activeCredential()
		handle, status, text, err := h.submitOnce(ctx, idx, body)
		if err != nil {
			return providers.Handle{}, err
		}
		if status == http.StatusOK {
			return handle, nil
		}
		if status == http.StatusForbidden && strings.Contains(strings.ToLower(text), "not enough credits") {
			if h.rotateFrom(idx) {
				h.logger.Warn().Int("segment", req.Index+1).Msg("video: credits exhausted; switching to secondary credentials")
				continue
			}
			return providers.Handle{}, fmt.Errorf("%w: %s", ErrInsufficientCredits, strings.TrimSpace(text))
		}
		return providers.Handle{}, providers.StatusError("higgsfield submit", status, text)
	}
}

func (h *Higgsfield) submitOnce(ctx context.Context, idx int, body []byte) (providers.Handle, int, string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return providers.Handle{}, 0, "", fmt.Errorf("create submit request: %w", err)
	}
	h.authorize(httpReq, idx)

	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		return providers.Handle{}, 0, "", fmt.Errorf("higgsfield submit: %w", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return providers.Handle{}, resp.StatusCode, string(data), nil
	}
	var out higgsfieldSubmitResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return providers.Handle{}, 0, "", fmt.Errorf("decode submit response: %w", err)
	}
	if out.StatusURL == "" {
		return providers.Handle{}, 0, "", errors.New("higgsfield submit: response has no status_url")
	}
	return providers.Handle{ID: out.RequestID, StatusURL: out.StatusURL, Credential: idx}, http.StatusOK, "", nil
}

// Poll reads the task status.
func (h *Higgsfield) Poll(ctx context.Context, handle providers.Handle) (providers.PollResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, handle.StatusURL, nil)
	if err != nil {
		return providers.PollResult{}, fmt.Errorf("create poll request: %w", err)
	}
	h.authorize(req, handle.Credential)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return providers.PollResult{}, fmt.Errorf("higgsfield poll: %w", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return providers.PollResult{}, providers.StatusError("higgsfield poll", resp.StatusCode, string(data))
	}

	var out higgsfieldStatusResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return providers.PollResult{}, fmt.Errorf("decode poll response: %w", err)
	}
	switch strings.ToLower(out.Status) {
	case "completed":
		if out.Video == nil || out.Video.URL == "" {
			return providers.PollResult{State: providers.PollFailed, Reason: "missing_video_url"}, nil
		}
		return providers.PollResult{State: providers.PollSucceeded, VideoRef: out.Video.URL}, nil
	case "failed", "nsfw", "canceled", "cancelled":
		reason := out.Error
		if reason == "" {
			reason = "generation_failed"
		}
		return providers.PollResult{State: providers.PollFailed, Reason: reason}, nil
	default:
		return providers.PollResult{State: providers.PollPending}, nil
	}
}

// Fetch downloads the finished clip.
func (h *Higgsfield) Fetch(ctx context.Context, videoRef string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, videoRef, nil)
	if err != nil {
		return nil, fmt.Errorf("create fetch request: %w", err)
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("higgsfield fetch: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, providers.StatusError("higgsfield fetch", resp.StatusCode, string(data))
	}
	return resp.Body, nil
}

func (h *Higgsfield) authorize(req *http.Request, idx int) {
	if idx < 0 || idx >= len(h.creds) {
		idx = 0
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("hf-api-key", h.creds[idx].APIKey)
	req.Header.Set("hf-secret", h.creds[idx].Secret)
}

func (h *Higgsfield) activeCredential() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

// rotateFrom advances past idx if another credential remains. Concurrent
// workers that hit the same exhausted credential rotate only once.
func (h *Higgsfield) rotateFrom(idx int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active > idx {
		return true
	}
	if idx+1 >= len(h.creds) {
		return false
	}
	h.active = idx + 1
	return true
}

var _ providers.VideoSegmentGenerator = (*Higgsfield)(nil)
