// Package hosting publishes local images at public URLs for vendors that only
// accept image links.
package hosting

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"showcase/internal/infra"
	"showcase/internal/providers"
)

// Uploader publishes one local image and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, path string) (string, error)
}

// ImgBBOptions configures the ImgBB uploader.
type ImgBBOptions struct {
	APIKey     string
	Endpoint   string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// ImgBB uploads images through the ImgBB v1 API.
type ImgBB struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	logger     *infra.Logger
}

type imgbbResponse struct {
	Success bool `json:"success"`
	Data    struct {
		URL string `json:"url"`
	} `json:"data"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewImgBB returns an uploader; the API key is required.
func NewImgBB(opts ImgBBOptions) (*ImgBB, error) {
	key := strings.TrimSpace(opts.APIKey)
	if key == "" {
		return nil, errors.New("hosting: imgbb api key is required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		endpoint = "https://api.imgbb.com/1/upload"
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &ImgBB{apiKey: key, endpoint: endpoint, httpClient: client, logger: logger}, nil
}

// Upload implements Uploader.
func (u *ImgBB) Upload(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("hosting: read %s: %w", path, err)
	}
	form := url.Values{}
	form.Set("key", u.apiKey)
	form.Set("image", base64.StdEncoding.EncodeToString(data))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("hosting: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("hosting: upload: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		return "", providers.StatusError("imgbb upload", resp.StatusCode, string(body))
	}
	var out imgbbResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("hosting: decode response: %w", err)
	}
	if !out.Success || out.Data.URL == "" {
		return "", fmt.Errorf("hosting: imgbb upload failed: %s", out.Error.Message)
	}
	u.logger.Debug().Str("file", filepath.Base(path)).Str("url", out.Data.URL).Msg("hosting: uploaded image")
	return out.Data.URL, nil
}

var _ Uploader = (*ImgBB)(nil)
