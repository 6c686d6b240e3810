package genai

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "image/jpeg"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"showcase/internal/infra"
	"showcase/internal/providers"
)

// ErrNoContent is returned when a response carries no usable part.
var ErrNoContent = errors.New("genai: no content returned")

// Options controls how the Gemini client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client is a thin REST facade over the Gemini generateContent API. Without
// an API key it answers with deterministic synthetic output so the pipeline
// stays runnable in local and CI environments.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

// InlineImage is an image attached to a request.
type InlineImage struct {
	MimeType string
	Data     []byte
}

// TextRequest asks a model for a text answer about optional images.
type TextRequest struct {
	Model  string
	Prompt string
	Images []InlineImage
}

// ImageRequest asks a model for one generated image.
type ImageRequest struct {
	Model       string
	Prompt      string
	Images      []InlineImage
	AspectRatio string
	ImageSize   string
	// SyntheticGrid sets how many tiles per side the synthetic image has.
	// Synthetic requests with input images and no grid return the first
	// input resized to the requested aspect.
	SyntheticGrid int
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
	FileData   *geminiFileData   `json:"fileData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiFileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri,omitempty"`
}

type geminiImageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
	ImageSize   string `json:"imageSize,omitempty"`
}

type geminiGenerationConfig struct {
	ResponseModalities []string           `json:"responseModalities,omitempty"`
	ImageConfig        *geminiImageConfig `json:"imageConfig,omitempty"`
}

type geminiGenerateContentRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiGenerateContentResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// NewClient constructs a Gemini client with sane defaults. Callers may provide
// a nil HTTP client; a reusable one with a generous timeout is created since
// image generation at 2K routinely takes over a minute.
func NewClient(opts Options) (*Client, error) {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}

	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}

	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		httpClient: client,
		logger:     logger,
	}, nil
}

// Synthetic reports whether the client runs without remote access.
func (c *Client) Synthetic() bool {
	return c.apiKey == ""
}

// GenerateText returns the concatenated text parts of the first candidate.
// In synthetic mode the prompt is echoed back.
func (c *Client) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.Synthetic() {
		c.logger.Debug().Str("model", req.Model).Msg("genai: synthetic text response")
		return req.Prompt, nil
	}

	payload := geminiGenerateContentRequest{
		Contents:         []geminiContent{{Role: "user", Parts: buildParts(req.Prompt, req.Images)}},
		GenerationConfig: &geminiGenerationConfig{ResponseModalities: []string{"TEXT"}},
	}
	var response geminiGenerateContentResponse
	if err := c.invokeGemini(ctx, generatePath(req.Model), payload, &response); err != nil {
		return "", err
	}

	var b strings.Builder
	for _, candidate := range response.Candidates {
		for _, part := range candidate.Content.Parts {
			b.WriteString(part.Text)
		}
		if b.Len() > 0 {
			break
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", ErrNoContent
	}
	return text, nil
}

// GenerateImage returns the first image part of the response.
func (c *Client) GenerateImage(ctx context.Context, req ImageRequest) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.Synthetic() {
		return c.syntheticImage(req)
	}

	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{Role: "user", Parts: buildParts(req.Prompt, req.Images)}},
		GenerationConfig: &geminiGenerationConfig{
			ResponseModalities: []string{"IMAGE"},
			ImageConfig: &geminiImageConfig{
				AspectRatio: strings.TrimSpace(req.AspectRatio),
				ImageSize:   strings.TrimSpace(req.ImageSize),
			},
		},
	}
	var response geminiGenerateContentResponse
	if err := c.invokeGemini(ctx, generatePath(req.Model), payload, &response); err != nil {
		return nil, err
	}

	for _, candidate := range response.Candidates {
		for _, part := range candidate.Content.Parts {
			data, err := c.decodeInlineAsset(ctx, part)
			if err != nil {
				return nil, err
			}
			if len(data) > 0 {
				c.logger.Debug().
					Str("model", req.Model).
					Int("bytes", len(data)).
					Msg("genai: generated remote image")
				return data, nil
			}
		}
	}
	return nil, ErrNoContent
}

func buildParts(prompt string, images []InlineImage) []geminiPart {
	parts := make([]geminiPart, 0, len(images)+1)
	for _, img := range images {
		mime := img.MimeType
		if mime == "" {
			mime = http.DetectContentType(img.Data)
		}
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: mime,
			Data:     base64.StdEncoding.EncodeToString(img.Data),
		}})
	}
	return append(parts, geminiPart{Text: prompt})
}

func generatePath(model string) string {
	return fmt.Sprintf("/models/%s:generateContent", url.PathEscape(model))
}

func (c *Client) invokeGemini(ctx context.Context, path string, payload any, out any) error {
	endpoint := strings.TrimRight(c.baseURL, "/") + path
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("invoke gemini: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		var apiErr geminiErrorResponse
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error.Message != "" {
			return providers.StatusError("gemini", resp.StatusCode, apiErr.Error.Message)
		}
		return providers.StatusError("gemini", resp.StatusCode, string(data))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gemini response: %w", err)
	}
	return nil
}

func (c *Client) decodeInlineAsset(ctx context.Context, part geminiPart) ([]byte, error) {
	if part.InlineData != nil && part.InlineData.Data != "" {
		data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
		if err != nil {
			return nil, fmt.Errorf("decode inline data: %w", err)
		}
		return data, nil
	}
	if part.FileData != nil && part.FileData.FileURI != "" {
		return c.downloadFile(ctx, part.FileData.FileURI)
	}
	return nil, nil
}

func (c *Client) downloadFile(ctx context.Context, uri string) ([]byte, error) {
	target := uri
	if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
		target = strings.TrimRight(c.baseURL, "/") + "/" + strings.TrimLeft(uri, "/")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		return nil, providers.StatusError("gemini download", resp.StatusCode, string(data))
	}
	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return blob, nil
}

func (c *Client) syntheticImage(req ImageRequest) ([]byte, error) {
	width, height := normalizeAspect(req.AspectRatio, req.ImageSize)

	if req.SyntheticGrid <= 0 && len(req.Images) > 0 {
		src, _, err := image.Decode(bytes.NewReader(req.Images[0].Data))
		if err != nil {
			return nil, fmt.Errorf("genai: decode synthetic source: %w", err)
		}
		out := imaging.Fill(src, width, height, imaging.Center, imaging.Lanczos)
		var buf bytes.Buffer
		if err := png.Encode(&buf, out); err != nil {
			return nil, fmt.Errorf("genai: encode synthetic image: %w", err)
		}
		return buf.Bytes(), nil
	}

	grid := req.SyntheticGrid
	if grid <= 0 {
		grid = 1
	}
	width -= width % grid
	height -= height % grid
	seed := deterministicSeed(req.Model, req.Prompt, req.AspectRatio, len(req.Images))
	data := renderSyntheticImage(width, height, grid, seed)
	if data == nil {
		return nil, errors.New("genai: render synthetic image")
	}
	c.logger.Debug().
		Str("model", req.Model).
		Int("width", width).
		Int("height", height).
		Msg("genai: generated synthetic image")
	return data, nil
}

// renderSyntheticImage paints grid*grid tiles, each with its own colour and
// stripe so split frames are distinguishable.
func renderSyntheticImage(width, height, grid int, seed string) []byte {
	if width <= 0 || height <= 0 {
		return nil
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	tileW, tileH := width/grid, height/grid
	for row := 0; row < grid; row++ {
		for col := 0; col < grid; col++ {
			n := row*grid + col
			tile := image.Rect(col*tileW, row*tileH, (col+1)*tileW, (row+1)*tileH)
			draw.Draw(img, tile, &image.Uniform{colorFromSeed(seed, n)}, image.Point{}, draw.Src)
			stripe := maxInt(4, tileH/12)
			offset := (n * stripe) % maxInt(1, tileH-stripe)
			band := image.Rect(tile.Min.X, tile.Min.Y+offset, tile.Max.X, tile.Min.Y+offset+stripe).Intersect(tile)
			draw.Draw(img, band, &image.Uniform{colorFromSeed(seed, n+grid*grid)}, image.Point{}, draw.Over)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}

func colorFromSeed(seed string, shift int) color.RGBA {
	if len(seed) < 6 {
		seed = "000000"
	}
	doubled := seed + seed
	start := (shift * 5) % len(seed)
	segment := doubled[start : start+6]
	r := mustParseHexByte(segment[0:2])
	g := mustParseHexByte(segment[2:4])
	b := mustParseHexByte(segment[4:6])
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

func mustParseHexByte(s string) uint8 {
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0
	}
	return uint8(v)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func deterministicSeed(parts ...any) string {
	hasher := sha256.New()
	for _, part := range parts {
		hasher.Write([]byte(fmt.Sprintf("%v", part)))
		hasher.Write([]byte{'|'})
	}
	return hex.EncodeToString(hasher.Sum(nil))[:16]
}

// normalizeAspect maps an aspect ratio and size tier to pixel dimensions.
func normalizeAspect(aspect, size string) (int, int) {
	long := 1024
	switch strings.ToUpper(strings.TrimSpace(size)) {
	case "2K":
		long = 2048
	case "4K":
		long = 4096
	}
	a, b := 1, 1
	parts := strings.Split(strings.TrimSpace(aspect), ":")
	if len(parts) == 2 {
		x, errA := strconv.Atoi(strings.TrimSpace(parts[0]))
		y, errB := strconv.Atoi(strings.TrimSpace(parts[1]))
		if errA == nil && errB == nil && x > 0 && y > 0 {
			a, b = x, y
		}
	}
	if a >= b {
		return long, long * b / a
	}
	return long * a / b, long
}
