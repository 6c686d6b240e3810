package image

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	stdimage "image"
	"io"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"showcase/internal/infra"
	"showcase/internal/providers"
	"showcase/internal/providers/genai"
)

const (
	defaultAnalyzeModel  = "gemini-3-flash-preview"
	defaultImageModel    = "gemini-3-pro-image-preview"
	defaultFallbackModel = "gemini-2.5-flash-image"
	defaultImageSize     = "2K"
	defaultFallbackSize  = "1K"
	defaultSheetAspect   = "3:2"
	// inputs are downscaled before upload to stay under inline payload limits
	maxInputDimension = 1536
	sheetGrid         = 3
)

// GeminiOptions configures the Gemini backed image capabilities.
type GeminiOptions struct {
	AnalyzeModel  string
	ImageModel    string
	FallbackModel string
	ImageSize     string
	FallbackSize  string
	SheetAspect   string

	// AnalyzePrompt is the instruction that fills SheetTemplate's placeholders.
	AnalyzePrompt string
	SheetTemplate string
	UpscalePrompt string

	Logger *infra.Logger
}

// Gemini implements providers.ImageAnalyzer, providers.SheetGenerator and
// providers.FrameUpscaler on one Gemini client.
type Gemini struct {
	client *genai.Client
	opts   GeminiOptions
	logger *infra.Logger
}

// NewGemini wires the capabilities onto client.
func NewGemini(client *genai.Client, opts GeminiOptions) *Gemini {
	opts.AnalyzeModel = firstNonEmpty(opts.AnalyzeModel, defaultAnalyzeModel)
	opts.ImageModel = firstNonEmpty(opts.ImageModel, defaultImageModel)
	opts.FallbackModel = firstNonEmpty(opts.FallbackModel, defaultFallbackModel)
	opts.ImageSize = firstNonEmpty(opts.ImageSize, defaultImageSize)
	opts.FallbackSize = firstNonEmpty(opts.FallbackSize, defaultFallbackSize)
	opts.SheetAspect = firstNonEmpty(opts.SheetAspect, defaultSheetAspect)

	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Gemini{client: client, opts: opts, logger: logger}
}

// Analyze fills the contact sheet template with details read from the photos.
func (g *Gemini) Analyze(ctx context.Context, imagePaths []string) (providers.Description, error) {
	if strings.TrimSpace(g.opts.SheetTemplate) == "" {
		return providers.Description{}, errors.New("image: contact sheet template is empty")
	}
	if g.client.Synthetic() {
		return providers.Description{Prompt: g.opts.SheetTemplate}, nil
	}
	images, err := loadInputs(imagePaths)
	if err != nil {
		return providers.Description{}, err
	}
	prompt := strings.TrimSpace(g.opts.AnalyzePrompt) + "\n\n" + g.opts.SheetTemplate
	text, err := g.client.GenerateText(ctx, genai.TextRequest{
		Model:  g.opts.AnalyzeModel,
		Prompt: prompt,
		Images: images,
	})
	if err != nil {
		return providers.Description{}, fmt.Errorf("analyze: %w", err)
	}
	return providers.Description{Prompt: text}, nil
}

// GenerateSheet renders the 3x3 contact sheet from the description and the
// reference photos. The result is trimmed so both sides divide by three.
func (g *Gemini) GenerateSheet(ctx context.Context, desc providers.Description, imagePaths []string) ([]byte, error) {
	images, err := loadInputs(imagePaths)
	if err != nil {
		return nil, err
	}
	data, err := g.generateWithFallback(ctx, genai.ImageRequest{
		Prompt:        desc.Prompt,
		Images:        images,
		AspectRatio:   g.opts.SheetAspect,
		SyntheticGrid: sheetGrid,
	})
	if err != nil {
		return nil, fmt.Errorf("contact sheet: %w", err)
	}
	return trimToGrid(data, sheetGrid)
}

// Upscale regenerates a frame at the configured size and crops the result to
// aspectRatio.
func (g *Gemini) Upscale(ctx context.Context, framePath string, aspectRatio string) ([]byte, error) {
	images, err := loadInputs([]string{framePath})
	if err != nil {
		return nil, err
	}
	data, err := g.generateWithFallback(ctx, genai.ImageRequest{
		Prompt:      g.opts.UpscalePrompt,
		Images:      images,
		AspectRatio: aspectRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("upscale: %w", err)
	}
	return CropToAspect(data, aspectRatio)
}

// generateWithFallback tries the primary model then the fallback model at
// the fallback size.
func (g *Gemini) generateWithFallback(ctx context.Context, req genai.ImageRequest) ([]byte, error) {
	req.Model = g.opts.ImageModel
	req.ImageSize = g.opts.ImageSize
	data, err := g.client.GenerateImage(ctx, req)
	if err == nil {
		return data, nil
	}
	if ctx.Err() != nil || g.opts.FallbackModel == g.opts.ImageModel {
		return nil, err
	}
	g.logger.Warn().
		Err(err).
		Str("model", req.Model).
		Str("fallback_model", g.opts.FallbackModel).
		Msg("image: primary model failed; retrying with fallback model")

	req.Model = g.opts.FallbackModel
	req.ImageSize = g.opts.FallbackSize
	data, fbErr := g.client.GenerateImage(ctx, req)
	if fbErr != nil {
		return nil, errors.Join(err, fbErr)
	}
	return data, nil
}

func loadInputs(paths []string) ([]genai.InlineImage, error) {
	out := make([]genai.InlineImage, 0, len(paths))
	for _, p := range paths {
		img, err := imaging.Open(p, imaging.AutoOrientation(true))
		if err != nil {
			return nil, fmt.Errorf("image: open %s: %w", p, err)
		}
		b := img.Bounds()
		if b.Dx() > maxInputDimension || b.Dy() > maxInputDimension {
			img = imaging.Fit(img, maxInputDimension, maxInputDimension, imaging.Lanczos)
		}
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return nil, fmt.Errorf("image: encode %s: %w", p, err)
		}
		out = append(out, genai.InlineImage{MimeType: "image/png", Data: buf.Bytes()})
	}
	return out, nil
}

// trimToGrid drops the right and bottom remainder pixels so the image splits
// into grid equal cells.
func trimToGrid(data []byte, grid int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("image: decode sheet: %w", err)
	}
	b := img.Bounds()
	w, h := b.Dx()-b.Dx()%grid, b.Dy()-b.Dy()%grid
	if w == b.Dx() && h == b.Dy() {
		return data, nil
	}
	cropped := imaging.Crop(img, stdimage.Rect(b.Min.X, b.Min.Y, b.Min.X+w, b.Min.Y+h))
	return encodePNG(cropped)
}

// CropToAspect centre-crops an encoded image to ratio "W:H". Unknown ratios
// and images already within 1% of the ratio are returned unchanged.
func CropToAspect(data []byte, aspectRatio string) ([]byte, error) {
	target, ok := parseRatio(aspectRatio)
	if !ok {
		return data, nil
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("image: decode: %w", err)
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if h == 0 {
		return nil, errors.New("image: empty image")
	}
	current := float64(w) / float64(h)
	if diff := current - target; diff < 0.01 && diff > -0.01 {
		return data, nil
	}
	if current > target {
		w = int(float64(h) * target)
	} else {
		h = int(float64(w) / target)
	}
	return encodePNG(imaging.CropCenter(img, w, h))
}

func parseRatio(aspect string) (float64, bool) {
	var a, b int
	if _, err := fmt.Sscanf(strings.TrimSpace(aspect), "%d:%d", &a, &b); err != nil || a <= 0 || b <= 0 {
		return 0, false
	}
	return float64(a) / float64(b), true
}

func encodePNG(img stdimage.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("image: encode: %w", err)
	}
	return buf.Bytes(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

var (
	_ providers.ImageAnalyzer  = (*Gemini)(nil)
	_ providers.SheetGenerator = (*Gemini)(nil)
	_ providers.FrameUpscaler  = (*Gemini)(nil)
)
