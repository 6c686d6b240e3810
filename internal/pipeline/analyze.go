package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"

	"showcase/internal/domain"
	"showcase/internal/jobs"
	"showcase/internal/providers"
	"showcase/internal/storage"
)

func (o *Orchestrator) analyze(ctx context.Context, inputs []string) (providers.Description, error) {
	desc, err := o.analyzer.Analyze(ctx, inputs)
	if err != nil {
		return providers.Description{}, providerError("analyze", "Image analysis failed", err)
	}
	if strings.TrimSpace(desc.Prompt) == "" {
		return providers.Description{}, contractViolation("analyze", "Image analysis returned an empty description")
	}
	return desc, nil
}

func (o *Orchestrator) generateSheet(ctx context.Context, st *jobs.State, desc providers.Description, inputs []string) (string, error) {
	data, err := o.sheets.GenerateSheet(ctx, desc, inputs)
	if err != nil {
		return "", providerError("contact_sheet", "Contact sheet generation failed", err)
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return "", contractViolation("contact_sheet", fmt.Sprintf("Contact sheet is not a decodable image: %v", err))
	}
	key, err := o.store.Write(ctx, storage.Key(st.ID(), storage.KindContactSheet, 0), data)
	if err != nil {
		return "", providerError("contact_sheet", "Storing contact sheet failed", err)
	}
	st.SetContactSheet(key)
	return key, nil
}

func (o *Orchestrator) splitFrames(ctx context.Context, st *jobs.State, sheetKey string) ([]string, error) {
	path, err := o.store.Path(sheetKey)
	if err != nil {
		return nil, contractViolation("split_frames", err.Error())
	}
	sheet, err := imaging.Open(path)
	if err != nil {
		return nil, contractViolation("split_frames", fmt.Sprintf("Contact sheet cannot be decoded: %v", err))
	}
	frames, err := SplitGrid(sheet, domain.GridColumns, domain.GridRows, o.cfg.FrameWidth, o.cfg.FrameHeight)
	if err != nil {
		return nil, domain.Wrap(domain.CodeContractViolation, "split_frames", err.Error(), err)
	}

	keys := make([]string, 0, len(frames))
	for i, frame := range frames {
		if err := checkpoint(st); err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, frame, imaging.PNG); err != nil {
			return nil, providerError("split_frames", "Encoding frame failed", err)
		}
		key, err := o.store.Write(ctx, storage.Key(st.ID(), storage.KindFrame, i), buf.Bytes())
		if err != nil {
			return nil, providerError("split_frames", "Storing frame failed", err)
		}
		keys = append(keys, key)
	}
	if len(keys) != domain.FrameCount {
		return nil, contractViolation("split_frames", fmt.Sprintf("expected %d frames, produced %d", domain.FrameCount, len(keys)))
	}
	st.SetFrames(keys)
	return keys, nil
}

// SplitGrid cuts img into cols x rows equal cells in row-major order and
// resizes each cell to width x height. Both image sides must divide evenly.
func SplitGrid(img image.Image, cols, rows, width, height int) ([]*image.NRGBA, error) {
	b := img.Bounds()
	if cols <= 0 || rows <= 0 {
		return nil, fmt.Errorf("invalid grid %dx%d", cols, rows)
	}
	if b.Dx() < cols || b.Dy() < rows || b.Dx()%cols != 0 || b.Dy()%rows != 0 {
		return nil, fmt.Errorf("contact sheet %dx%d cannot be split into %dx%d equal regions", b.Dx(), b.Dy(), cols, rows)
	}
	cellW, cellH := b.Dx()/cols, b.Dy()/rows
	out := make([]*image.NRGBA, 0, cols*rows)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			x0 := b.Min.X + col*cellW
			y0 := b.Min.Y + row*cellH
			cell := imaging.Crop(img, image.Rect(x0, y0, x0+cellW, y0+cellH))
			if width > 0 && height > 0 {
				cell = imaging.Resize(cell, width, height, imaging.Lanczos)
			}
			out = append(out, cell)
		}
	}
	return out, nil
}
