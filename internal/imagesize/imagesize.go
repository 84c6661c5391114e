// Package imagesize reads artifact dimensions without decoding pixel data.
package imagesize

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strconv"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"git.home.luguber.info/inful/imbed/internal/filetype"
	"git.home.luguber.info/inful/imbed/internal/logfields"
	"git.home.luguber.info/inful/imbed/internal/models"
)

// HookName is the beforeUpload name of Hook.
const HookName = "imgsize"

// ErrUnknownFormat is returned for buffers whose size cannot be read.
var ErrUnknownFormat = errors.New("imagesize: unknown format")

// Size returns the pixel dimensions of a raster image or the declared size
// of an SVG document.
func Size(buf []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(buf))
	if err == nil {
		return cfg.Width, cfg.Height, nil
	}
	if t, ok := filetype.Detect(buf); ok && t == filetype.SVG {
		return svgSize(buf)
	}
	if errors.Is(err, image.ErrFormat) {
		return 0, 0, ErrUnknownFormat
	}
	return 0, 0, err
}

func svgSize(buf []byte) (int, int, error) {
	dec := xml.NewDecoder(bytes.NewReader(buf))
	for {
		tok, err := dec.Token()
		if err != nil {
			return 0, 0, ErrUnknownFormat
		}
		el, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if el.Name.Local != "svg" {
			return 0, 0, ErrUnknownFormat
		}
		var w, h float64
		var viewBox string
		for _, a := range el.Attr {
			switch a.Name.Local {
			case "width":
				w = length(a.Value)
			case "height":
				h = length(a.Value)
			case "viewBox":
				viewBox = a.Value
			}
		}
		if (w == 0 || h == 0) && viewBox != "" {
			f := strings.Fields(strings.ReplaceAll(viewBox, ",", " "))
			if len(f) == 4 {
				vw, _ := strconv.ParseFloat(f[2], 64)
				vh, _ := strconv.ParseFloat(f[3], 64)
				switch {
				case w == 0 && h == 0:
					w, h = vw, vh
				case w == 0 && vh > 0:
					w = h * vw / vh
				case h == 0 && vw > 0:
					h = w * vh / vw
				}
			}
		}
		if w == 0 || h == 0 {
			return 0, 0, ErrUnknownFormat
		}
		return int(w + 0.5), int(h + 0.5), nil
	}
}

// length parses an SVG length in user units; percentages and unknown units
// yield 0.
func length(s string) float64 {
	s = strings.TrimSuffix(strings.TrimSpace(s), "px")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// Hook fills Width and Height of every artifact with a buffer.
type Hook struct{}

// Handle implements hooks.Handler.
func (Hook) Handle(_ context.Context, run *models.Run) error {
	for _, rec := range run.Output {
		if rec.Buffer == nil {
			continue
		}
		w, h, err := Size(rec.Buffer)
		if err != nil {
			run.Log().Debug("Artifact size unknown", logfields.File(rec.FileName), logfields.Error(err))
			continue
		}
		rec.Width, rec.Height = w, h
	}
	return nil
}
