package transform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"strconv"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	ferrors "git.home.luguber.info/inful/imbed/internal/foundation/errors"
	"git.home.luguber.info/inful/imbed/internal/logfields"
	"git.home.luguber.info/inful/imbed/internal/models"
)

// MinifyHookName is the transformer name of MinifyHook.
const MinifyHookName = "minify"

// Fit modes for resizing.
const (
	FitContain = "contain"
	FitCover   = "cover"
	FitFill    = "fill"
)

// ResizeOptions are the width, height and fit artifact options.
type ResizeOptions struct {
	Width  int
	Height int
	Fit    string
}

// MinifyHook resizes raster artifacts carrying width or height options.
type MinifyHook struct{}

// Handle implements hooks.Handler.
func (MinifyHook) Handle(_ context.Context, run *models.Run) error {
	for _, rec := range run.Output {
		if rec.Buffer == nil || rec.Input == nil {
			continue
		}
		opts, ok, err := resizeOptions(rec.Input)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		buf, ext, err := Resize(rec.Buffer, opts)
		if errors.Is(err, image.ErrFormat) {
			run.Log().Warn("Skipping resize of unsupported format", logfields.File(rec.FileName))
			continue
		}
		if err != nil {
			return err
		}
		rec.Buffer = buf
		if ext != "" {
			rec.Extension = ext
		}
	}
	return nil
}

func resizeOptions(spec *models.ArtifactSpec) (ResizeOptions, bool, error) {
	var opts ResizeOptions
	captured := false
	for _, key := range []string{"width", "height"} {
		v := spec.Option(key)
		if v == nil {
			continue
		}
		n, err := toInt(v)
		if err != nil || n < 0 {
			return opts, false, ferrors.ValidationError("invalid resize option").
				WithContext("option", key).
				WithContext("value", fmt.Sprint(v)).
				Build()
		}
		if key == "width" {
			opts.Width = n
		} else {
			opts.Height = n
		}
		captured = true
	}
	opts.Fit = FitContain
	if v := spec.Option("fit"); v != nil {
		opts.Fit = fmt.Sprint(v)
		captured = true
	}
	switch opts.Fit {
	case FitContain, FitCover, FitFill:
	default:
		return opts, false, ferrors.ValidationError("invalid fit option").WithContext("fit", opts.Fit).Build()
	}
	return opts, captured && (opts.Width > 0 || opts.Height > 0), nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	default:
		return 0, fmt.Errorf("not a number: %v", v)
	}
}

// Resize scales buf according to opts. The result keeps the source format
// where an encoder exists and falls back to PNG otherwise, in which case the
// returned extension is ".png".
func Resize(buf []byte, opts ResizeOptions) ([]byte, string, error) {
	src, format, err := image.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, "", err
	}
	b := src.Bounds()
	w, h := targetSize(b.Dx(), b.Dy(), opts)

	var dst draw.Image
	if opts.Fit == FitCover && opts.Width > 0 && opts.Height > 0 {
		dst = image.NewRGBA(image.Rect(0, 0, opts.Width, opts.Height))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, coverCrop(b, opts.Width, opts.Height), draw.Src, nil)
	} else {
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	}

	var out bytes.Buffer
	ext := ""
	switch format {
	case "jpeg":
		err = jpeg.Encode(&out, dst, &jpeg.Options{Quality: 90})
	case "gif":
		err = gif.Encode(&out, dst, nil)
	case "png":
		err = png.Encode(&out, dst)
	case "bmp":
		err = bmp.Encode(&out, dst)
	case "tiff":
		err = tiff.Encode(&out, dst, nil)
	default:
		err = png.Encode(&out, dst)
		ext = ".png"
	}
	if err != nil {
		return nil, "", ferrors.InternalError("failed to encode resized image").WithCause(err).Build()
	}
	return out.Bytes(), ext, nil
}

// targetSize computes the output size for contain and fill. A missing
// dimension follows the source aspect ratio.
func targetSize(sw, sh int, opts ResizeOptions) (int, int) {
	w, h := opts.Width, opts.Height
	switch {
	case w == 0:
		w = max(1, sw*h/sh)
	case h == 0:
		h = max(1, sh*w/sw)
	case opts.Fit == FitContain:
		if sw*h > sh*w {
			h = max(1, sh*w/sw)
		} else {
			w = max(1, sw*h/sh)
		}
	}
	return w, h
}

// coverCrop returns the centered region of b with the aspect ratio w:h.
func coverCrop(b image.Rectangle, w, h int) image.Rectangle {
	sw, sh := b.Dx(), b.Dy()
	cw, ch := sw, sh
	if sw*h > sh*w {
		cw = sh * w / h
	} else {
		ch = sw * h / w
	}
	x0 := b.Min.X + (sw-cw)/2
	y0 := b.Min.Y + (sh-ch)/2
	return image.Rect(x0, y0, x0+cw, y0+ch)
}
