package transform

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"git.home.luguber.info/inful/imbed/internal/filetype"
	ferrors "git.home.luguber.info/inful/imbed/internal/foundation/errors"
	"git.home.luguber.info/inful/imbed/internal/models"
	"git.home.luguber.info/inful/imbed/internal/source"
)

// Base64HookName is the transformer name of Base64Hook.
const Base64HookName = "base64"

// Base64Hook decodes inline base64 sources, optionally given as data URIs.
type Base64Hook struct {
	// Now names files without an explicit destination.
	Now func() time.Time
}

// Handle implements hooks.Handler.
func (h *Base64Hook) Handle(_ context.Context, run *models.Run) error {
	for i, spec := range run.Input {
		rec := run.Output[i]
		if rec.Buffer != nil {
			continue
		}
		_, raw := source.ParseOptions(spec.Raw)
		payload, dest, _ := strings.Cut(raw, source.DestDelimiter)

		buf, err := decodeBase64(payload)
		if err != nil {
			return ferrors.ValidationError("invalid base64 source").
				WithCause(err).
				WithContext("index", i).
				Build()
		}
		ext := ""
		if t, ok := filetype.Detect(buf); ok {
			ext = "." + t.Ext
		}
		if dest == "" {
			dest = TimestampFilename(h.now(), ext)
		}
		rec.Buffer = buf
		rec.FileName = dest
		rec.Extension = ext
	}
	return nil
}

func (h *Base64Hook) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if _, data, ok := strings.Cut(s, ","); ok {
			s = data
		}
	}
	if buf, err := base64.StdEncoding.DecodeString(s); err == nil {
		return buf, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

// TimestampFilename names an artifact after t with millisecond precision.
func TimestampFilename(t time.Time, ext string) string {
	return fmt.Sprintf("%s-%03d%s", t.Format("2006-01-02-15-04-05"), t.Nanosecond()/int(time.Millisecond), ext)
}
