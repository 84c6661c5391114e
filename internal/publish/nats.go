package publish

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	ferrors "git.home.luguber.info/inful/imbed/internal/foundation/errors"
	"git.home.luguber.info/inful/imbed/internal/logfields"
	"git.home.luguber.info/inful/imbed/internal/models"
)

// DefaultSubject is used when publish.nats.subject is empty.
const DefaultSubject = "imbed.uploads"

// UploadEvent is published once per uploaded artifact.
type UploadEvent struct {
	RunID     string    `json:"run_id"`
	Uploader  string    `json:"uploader"`
	Source    string    `json:"source,omitempty"`
	FileName  string    `json:"file_name"`
	Extension string    `json:"extension,omitempty"`
	URL       string    `json:"url"`
	Width     int       `json:"width,omitempty"`
	Height    int       `json:"height,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher is the subset of *nats.Conn the hook uses.
type Publisher interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// NATSHook announces uploads on a NATS subject. It is a no-op while
// publish.nats.url is empty.
type NATSHook struct {
	// Connect overrides how the connection is opened.
	Connect func(url string) (Publisher, error)
	Now     func() time.Time
}

func connectNATS(url string) (Publisher, error) {
	nc, err := nats.Connect(url, nats.Name("imbed"), nats.Timeout(5*time.Second))
	if err != nil {
		return nil, err
	}
	return nc, nil
}

// Handle implements hooks.Handler.
func (h *NATSHook) Handle(ctx context.Context, run *models.Run) error {
	if run.Config == nil || run.Config.Publish.NATS.URL == "" {
		return nil
	}
	cfg := run.Config.Publish.NATS
	subject := cfg.Subject
	if subject == "" {
		subject = DefaultSubject
	}

	connect := h.Connect
	if connect == nil {
		connect = connectNATS
	}
	conn, err := connect(cfg.URL)
	if err != nil {
		return ferrors.NetworkError("failed to connect to NATS").
			WithCause(err).
			WithContext("url", cfg.URL).
			Build()
	}
	defer conn.Close()

	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	n := 0
	for _, rec := range run.Output {
		if rec == nil || rec.URL == "" {
			continue
		}
		ev := UploadEvent{
			RunID:     run.ID,
			Uploader:  rec.Uploader,
			FileName:  rec.FileName,
			Extension: rec.Extension,
			URL:       rec.URL,
			Width:     rec.Width,
			Height:    rec.Height,
			Timestamp: now().UTC(),
		}
		if rec.Input != nil {
			ev.Source = rec.Input.Source.Src
		}
		data, err := json.Marshal(ev)
		if err != nil {
			return ferrors.InternalError("failed to marshal upload event").WithCause(err).Build()
		}
		if err := conn.Publish(subject, data); err != nil {
			return ferrors.NetworkError("failed to publish upload event").
				WithCause(err).
				WithContext("subject", subject).
				Build()
		}
		n++
	}
	if n == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.FlushWithContext(ctx); err != nil {
		return ferrors.NetworkError("failed to flush upload events").WithCause(err).Build()
	}
	run.Log().Debug("Published upload events", logfields.Count(n), "subject", subject)
	return nil
}
