package uploader

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"time"

	ferrors "git.home.luguber.info/inful/imbed/internal/foundation/errors"
	"git.home.luguber.info/inful/imbed/internal/hooks"
	"git.home.luguber.info/inful/imbed/internal/httpclient"
	"git.home.luguber.info/inful/imbed/internal/logfields"
	"git.home.luguber.info/inful/imbed/internal/metrics"
	"git.home.luguber.info/inful/imbed/internal/models"
	"git.home.luguber.info/inful/imbed/internal/retry"
)

// DefaultSMMSEndpoint is the SM.MS upload API.
const DefaultSMMSEndpoint = "https://sm.ms/api/v2/upload"

// DefaultHTTPTimeout bounds a single upload request.
const DefaultHTTPTimeout = 60 * time.Second

// SMMS uploads artifacts to SM.MS.
type SMMS struct {
	// Client overrides the proxy-aware client built from configuration.
	Client   *http.Client
	Recorder metrics.Recorder
}

type smmsResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		URL string `json:"url"`
	} `json:"data"`
	Images string `json:"images"`
}

// Handle implements hooks.Handler.
func (s *SMMS) Handle(ctx context.Context, run *models.Run) error {
	cfg := configOf(run)
	if cfg.Uploaders.SMMS.Token == "" {
		return ferrors.ConfigError("smms uploader needs an API token, see https://sm.ms/home/apitoken").
			WithContext("key", "uploaders.smms.token").
			UserAction().
			Build()
	}
	endpoint := cfg.Uploaders.SMMS.Endpoint
	if endpoint == "" {
		endpoint = DefaultSMMSEndpoint
	}
	client, err := clientFor(s.Client, cfg.Core.Proxy)
	if err != nil {
		return err
	}
	api := httpclient.NewAPI(client, endpoint, cfg.Uploaders.SMMS.Token)
	api.SetAuthPrefix("")

	policy := retry.FromConfig(cfg.Retry)
	rec := metrics.OrNoop(s.Recorder)
	for _, out := range run.Output {
		if !uploadable(out) {
			continue
		}
		var u string
		err := policy.Do(ctx, func(ctx context.Context) error {
			var err error
			u, err = s.upload(ctx, api, out)
			return err
		}, func(attempt int, err error) {
			rec.IncUploadRetry(SMMSName)
			run.Log().Warn("Upload failed, retrying", logfields.Uploader(SMMSName), logfields.File(out.FileName), "attempt", attempt, logfields.Error(err))
		})
		rec.IncUploadResult(SMMSName, err == nil)
		if err != nil {
			return err
		}
		out.URL = u
		run.Log().Info("Artifact uploaded", logfields.Uploader(SMMSName), logfields.File(out.FileName), logfields.URL(u))
	}
	return nil
}

func (s *SMMS) upload(ctx context.Context, api *httpclient.API, out *models.ArtifactRecord) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("smfile", out.FileName)
	if err != nil {
		return "", ferrors.InternalError("failed to build upload form").WithCause(err).Build()
	}
	if _, err := part.Write(out.Buffer); err != nil {
		return "", ferrors.InternalError("failed to build upload form").WithCause(err).Build()
	}
	if err := mw.WriteField("format", "json"); err != nil {
		return "", ferrors.InternalError("failed to build upload form").WithCause(err).Build()
	}
	if err := mw.Close(); err != nil {
		return "", ferrors.InternalError("failed to build upload form").WithCause(err).Build()
	}

	req, err := api.NewRequest(ctx, http.MethodPost, "", bytes.NewReader(body.Bytes()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var res smmsResponse
	if err := api.Do(req, &res); err != nil {
		return "", err
	}
	switch {
	case res.Code == "success" && res.Data.URL != "":
		return res.Data.URL, nil
	case res.Code == "image_repeated" && res.Images != "":
		return res.Images, nil
	default:
		return "", ferrors.UploadError("smms rejected upload").
			WithContext("code", res.Code).
			WithContext("message", res.Message).
			WithContext("file", out.FileName).
			Build()
	}
}

// Config implements hooks.Configurer.
func (*SMMS) Config(run *models.Run) []hooks.FormField {
	return []hooks.FormField{
		{Name: "token", Type: "input", Message: "api token", Required: true, Default: configOf(run).Uploaders.SMMS.Token},
	}
}

func clientFor(c *http.Client, proxy string) (*http.Client, error) {
	if c != nil {
		return c, nil
	}
	return httpclient.New(proxy, DefaultHTTPTimeout)
}
