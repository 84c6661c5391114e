package uploader

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/url"
	"path"
	"strings"

	"git.home.luguber.info/inful/imbed/internal/config"
	ferrors "git.home.luguber.info/inful/imbed/internal/foundation/errors"
	"git.home.luguber.info/inful/imbed/internal/hooks"
	"git.home.luguber.info/inful/imbed/internal/httpclient"
	"git.home.luguber.info/inful/imbed/internal/logfields"
	"git.home.luguber.info/inful/imbed/internal/metrics"
	"git.home.luguber.info/inful/imbed/internal/models"
	"git.home.luguber.info/inful/imbed/internal/retry"
)

// DefaultGitHubAPI is the public GitHub REST endpoint.
const DefaultGitHubAPI = "https://api.github.com"

// GitHub stores artifacts in a repository through the contents API.
type GitHub struct {
	Client   *http.Client
	Recorder metrics.Recorder
}

type githubContent struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Type        string `json:"type"`
	SHA         string `json:"sha"`
	DownloadURL string `json:"download_url"`
}

type githubPut struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch,omitempty"`
	SHA     string `json:"sha,omitempty"`
}

func (g *GitHub) api(cfg *config.Config) (*httpclient.API, error) {
	gh := cfg.Uploaders.GitHub
	if gh.Repo == "" || gh.Token == "" {
		return nil, ferrors.ConfigError("github uploader needs uploaders.github.repo and token").UserAction().Build()
	}
	client, err := clientFor(g.Client, cfg.Core.Proxy)
	if err != nil {
		return nil, err
	}
	base := gh.APIURL
	if base == "" {
		base = DefaultGitHubAPI
	}
	api := httpclient.NewAPI(client, base, gh.Token)
	api.SetAuthPrefix("token ")
	api.SetHeader("Accept", "application/vnd.github+json")
	return api, nil
}

func contentsEndpoint(gh config.GitHubUploaderConfig, p string) string {
	e := "repos/" + strings.Trim(gh.Repo, "/") + "/contents/" + p
	if gh.Branch != "" {
		e += "?ref=" + url.QueryEscape(gh.Branch)
	}
	return e
}

// Handle implements hooks.Handler.
func (g *GitHub) Handle(ctx context.Context, run *models.Run) error {
	cfg := configOf(run)
	api, err := g.api(cfg)
	if err != nil {
		return err
	}
	gh := cfg.Uploaders.GitHub
	policy := retry.FromConfig(cfg.Retry)
	rec := metrics.OrNoop(g.Recorder)

	for _, out := range run.Output {
		if !uploadable(out) {
			continue
		}
		if err := checkName(out.FileName); err != nil {
			return err
		}
		p := path.Join(gh.Path, out.FileName)
		var u string
		err := policy.Do(ctx, func(ctx context.Context) error {
			var err error
			u, err = g.put(ctx, api, gh, p, out.Buffer)
			return err
		}, func(attempt int, err error) {
			rec.IncUploadRetry(GitHubName)
			run.Log().Warn("Upload failed, retrying", logfields.Uploader(GitHubName), logfields.File(p), "attempt", attempt, logfields.Error(err))
		})
		rec.IncUploadResult(GitHubName, err == nil)
		if err != nil {
			return err
		}
		out.URL = u
		run.Log().Info("Artifact uploaded", logfields.Uploader(GitHubName), logfields.File(p), logfields.URL(u))
	}
	return nil
}

// put creates or replaces the file at p and returns its public URL.
func (g *GitHub) put(ctx context.Context, api *httpclient.API, gh config.GitHubUploaderConfig, p string, data []byte) (string, error) {
	sha, err := g.existingSHA(ctx, api, gh, p)
	if err != nil {
		return "", err
	}
	req, err := api.NewRequest(ctx, http.MethodPut, "repos/"+strings.Trim(gh.Repo, "/")+"/contents/"+p, githubPut{
		Message: "Upload by imbed",
		Content: base64.StdEncoding.EncodeToString(data),
		Branch:  gh.Branch,
		SHA:     sha,
	})
	if err != nil {
		return "", err
	}
	var res struct {
		Content githubContent `json:"content"`
	}
	if err := api.Do(req, &res); err != nil {
		return "", err
	}
	if gh.CustomURL != "" {
		return JoinURL(gh.CustomURL, p), nil
	}
	return res.Content.DownloadURL, nil
}

func (g *GitHub) existingSHA(ctx context.Context, api *httpclient.API, gh config.GitHubUploaderConfig, p string) (string, error) {
	req, err := api.NewRequest(ctx, http.MethodGet, contentsEndpoint(gh, p), nil)
	if err != nil {
		return "", err
	}
	var c githubContent
	err = api.Do(req, &c)
	if ferrors.HasCategory(err, ferrors.CategoryNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return c.SHA, nil
}

// Config implements hooks.Configurer.
func (*GitHub) Config(run *models.Run) []hooks.FormField {
	cfg := configOf(run).Uploaders.GitHub
	branch := cfg.Branch
	if branch == "" {
		branch = "master"
	}
	return []hooks.FormField{
		{Name: "repo", Type: "input", Required: true, Default: cfg.Repo},
		{Name: "branch", Type: "input", Required: true, Default: branch},
		{Name: "token", Type: "input", Required: true, Default: cfg.Token},
		{Name: "path", Type: "input", Default: cfg.Path},
		{Name: "custom_url", Type: "input", Default: cfg.CustomURL},
	}
}

// Suggest implements hooks.Suggester by listing the upload directory of the
// repository.
func (g *GitHub) Suggest(ctx context.Context, run *models.Run, opts hooks.SuggestOptions) (hooks.SuggestResult, error) {
	cfg := configOf(run)
	api, err := g.api(cfg)
	if err != nil {
		return hooks.SuggestResult{}, err
	}
	gh := cfg.Uploaders.GitHub
	req, err := api.NewRequest(ctx, http.MethodGet, contentsEndpoint(gh, strings.Trim(gh.Path, "/")), nil)
	if err != nil {
		return hooks.SuggestResult{}, err
	}
	var list []githubContent
	err = api.Do(req, &list)
	if ferrors.HasCategory(err, ferrors.CategoryNotFound) {
		return hooks.SuggestResult{}, nil
	}
	if err != nil {
		return hooks.SuggestResult{}, err
	}

	urls := make(map[string]string, len(list))
	names := make([]string, 0, len(list))
	for _, c := range list {
		if c.Type != "file" {
			continue
		}
		names = append(names, c.Name)
		urls[c.Name] = c.DownloadURL
		if gh.CustomURL != "" {
			urls[c.Name] = JoinURL(gh.CustomURL, gh.Path, c.Name)
		}
	}
	return page(names, opts, func(name string) string { return urls[name] }), nil
}
