package uploader

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	ferrors "git.home.luguber.info/inful/imbed/internal/foundation/errors"
	"git.home.luguber.info/inful/imbed/internal/hooks"
	"git.home.luguber.info/inful/imbed/internal/logfields"
	"git.home.luguber.info/inful/imbed/internal/metrics"
	"git.home.luguber.info/inful/imbed/internal/models"
)

const (
	defaultAuthorName  = "imbed"
	defaultAuthorEmail = "imbed@localhost"
)

// Git commits artifacts into a local repository. Publishing the repository
// (push, pages) is left to the user.
type Git struct {
	Recorder metrics.Recorder
	Now      func() time.Time
}

// SupportsSoftUpload implements hooks.SoftUploader.
func (*Git) SupportsSoftUpload() bool { return true }

type gitSettings struct {
	repoPath string
	dir      string
	baseURL  string
	author   object.Signature
}

func (g *Git) settings(run *models.Run) (gitSettings, error) {
	cfg := configOf(run).Uploaders.Git
	if cfg.RepoPath == "" {
		return gitSettings{}, ferrors.ConfigError("git uploader needs uploaders.git.repo_path").UserAction().Build()
	}
	abs, err := filepath.Abs(cfg.RepoPath)
	if err != nil {
		return gitSettings{}, ferrors.WrapError(err, ferrors.CategoryConfig, "invalid git repository path").Build()
	}
	s := gitSettings{
		repoPath: abs,
		dir:      path.Clean("/" + cfg.Path)[1:],
		baseURL:  cfg.BaseURL,
		author:   object.Signature{Name: cfg.AuthorName, Email: cfg.AuthorEmail},
	}
	if s.baseURL == "" {
		s.baseURL = (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
	}
	if s.author.Name == "" {
		s.author.Name = defaultAuthorName
	}
	if s.author.Email == "" {
		s.author.Email = defaultAuthorEmail
	}
	return s, nil
}

func openOrInit(repoPath string) (*git.Repository, error) {
	repo, err := git.PlainOpen(repoPath)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainInit(repoPath, false)
	}
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryUpload, "failed to open git repository").
			WithContext("path", repoPath).
			Build()
	}
	return repo, nil
}

// Handle implements hooks.Handler. All changed artifacts of a run go into
// one commit.
func (g *Git) Handle(_ context.Context, run *models.Run) error {
	s, err := g.settings(run)
	if err != nil {
		return err
	}
	rec := metrics.OrNoop(g.Recorder)

	var repo *git.Repository
	var wt *git.Worktree
	staged := 0
	for _, out := range run.Output {
		if !uploadable(out) {
			continue
		}
		if err := checkName(out.FileName); err != nil {
			return err
		}
		rel := path.Join(s.dir, filepath.ToSlash(out.FileName))
		u := JoinURL(s.baseURL, rel)
		if SkipUnchanged(run, out) {
			out.URL = u
			run.Log().Info("Artifact unchanged, upload skipped", logfields.File(rel), logfields.URL(u))
			continue
		}

		if wt == nil {
			if repo, err = openOrInit(s.repoPath); err != nil {
				return err
			}
			if wt, err = repo.Worktree(); err != nil {
				return ferrors.WrapError(err, ferrors.CategoryUpload, "failed to get worktree").Build()
			}
		}
		if err := writeFileAtomic(filepath.Join(s.repoPath, filepath.FromSlash(rel)), out.Buffer); err != nil {
			rec.IncUploadResult(GitName, false)
			return ferrors.WrapError(err, ferrors.CategoryUpload, "failed to write artifact").WithContext("file", rel).Build()
		}
		if _, err := wt.Add(rel); err != nil {
			rec.IncUploadResult(GitName, false)
			return ferrors.WrapError(err, ferrors.CategoryUpload, "failed to stage artifact").WithContext("file", rel).Build()
		}
		staged++
		out.URL = u
	}
	if staged == 0 {
		return nil
	}

	status, err := wt.Status()
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryUpload, "failed to read worktree status").Build()
	}
	if status.IsClean() {
		run.Log().Info("Artifacts already committed", logfields.Count(staged))
		return nil
	}

	s.author.When = g.now()
	hash, err := wt.Commit(fmt.Sprintf("Upload %d artifact(s) by imbed", staged), &git.CommitOptions{Author: &s.author})
	if err != nil {
		rec.IncUploadResult(GitName, false)
		return ferrors.WrapError(err, ferrors.CategoryUpload, "failed to commit artifacts").Build()
	}
	rec.IncUploadResult(GitName, true)
	run.Log().Info("Artifacts committed", logfields.Uploader(GitName), logfields.Count(staged), "commit", hash.String())
	return nil
}

func (g *Git) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

// Config implements hooks.Configurer.
func (*Git) Config(run *models.Run) []hooks.FormField {
	cfg := configOf(run).Uploaders.Git
	return []hooks.FormField{
		{Name: "repo_path", Type: "input", Message: "local repository", Required: true, Default: cfg.RepoPath},
		{Name: "path", Type: "input", Message: "directory inside the repository", Default: cfg.Path},
		{Name: "base_url", Type: "input", Message: "public base URL", Default: cfg.BaseURL},
	}
}

// Suggest implements hooks.Suggester by listing the files committed at HEAD.
func (g *Git) Suggest(_ context.Context, run *models.Run, opts hooks.SuggestOptions) (hooks.SuggestResult, error) {
	s, err := g.settings(run)
	if err != nil {
		return hooks.SuggestResult{}, err
	}
	names, err := headFiles(s.repoPath, s.dir)
	if err != nil {
		return hooks.SuggestResult{}, err
	}
	return page(names, opts, func(name string) string { return JoinURL(s.baseURL, s.dir, name) }), nil
}

// headFiles lists file paths under dir in the HEAD tree, relative to dir.
// A missing repository, commit or directory yields no files.
func headFiles(repoPath, dir string) ([]string, error) {
	repo, err := git.PlainOpen(repoPath)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, nil
	}
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryUpload, "failed to open git repository").Build()
	}
	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryUpload, "failed to resolve HEAD").Build()
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryUpload, "failed to read HEAD commit").Build()
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryUpload, "failed to read HEAD tree").Build()
	}
	if dir != "" {
		tree, err = tree.Tree(dir)
		if errors.Is(err, object.ErrDirectoryNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryUpload, "failed to read directory tree").WithContext("dir", dir).Build()
		}
	}

	var names []string
	err = tree.Files().ForEach(func(f *object.File) error {
		names = append(names, f.Name)
		return nil
	})
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryUpload, "failed to walk tree").Build()
	}
	return names, nil
}
