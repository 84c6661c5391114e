package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/imbed/internal/foundation/errors"
	"git.home.luguber.info/inful/imbed/internal/models"
)

func noop() HandlerFunc {
	return func(context.Context, *models.Run) error { return nil }
}

type configOnly struct{}

func (configOnly) Config(*models.Run) []FormField { return []FormField{{Name: "token"}} }

func TestRegister_Duplicate(t *testing.T) {
	r := NewRegistry(Uploader)
	first := noop()
	require.NoError(t, r.Register("core", "local", first))

	err := r.Register("plugin-a", "local", noop())
	var dup *DuplicateNameError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "local", dup.Name)
	assert.Equal(t, "core", dup.Group)

	e, ok := r.Get("local")
	require.True(t, ok)
	assert.Equal(t, "core", e.Group)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, ferrors.CategoryAlreadyExists, dup.Category())
}

func TestRegister_InvalidHandler(t *testing.T) {
	r := NewRegistry(Transformer)
	var nilFunc HandlerFunc

	for name, hook := range map[string]Hook{
		"nil":       nil,
		"nil-func":  nilFunc,
		"no-method": struct{}{},
	} {
		t.Run(name, func(t *testing.T) {
			var inv *InvalidHandlerError
			require.ErrorAs(t, r.Register("", name, hook), &inv)
		})
	}
	assert.Equal(t, 0, r.Len())

	require.NoError(t, r.Register("", "form", configOnly{}))
	e, _ := r.Get("form")
	_, ok := e.Handler()
	assert.False(t, ok)
	assert.Equal(t, DefaultGroup, e.Group)
}

func TestRegister_EmptyName(t *testing.T) {
	err := NewRegistry(Transformer).Register("core", "", noop())
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))
}

func TestUnregister_RemovesOnlyGroup(t *testing.T) {
	r := NewRegistry(AfterUpload)
	require.NoError(t, r.Register("core", "print", noop()))
	require.NoError(t, r.Register("plugin", "notify", noop()))
	require.NoError(t, r.Register("plugin", "sync", noop()))
	require.NoError(t, r.Register("core", "markdown", noop()))

	assert.Equal(t, 2, r.Unregister("plugin"))
	assert.Equal(t, 0, r.Unregister("plugin"))
	assert.Equal(t, 0, r.Unregister("never-registered"))

	assert.Equal(t, []string{"print", "markdown"}, r.Names())
	assert.False(t, r.Has("notify"))
	assert.True(t, r.Has("markdown"))
	assert.Equal(t, []string{"core"}, r.Groups())

	require.NoError(t, r.Register("other", "notify", noop()), "name is free again")
}

func TestGet_Fallbacks(t *testing.T) {
	r := NewRegistry(Uploader)
	local := noop()
	require.NoError(t, r.Register("core", "local", local))

	_, ok := r.Get("smms")
	assert.False(t, ok)

	e, ok := r.GetOr("smms", "local")
	require.True(t, ok)
	assert.Equal(t, "local", e.Name)

	_, ok = r.GetOr("smms", "github")
	assert.False(t, ok)

	fallback := noop()
	got := r.GetOrHook("smms", fallback)
	assert.NotNil(t, got)
	assert.Nil(t, r.GetOrHook("smms", nil))
	assert.NotNil(t, r.GetOrHook("local", nil))
}

func TestResolve_DependencyOrder(t *testing.T) {
	r := NewRegistry(Transformer)
	require.NoError(t, r.Register("core", "A", noop()))
	require.NoError(t, r.Register("core", "B", noop(), "A"))

	res, err := r.Resolve([]string{"B", "A"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, res.Names())
	assert.Empty(t, res.Missing)
}

func TestResolve_TransitiveAndMissing(t *testing.T) {
	r := NewRegistry(BeforeTransform)
	require.NoError(t, r.Register("core", "normalize", noop()))
	require.NoError(t, r.Register("core", "render", noop(), "normalize"))
	require.NoError(t, r.Register("core", "minify", noop(), "render", "ghost"))

	res, err := r.Resolve([]string{"x", "minify", "y", "x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"normalize", "render", "minify"}, res.Names())
	assert.Equal(t, []string{"x", "y"}, res.Missing)
}

func TestResolve_PreservesRequestOrderForIndependentHooks(t *testing.T) {
	r := NewRegistry(Transformer)
	for _, n := range []string{"a", "b", "c"} {
		require.NoError(t, r.Register("core", n, noop()))
	}
	res, err := r.Resolve([]string{"c", "a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, res.Names())

	all, err := r.Resolve(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, all.Names())
}

func TestResolve_DiamondIncludesSharedDependencyOnce(t *testing.T) {
	r := NewRegistry(Transformer)
	require.NoError(t, r.Register("core", "base", noop()))
	require.NoError(t, r.Register("core", "left", noop(), "base"))
	require.NoError(t, r.Register("core", "right", noop(), "base"))
	require.NoError(t, r.Register("core", "top", noop(), "left", "right"))

	res, err := r.Resolve([]string{"top"})
	require.NoError(t, err)
	assert.Equal(t, []string{"base", "left", "right", "top"}, res.Names())
}

func TestResolve_Cycle(t *testing.T) {
	r := NewRegistry(Transformer)
	require.NoError(t, r.Register("core", "a", noop(), "c"))
	require.NoError(t, r.Register("core", "b", noop(), "a"))
	require.NoError(t, r.Register("core", "c", noop(), "b"))

	_, err := r.Resolve([]string{"a"})
	var cyc *CircularDependencyError
	require.ErrorAs(t, err, &cyc)
	assert.Equal(t, []string{"a", "c", "b", "a"}, cyc.Cycle)
	assert.Contains(t, err.Error(), "a -> c -> b -> a")
}

func TestResolve_SelfDependency(t *testing.T) {
	r := NewRegistry(Transformer)
	require.NoError(t, r.Register("core", "loop", noop(), "loop"))
	_, err := r.Resolve(nil)
	var cyc *CircularDependencyError
	require.ErrorAs(t, err, &cyc)
	assert.Equal(t, []string{"loop", "loop"}, cyc.Cycle)
}

func TestValidate(t *testing.T) {
	r := NewRegistry(AfterUpload)
	require.NoError(t, r.Register("core", "print", noop()))
	require.NoError(t, r.Validate())

	require.NoError(t, r.Register("core", "markdown", noop(), "missing"))
	var unk *UnknownDependencyError
	require.ErrorAs(t, r.Validate(), &unk)
	assert.Equal(t, "missing", unk.Dependency)
}

func TestRegistrar_TagsAndRollsBack(t *testing.T) {
	before := NewRegistry(BeforeTransform)
	after := NewRegistry(AfterUpload)
	require.NoError(t, after.Register("core", "print", noop()))

	reg := NewRegistrar("imbed-plugin-demo", before, after)
	require.NoError(t, reg.Register(BeforeTransform, "demo", noop()))
	require.NoError(t, reg.Register(AfterUpload, "demo-after", noop()))

	err := reg.Register("nope", "x", noop())
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryNotFound))

	e, ok := before.Get("demo")
	require.True(t, ok)
	assert.Equal(t, "imbed-plugin-demo", e.Group)

	assert.Equal(t, 2, reg.Rollback())
	assert.Equal(t, 0, before.Len())
	assert.Equal(t, []string{"print"}, after.Names())
}

func TestHandlerFunc(t *testing.T) {
	boom := errors.New("boom")
	e := Entry{Name: "x", Hook: HandlerFunc(func(context.Context, *models.Run) error { return boom })}
	h, ok := e.Handler()
	require.True(t, ok)
	assert.ErrorIs(t, h.Handle(context.Background(), nil), boom)
}
