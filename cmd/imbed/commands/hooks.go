package commands

import (
	"fmt"
	"strings"

	"git.home.luguber.info/inful/imbed/internal/hooks"
)

// HooksCmd implements 'hooks'.
type HooksCmd struct {
	Registry string `short:"r" help:"Only list one registry" enum:",beforeTransform,transformer,beforeUpload,uploader,afterUpload" default:""`
}

func (h *HooksCmd) Run(g *Global, root *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()
	app, err := newApp(ctx, g, root)
	if err != nil {
		return err
	}

	var rows [][]string
	for _, reg := range app.Lifecycle.Registries().All() {
		if h.Registry != "" && reg.Name() != h.Registry {
			continue
		}
		for _, e := range reg.Entries() {
			rows = append(rows, []string{reg.Name(), e.Name, e.Group, strings.Join(e.Dependencies, ","), hookKind(e)})
		}
	}
	out := g.stdout()
	table := renderTable(
		[]string{"Registry", "Hook", "Group", "Depends on", "Kind"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
		shouldColorize(out),
	)
	_, err = fmt.Fprintln(out, table)
	return err
}

func hookKind(e hooks.Entry) string {
	var kinds []string
	if _, ok := e.Handler(); ok {
		kinds = append(kinds, "handler")
	} else {
		kinds = append(kinds, "config-only")
	}
	if s, ok := e.Hook.(hooks.SoftUploader); ok && s.SupportsSoftUpload() {
		kinds = append(kinds, "soft")
	}
	if _, ok := e.Hook.(hooks.Suggester); ok {
		kinds = append(kinds, "suggest")
	}
	return strings.Join(kinds, ",")
}
