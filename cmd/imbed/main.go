package main

import (
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/imbed/cmd/imbed/commands"
	ferrors "git.home.luguber.info/inful/imbed/internal/foundation/errors"
	"git.home.luguber.info/inful/imbed/internal/version"
)

func main() {
	cli := &commands.CLI{}
	global := &commands.Global{Stdin: os.Stdin, Stdout: os.Stdout}

	parser := kong.Must(cli,
		kong.Name("imbed"),
		kong.Description("Upload images and rendered artifacts through a pluggable hook pipeline."),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
		kong.Bind(global),
	)
	ctx, err := parser.Parse(os.Args[1:])
	if err != nil {
		parser.FatalIfErrorf(err)
	}

	if err := ctx.Run(global, cli); err != nil {
		ferrors.NewCLIErrorAdapter(cli.Verbose, global.Logger).HandleError(err)
	}
}
