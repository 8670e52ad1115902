// Command grit-remote administers the remotes of a repository: listing,
// adding, renaming and removing them, and inspecting their configured and
// resolved URLs.
package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	cli "github.com/urfave/cli/v2"
	"gitlab.com/grit-scm/grit/internal/git/remote"
	"gitlab.com/grit-scm/grit/internal/gitconfig"
	"gitlab.com/grit-scm/grit/internal/log"
	"gitlab.com/grit-scm/grit/internal/refdb"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[0], err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "grit-remote",
		Usage: "Manage the set of tracked repositories",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to the repository configuration file",
				Value: "config.toml",
			},
			&cli.StringFlag{
				Name:  "refs-dir",
				Usage: "path to the reference database directory",
				Value: "refs.db",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "minimum level of messages to log",
				Value: "info",
			},
		},
		Commands: []*cli.Command{
			newListCommand(),
			newAddCommand(),
			newRemoveCommand(),
			newRenameCommand(),
			newSetURLCommand(),
			newGetURLCommand(),
			newShowCommand(),
		},
	}
}

// openRepository wires up the repository services the configuration-level
// commands need. The reference database is only opened when a command touches
// references.
func openRepository(ctx *cli.Context, withRefs bool) (*remote.Repository, func(), error) {
	logger, err := log.Configure(os.Stderr, log.Config{Level: ctx.String("log-level")})
	if err != nil {
		return nil, nil, fmt.Errorf("configure logger: %w", err)
	}

	cfg, err := gitconfig.NewFileStore(ctx.String("config"))
	if err != nil {
		return nil, nil, err
	}

	repo := &remote.Repository{
		Config: cfg,
		Logger: logger,
	}
	cleanup := func() {}

	if withRefs {
		refs, err := refdb.OpenBadgerDatabase(ctx.String("refs-dir"))
		if err != nil {
			return nil, nil, err
		}

		repo.Refs = refs
		cleanup = func() { _ = refs.Close() }
	}

	return repo, cleanup, nil
}

func newListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List the names of all configured remotes",
		Action: func(ctx *cli.Context) error {
			repo, cleanup, err := openRepository(ctx, false)
			if err != nil {
				return err
			}
			defer cleanup()

			names, err := remote.List(repo)
			if err != nil {
				return err
			}

			for _, name := range names {
				fmt.Fprintln(ctx.App.Writer, name)
			}

			return nil
		},
	}
}

func newAddCommand() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Add a new remote",
		ArgsUsage: "<name> <url>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "fetch",
				Usage: "use this fetch refspec instead of the default one",
			},
		},
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() != 2 {
				return cli.ShowSubcommandHelp(ctx)
			}

			repo, cleanup, err := openRepository(ctx, false)
			if err != nil {
				return err
			}
			defer cleanup()

			name, url := ctx.Args().Get(0), ctx.Args().Get(1)

			var r *remote.Remote
			if fetch := ctx.String("fetch"); fetch != "" {
				r, err = remote.CreateWithFetchSpec(repo, name, url, fetch)
			} else {
				r, err = remote.Create(repo, name, url)
			}
			if err != nil {
				return err
			}

			return r.Close()
		},
	}
}

func newRemoveCommand() *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Usage:     "Remove a remote together with its remote-tracking references",
		ArgsUsage: "<name>",
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() != 1 {
				return cli.ShowSubcommandHelp(ctx)
			}

			repo, cleanup, err := openRepository(ctx, true)
			if err != nil {
				return err
			}
			defer cleanup()

			return remote.Delete(repo, ctx.Args().First())
		},
	}
}

func newRenameCommand() *cli.Command {
	return &cli.Command{
		Name:      "rename",
		Usage:     "Rename a remote, migrating configuration and references",
		ArgsUsage: "<old> <new>",
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() != 2 {
				return cli.ShowSubcommandHelp(ctx)
			}

			repo, cleanup, err := openRepository(ctx, true)
			if err != nil {
				return err
			}
			defer cleanup()

			problems, err := remote.Rename(repo, ctx.Args().Get(0), ctx.Args().Get(1))
			if err != nil {
				return err
			}

			for _, problem := range problems {
				fmt.Fprintf(ctx.App.Writer, "warning: could not migrate refspec %q\n", problem)
			}

			return nil
		},
	}
}

func newSetURLCommand() *cli.Command {
	return &cli.Command{
		Name:      "set-url",
		Usage:     "Change the URL of a remote; an empty URL removes it",
		ArgsUsage: "<name> [<url>]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "push",
				Usage: "change the push URL instead of the fetch URL",
			},
		},
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() < 1 || ctx.NArg() > 2 {
				return cli.ShowSubcommandHelp(ctx)
			}

			repo, cleanup, err := openRepository(ctx, false)
			if err != nil {
				return err
			}
			defer cleanup()

			name, url := ctx.Args().Get(0), ctx.Args().Get(1)

			if ctx.Bool("push") {
				return remote.SetPushURL(repo, name, url)
			}

			return remote.SetURL(repo, name, url)
		},
	}
}

func newGetURLCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-url",
		Usage:     "Print a remote's URL after insteadof rewriting",
		ArgsUsage: "<name>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "push",
				Usage: "print the push URL instead of the fetch URL",
			},
		},
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() != 1 {
				return cli.ShowSubcommandHelp(ctx)
			}

			repo, cleanup, err := openRepository(ctx, false)
			if err != nil {
				return err
			}
			defer cleanup()

			r, err := remote.Lookup(repo, ctx.Args().First())
			if err != nil {
				return err
			}
			defer func() { _ = r.Close() }()

			url := r.URL()
			if ctx.Bool("push") && r.PushURL() != "" {
				url = r.PushURL()
			}

			fmt.Fprintln(ctx.App.Writer, url)

			return nil
		},
	}
}

type remoteSummary struct {
	name  string
	lines []string
}

func newShowCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Print URLs and refspecs of the given remotes",
		ArgsUsage: "<name>...",
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() == 0 {
				return cli.ShowSubcommandHelp(ctx)
			}

			repo, cleanup, err := openRepository(ctx, false)
			if err != nil {
				return err
			}
			defer cleanup()

			summaries := make([]remoteSummary, ctx.NArg())

			var group errgroup.Group
			for i, name := range ctx.Args().Slice() {
				i, name := i, name
				group.Go(func() error {
					summary, err := summarizeRemote(repo, name)
					if err != nil {
						return err
					}

					summaries[i] = summary

					return nil
				})
			}

			if err := group.Wait(); err != nil {
				return err
			}

			sort.Slice(summaries, func(i, j int) bool { return summaries[i].name < summaries[j].name })

			for _, summary := range summaries {
				fmt.Fprintln(ctx.App.Writer, strings.Join(summary.lines, "\n"))
			}

			return nil
		},
	}
}

func summarizeRemote(repo *remote.Repository, name string) (remoteSummary, error) {
	r, err := remote.Lookup(repo, name)
	if err != nil {
		return remoteSummary{}, err
	}
	defer func() { _ = r.Close() }()

	lines := []string{
		fmt.Sprintf("* remote %s", name),
		fmt.Sprintf("  fetch URL: %s", r.URL()),
	}

	if pushURL := r.PushURL(); pushURL != "" {
		lines = append(lines, fmt.Sprintf("  push URL: %s", pushURL))
	}

	for _, spec := range r.FetchRefspecs() {
		lines = append(lines, fmt.Sprintf("  fetch refspec: %s", spec))
	}
	for _, spec := range r.PushRefspecs() {
		lines = append(lines, fmt.Sprintf("  push refspec: %s", spec))
	}

	return remoteSummary{name: name, lines: lines}, nil
}
