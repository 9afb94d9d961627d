package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	common "github.com/example/sourcebridge/internal/adapters/common"
	"github.com/example/sourcebridge/internal/adapters/factory"
	"github.com/example/sourcebridge/internal/catalog"
	"github.com/example/sourcebridge/internal/config"
	"github.com/example/sourcebridge/internal/logger"
)

const usage = `usage:
  source-probe find <entity> <kind> <value>
  source-probe [-limit n] [-token t] list <entity>
  source-probe kinds <entity>`

// opener resolves an entity name to its lookup.
type opener func(entity string) (catalog.Lookup, error)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.RoleProbe)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}
	log, err := logger.New("source-probe", cfg.App.Env, cfg.App.LogLevel, zerolog.ConsoleWriter{Out: os.Stderr})
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	backends, closeBackends, err := factory.Backends(cfg, *log, factory.Hooks{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	open := func(entity string) (catalog.Lookup, error) { return catalog.Open(entity, backends) }
	err = run(ctx, os.Args[1:], os.Stdout, open)
	_ = closeBackends()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

// run parses args and prints the requested lookup as JSON.
func run(ctx context.Context, args []string, stdout io.Writer, open opener) error {
	fs := flag.NewFlagSet("source-probe", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	limit := fs.Int("limit", common.DefaultPageSize, "page size for list")
	token := fs.String("token", "", "continuation token from a previous list")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}

	rest := fs.Args()
	if len(rest) < 2 {
		return usageError("missing command or entity")
	}
	cmd, entity := rest[0], rest[1]

	lookup, err := open(entity)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")

	switch cmd {
	case "find":
		if len(rest) != 4 {
			return usageError("find takes <entity> <kind> <value>")
		}
		found, err := lookup.FindAny(ctx, rest[2], rest[3])
		if err != nil {
			return err
		}
		return enc.Encode(found)
	case "list":
		if len(rest) != 2 {
			return usageError("list takes <entity>")
		}
		page, err := lookup.ListAny(ctx, common.Pagination{Limit: *limit, Token: *token})
		if err != nil {
			return err
		}
		return enc.Encode(map[string]any{
			"items":   page.Items,
			"hasMore": page.HasMore,
			"next":    page.Next,
		})
	case "kinds":
		return enc.Encode(map[string]any{"entity": lookup.Name(), "kinds": lookup.KindNames()})
	}
	return usageError(fmt.Sprintf("unknown command %q", cmd))
}

type usageErr struct{ msg string }

func (e usageErr) Error() string { return e.msg + "\n" + usage }

func usageError(msg string) error { return usageErr{msg: msg} }

// exitCode maps canonical error kinds onto distinct exit codes.
func exitCode(err error) int {
	var ue usageErr
	if errors.As(err, &ue) {
		return 2
	}
	switch {
	case errors.Is(err, common.ErrNotFound):
		return 3
	case errors.Is(err, common.ErrRequestInvalid):
		return 4
	case errors.Is(err, common.ErrSourceUnavailable), errors.Is(err, common.ErrServer):
		return 5
	case errors.Is(err, common.ErrConfiguration):
		return 6
	}
	return 1
}
