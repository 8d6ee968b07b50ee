// Command vecsync compiles plain text into a vector document, synchronizes
// it through the incremental module stream and renders it as SVG.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/docopt/docopt-go"
	slogmulti "github.com/samber/slog-multi"

	"github.com/gogpu/vecsync"
	"github.com/gogpu/vecsync/incr"
	"github.com/gogpu/vecsync/internal/devserver"
	"github.com/gogpu/vecsync/internal/plaintext"
	"github.com/gogpu/vecsync/stream"
	"github.com/gogpu/vecsync/svg"
)

const version = "0.1.0"

const usage = `vecsync renders and serves incrementally synchronized vector documents.

The render command runs one full synchronization round: the document is
packed by a fresh server session, checked out of the module stream, merged
into a client and rendered inside the window.

Usage:
    vecsync render <input> [--output=<file>] [--window=<rect>] [--page-gap=<gap>]
        [--text-layer] [--stats] [--log-file=<file>] [-v]
    vecsync serve [<input>] [--config=<file>] [--listen=<addr>] [--log-file=<file>] [-v]
    vecsync -h | --help
    vecsync --version

Options:
    -h --help            Show this screen.
    --version            Show version.
    --output=<file>      Output SVG file [default: output.svg].
    --window=<rect>      Window x0,y0,x1,y1 in document units [default: 0,0,inf,inf].
    --page-gap=<gap>     Vertical gap between pages [default: 0].
    --text-layer         Add a selectable text layer.
    --stats              Print synchronization and render statistics.
    --config=<file>      YAML configuration file.
    --listen=<addr>      Listen address, overrides the configuration.
    --log-file=<file>    Also write JSON logs to this file.
    -v --verbose         Log debug messages.`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := run(opts, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "vecsync:", err)
		os.Exit(1)
	}
}

func run(opts docopt.Opts, stdout io.Writer) error {
	verbose, _ := opts.Bool("--verbose")
	logFile, _ := opts["--log-file"].(string)
	closeLog, err := setupLogger(verbose, logFile)
	if err != nil {
		return err
	}
	defer closeLog()

	if render, _ := opts.Bool("render"); render {
		return renderCmd(opts, stdout)
	}
	if serve, _ := opts.Bool("serve"); serve {
		return serveCmd(opts)
	}
	return nil
}

// setupLogger fans records out to stderr and, optionally, a JSON log file.
func setupLogger(verbose bool, path string) (func(), error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	handlers := []slog.Handler{slog.NewTextHandler(os.Stderr, hopts)}

	closeFn := func() {}
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		handlers = append(handlers, slog.NewJSONHandler(f, hopts))
		closeFn = func() { _ = f.Close() }
	}
	vecsync.SetLogger(slog.New(slogmulti.Fanout(handlers...)))
	return closeFn, nil
}

func renderCmd(opts docopt.Opts, stdout io.Writer) error {
	input, _ := opts.String("<input>")
	output, _ := opts.String("--output")
	windowArg, _ := opts.String("--window")
	gap, err := opts.Float64("--page-gap")
	if err != nil {
		return fmt.Errorf("--page-gap: %w", err)
	}
	textLayer, _ := opts.Bool("--text-layer")
	printStats, _ := opts.Bool("--stats")

	window, err := svg.ParseRect(windowArg)
	if err != nil {
		return err
	}
	doc, err := plaintext.CompileFile(input)
	if err != nil {
		return err
	}

	server := incr.NewServer()
	client := incr.NewClient()
	// A session starts with an empty stream before the first delta.
	if _, err := server.PackCurrent(); err != nil {
		return err
	}
	delta, err := server.PackDelta(doc)
	if err != nil {
		return err
	}
	s, err := stream.Open(delta)
	if err != nil {
		return err
	}
	if err := client.MergeModules(context.Background(), s.CheckoutOwned()); err != nil {
		return err
	}

	renderer := svg.NewRenderer(svg.WithPageGap(float32(gap)), svg.WithTextLayer(textLayer))
	markup := renderer.RenderInWindow(client, window)
	if err := os.WriteFile(output, []byte(markup), 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	vecsync.Logger().Info("rendered", "input", input, "output", output,
		"pages", client.PageCount(), "modules", s.Len(), "bytes", len(delta))
	if printStats {
		st, rs := server.Stats(), renderer.LastStats()
		fmt.Fprintf(stdout, "pages:      %d\n", client.PageCount())
		fmt.Fprintf(stdout, "modules:    %d (%d bytes)\n", st.Modules, st.Bytes)
		fmt.Fprintf(stdout, "fragments:  %d\n", client.Len())
		fmt.Fprintf(stdout, "visited:    %d pages, %d fragments (%d culled)\n",
			rs.PagesVisited, rs.FragmentsVisited, rs.FragmentsCulled)
		fmt.Fprintf(stdout, "unresolved: %d\n", len(rs.Unresolved))
		fmt.Fprintf(stdout, "svg:        %d bytes\n", len(markup))
	}
	return nil
}

func serveCmd(opts docopt.Opts) error {
	cfg := devserver.DefaultConfig()
	if path, ok := opts["--config"].(string); ok && path != "" {
		loaded, err := devserver.LoadConfig(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if input, ok := opts["<input>"].(string); ok && input != "" {
		cfg.Source = input
	}
	if listen, ok := opts["--listen"].(string); ok && listen != "" {
		cfg.Listen = listen
	}

	srv, err := devserver.New(cfg)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx)
}
