package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ayusman/fidtrack/internal/app"
	"github.com/ayusman/fidtrack/internal/config"
	"github.com/ayusman/fidtrack/internal/dictionary"
	"github.com/ayusman/fidtrack/internal/emitter"
)

// exitFailure is returned for configuration, media and processing errors.
const exitFailure = -1

func main() {
	log.SetPrefix("fidtrack: ")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()

	os.Exit(code)
}

// run executes one invocation. stdout only ever receives frame records,
// usage text or the dictionary list.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	log.SetOutput(stderr)

	cfg, err := config.Parse(args)
	if errors.Is(err, config.ErrHelp) {
		config.Usage(stdout)
		return 0
	}
	if err != nil {
		log.Printf("%v", err)
		fmt.Fprintln(stderr, "Run 'fidtrack --help' for usage.")
		return exitFailure
	}

	if cfg.ListDictionaries {
		for _, name := range dictionary.Names() {
			fmt.Fprintln(stdout, name)
		}
		return 0
	}

	a, err := app.New(cfg, app.Deps{Sink: emitter.NewJSONL(stdout, cfg.PrintEmptyFrames)})
	if err != nil {
		log.Printf("%v", err)
		return exitFailure
	}

	sum, err := a.Run(ctx)
	if err != nil {
		log.Printf("%v", err)
		return exitFailure
	}

	if cfg.Verbose {
		log.Printf("Done: %d frames, %d markers, %d omitted, %d rejected candidates",
			sum.Frames, sum.Markers, sum.Omitted, sum.Rejected)
		if sum.RunID != "" {
			log.Printf("Run %s recorded in %s", sum.RunID, cfg.DBPath)
		}
	}
	return 0
}
