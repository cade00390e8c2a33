package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/eventstore"
	"github.com/loqalabs/loqa-dictate/internal/runtime"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'run', 'transcribe', 'history', 'serve-stt' or 'version'")
		os.Exit(2)
	}

	var (
		configPath string
		filePath   string
		limit      int
	)
	runCmd := flag.NewFlagSet("run", flag.ExitOnError)
	runCmd.StringVar(&configPath, "config", "loqa-dictate.yaml", "Path to configuration file")
	transcribeCmd := flag.NewFlagSet("transcribe", flag.ExitOnError)
	transcribeCmd.StringVar(&configPath, "config", "loqa-dictate.yaml", "Path to configuration file")
	transcribeCmd.StringVar(&filePath, "file", "", "WAV file to transcribe")
	historyCmd := flag.NewFlagSet("history", flag.ExitOnError)
	historyCmd.StringVar(&configPath, "config", "loqa-dictate.yaml", "Path to configuration file")
	historyCmd.IntVar(&limit, "limit", 20, "Number of sessions to list")
	workerCmd := flag.NewFlagSet("serve-stt", flag.ExitOnError)
	workerCmd.StringVar(&configPath, "config", "loqa-dictate.yaml", "Path to configuration file")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "run":
		runCmd.Parse(os.Args[2:])
		cfg, logger := load(configPath)
		err = runtime.New(cfg, logger).Start(ctx)
	case "transcribe":
		transcribeCmd.Parse(os.Args[2:])
		if filePath == "" {
			fmt.Fprintln(os.Stderr, "transcribe requires -file")
			os.Exit(2)
		}
		cfg, logger := load(configPath)
		_, err = runtime.TranscribeFile(ctx, cfg, filePath, os.Stdout, logger)
		if err == nil {
			fmt.Println()
		}
	case "history":
		historyCmd.Parse(os.Args[2:])
		cfg, logger := load(configPath)
		err = printHistory(ctx, cfg, limit, logger)
	case "serve-stt":
		workerCmd.Parse(os.Args[2:])
		cfg, logger := load(configPath)
		err = runtime.ServeWorker(ctx, cfg, logger)
	case "version":
		fmt.Println(runtime.Version)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// load reads the config, falling back to defaults when the default path is
// absent. Logs go to stderr so transcripts can be piped from stdout.
func load(path string) (config.Config, *slog.Logger) {
	if path == "loqa-dictate.yaml" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			path = ""
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.Telemetry.LogLevel)}))
	return cfg, logger
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func printHistory(ctx context.Context, cfg config.Config, limit int, logger *slog.Logger) error {
	store, err := eventstore.Open(ctx, cfg.EventStore, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := store.ListSessions(ctx, limit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tSTATUS\tID\tTRANSCRIPT")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.StartedAt.Local().Format(time.DateTime), s.Status, s.ID, s.Transcript)
	}
	return w.Flush()
}
