package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/usertrack/internal/config"
	"github.com/roach88/usertrack/internal/model"
	"github.com/roach88/usertrack/internal/search"
)

func (o *RootOptions) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
	}
}

// logger writes text records to stderr, DEBUG and up with --verbose.
func (o *RootOptions) logger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelInfo
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

func (o *RootOptions) loadConfig(f *OutputFormatter) (*config.Config, error) {
	cfg, err := config.Load(o.Config)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, "failed to load configuration", err)
	}
	return cfg, nil
}

func newSearchClient(cfg *config.Config, log *slog.Logger) (*search.Client, error) {
	return search.New(search.Config{
		Addresses: cfg.Elasticsearch.Addresses,
		Username:  cfg.Elasticsearch.Username,
		Password:  cfg.Elasticsearch.Password,
		APIKey:    cfg.Elasticsearch.APIKey,
		PageSize:  cfg.Elasticsearch.PageSize,
		Logger:    log,
	})
}

// signalContext is cancelled on SIGINT/SIGTERM or when the command's own
// context ends.
func signalContext(cmd *cobra.Command, log *slog.Logger) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// parseWindow turns --from/--to into a window. Both empty means no
// override. A missing bound is filled in by fill, which gets the bound
// that was given (or the zero time) and returns the full window.
func parseWindow(from, to string, fill func(from, to time.Time) model.Window) (*model.Window, error) {
	if from == "" && to == "" && fill == nil {
		return nil, nil
	}
	var w model.Window
	var err error
	if from != "" {
		if w.From, err = model.ParseTime(from); err != nil {
			return nil, fmt.Errorf("--from: %w", err)
		}
	}
	if to != "" {
		if w.To, err = model.ParseTime(to); err != nil {
			return nil, fmt.Errorf("--to: %w", err)
		}
	}
	if from == "" || to == "" {
		if fill == nil {
			return nil, fmt.Errorf("--from and --to must be given together")
		}
		w = fill(w.From, w.To)
	}
	if w.To.Before(w.From) {
		return nil, fmt.Errorf("--to %s is before --from %s", model.FormatTime(w.To), model.FormatTime(w.From))
	}
	return &w, nil
}
