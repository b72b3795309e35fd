// ClaimGuard - Real-time fraud scoring for benefit claims.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/claimguard/internal/config"
	"github.com/opensource-finance/claimguard/internal/domain"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

type app struct {
	configPath string
	stdin      io.Reader
	stdout     io.Writer
	stderr     io.Writer
}

func main() {
	root := newRootCommand(os.Stdin, os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{stdin: in, stdout: out, stderr: errOut}

	cmd := &cobra.Command{
		Use:           "claimguard",
		Short:         "Real-time fraud scoring for benefit claims",
		Long:          "claimguard scores benefit claims against per-beneficiary history with an isolation forest and explainable fraud reasons.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetVersionTemplate(fmt.Sprintf("claimguard {{.Version}} (commit %s, built %s)\n", Commit, BuildDate))

	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to a claimguard.yaml config file")

	cmd.AddCommand(
		newServeCmd(a),
		newTrainCmd(a),
		newScoreCmd(a),
		newReplayCmd(a),
		newSubmitCmd(a),
	)
	return cmd
}

// loadConfig reads configuration and installs the process logger.
func (a *app) loadConfig() (*domain.Config, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(newLogger(a.stderr, cfg.Logging))
	return cfg, nil
}

func newLogger(w io.Writer, cfg domain.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
