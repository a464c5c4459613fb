package main

import (
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "hub-server",
	Short: "Run a dummy chat over a go_hub_i_guess hub",
	Long: "Serve a chat page and a WebSocket hub where clients may message each other, " +
		"join groups and broadcast to everyone.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return startServer(cmd)
	},
}

func init() {
	bindFlags(rootCmd)
}

// startServer and configure its signal handler.
func startServer(cmd *cobra.Command) error {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	args, err := parseArgs(cmd, logger)
	if err != nil {
		return err
	}
	if args.Debug {
		level.Set(slog.LevelDebug)
	}

	intHndlr := make(chan os.Signal, 1)
	signal.Notify(intHndlr, os.Interrupt)

	closer, err := runWeb(args, logger)
	if err != nil {
		return err
	}

	<-intHndlr
	logger.Info("Exiting...")
	return closer.Close()
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Application panicked!", "panic", r)
			os.Exit(1)
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
