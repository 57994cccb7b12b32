package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"readaloud/internal/cli/scheme/colours"
	"readaloud/internal/config"
	"readaloud/internal/narrator"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	args := os.Args[1:]

	config.SetDefaults()
	if err := config.Init(flagValue(args, "config")); err != nil {
		colours.Error.Printf("❌ Error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		colours.Error.Printf("❌ Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if level := flagValue(args, "log-level"); level != "" {
		cfg.Log.Level = level
	}
	log := newLogger(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := narrator.New(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to start")
	}
	app.StartCleanup()

	// Graceful shutdown: stop the engine and the speaker as soon as a signal
	// arrives; the running command then returns with a cancelled context.
	go func() {
		<-ctx.Done()
		app.Stop()
	}()
	go func() {
		if err := app.Profiles().Watch(ctx, nil); err != nil {
			log.WithError(err).Warn("Voice profiles will not hot-reload")
		}
	}()

	rootCmd := &cobra.Command{
		Use:   "readaloud",
		Short: "🔊 Read documents aloud",
		Long: `
┌─────────────────────────────────────┐
│  🔊 readaloud                        │
│  Documents in, speech out            │
└─────────────────────────────────────┘

readaloud extracts the text of txt, md, pdf, docx and epub files and reads it
aloud with local or cloud speech engines, or saves it as mp3, wav or ogg.
		`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Config file (default $HOME/.readaloud/readaloud.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.AddCommand(app.Commands(ctx)...)

	err = rootCmd.Execute()
	if ctx.Err() != nil {
		fmt.Println("\n" + colours.Warning.Sprint("👋 Stopped"))
	}
	if cerr := app.Close(); cerr != nil {
		log.WithError(cerr).Warn("Failed to close audio cache")
	}
	if err != nil {
		colours.Error.Printf("❌ Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		log.WithField("level", level).Warn("Unknown log level, using info")
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}

// flagValue reads a persistent flag before cobra parses the command line;
// config has to be loaded before the command tree can be built.
func flagValue(args []string, name string) string {
	long := "--" + name
	for i, arg := range args {
		if arg == "--" {
			break
		}
		if arg == long && i+1 < len(args) {
			return args[i+1]
		}
		if v, ok := strings.CutPrefix(arg, long+"="); ok {
			return v
		}
	}
	return ""
}
