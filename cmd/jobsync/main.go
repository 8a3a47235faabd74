package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"

	"jobsync/internal/cli"
	"jobsync/internal/ui"
)

var (
	version = "dev"
	commit  = ""
	date    = ""
)

func main() {
	c := &cli.CLI{}
	applyEnvDefaults(c)
	versionString := buildVersion()

	parser, err := kong.New(c,
		kong.Name("jobsync"),
		kong.Description("Submit job postings and drive webhook sync passes."),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
		kong.Vars{"version": versionString},
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	kctx, err := parser.Parse(os.Args[1:])
	if err != nil {
		fallbackUI := ui.New(os.Stdout, os.Stderr, ui.NormalizeColorMode(os.Getenv("JOBSYNC_COLOR")), false)
		fallbackUI.Errorf("%v", err)
		os.Exit(1)
	}

	cfg, err := cli.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	configDir, err := cli.ConfigDir()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	userInterface := ui.New(os.Stdout, os.Stderr, ui.NormalizeColorMode(c.Color), c.JSON)

	level := zerolog.InfoLevel
	if c.Verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCtx := &cli.Context{
		Ctx:        sigCtx,
		In:         os.Stdin,
		Out:        os.Stdout,
		Err:        os.Stderr,
		UI:         userInterface,
		Config:     cfg,
		ConfigDir:  configDir,
		Logger:     logger,
		JSONOutput: c.JSON,
		Version:    versionString,
		Client:     c.NewClient(cfg),
	}

	if err := kctx.Run(runCtx); err != nil {
		userInterface.Errorf("%v", err)
		stop()
		os.Exit(1)
	}
}

func buildVersion() string {
	switch {
	case commit == "" && date == "":
		return version
	case commit == "":
		return fmt.Sprintf("%s (%s)", version, date)
	case date == "":
		return fmt.Sprintf("%s (%s)", version, commit)
	}
	return fmt.Sprintf("%s (%s, %s)", version, commit, date)
}

func applyEnvDefaults(c *cli.CLI) {
	if envBool("JOBSYNC_JSON") {
		c.JSON = true
	}
	if envBool("JOBSYNC_VERBOSE") {
		c.Verbose = true
	}
	if value := os.Getenv("JOBSYNC_COLOR"); value != "" {
		c.Color = value
	}
}

func envBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
