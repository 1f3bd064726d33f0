package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/urfave/cli/v2"
)

func main() {
	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithName("app"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)

	var configPath string

	app := &cli.App{
		Name:  "authflows",
		Usage: "Account pages, login links and user management",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "YAML configuration file",
				Value:       "config.yaml",
				EnvVars:     []string{"AUTH_CONFIG"},
				Destination: &configPath,
			},
		},
		Commands: []*cli.Command{
			serveCmd(lgr, &configPath),
			migrateCmd(lgr, &configPath),
			usersCmd(lgr, &configPath),
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.RunContext(ctx, os.Args); err != nil {
		lgr.GetLogger("app").Error("command failed", "error", err)
		os.Exit(1)
	}
}
