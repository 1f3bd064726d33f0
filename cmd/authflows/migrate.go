package main

import (
	"github.com/goliatone/go-logger/glog"
	"github.com/urfave/cli/v2"
)

func migrateCmd(lgr *glog.BaseLogger, configPath *string) *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create or update the users and password_reset tables",
		Action: func(c *cli.Context) error {
			app, err := newApp(c.Context, lgr, *configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			return app.migrate(c.Context)
		},
	}
}
