package main

import (
	"fmt"

	auth "github.com/goliatone/go-auth-flows"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-print"
	"github.com/urfave/cli/v2"
)

const cliRemoteIP = "cli"

func usersCmd(lgr *glog.BaseLogger, configPath *string) *cli.Command {
	var app *App
	return &cli.Command{
		Name:  "users",
		Usage: "Manage user accounts",
		Before: func(c *cli.Context) error {
			var err error
			app, err = newApp(c.Context, lgr, *configPath)
			return err
		},
		After: func(c *cli.Context) error {
			if app != nil {
				app.Close()
			}
			return nil
		},
		Subcommands: []*cli.Command{
			createUserCmd(&app),
			setPasswordCmd(&app),
			loginLinkCmd(&app),
		},
	}
}

func emailFlag(dst *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "email",
		Aliases:     []string{"e"},
		Usage:       "Account email",
		Destination: dst,
		Required:    true,
	}
}

func passwordFlag(dst *string, required bool) cli.Flag {
	return &cli.StringFlag{
		Name:        "password",
		Aliases:     []string{"p"},
		Usage:       "Account password",
		Destination: dst,
		Required:    required,
	}
}

func createUserCmd(app **App) *cli.Command {
	var email, password, username string
	return &cli.Command{
		Name:  "create",
		Usage: "Create a user",
		Flags: []cli.Flag{
			emailFlag(&email),
			passwordFlag(&password, false),
			&cli.StringFlag{
				Name:        "username",
				Aliases:     []string{"u"},
				Destination: &username,
			},
		},
		Action: func(c *cli.Context) error {
			user, err := (*app).flows.Signup(c.Context, auth.SignupMessage{
				Email:    email,
				Password: password,
				Username: username,
				RemoteIP: cliRemoteIP,
				Using:    auth.MethodSignup,
			})
			if err != nil {
				return err
			}
			fmt.Println(print.MaybePrettyJSON(user))
			return nil
		},
	}
}

func findUser(c *cli.Context, app *App, email string) (*auth.User, error) {
	user, err := app.flows.FindUser(c.Context, auth.IdentifierEmail, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, goerrors.New("no user with email "+email, goerrors.CategoryNotFound).
			WithCode(goerrors.CodeNotFound)
	}
	return user, nil
}

func setPasswordCmd(app **App) *cli.Command {
	var email, password string
	return &cli.Command{
		Name:  "set-password",
		Usage: "Set the password of a user",
		Flags: []cli.Flag{
			emailFlag(&email),
			passwordFlag(&password, true),
		},
		Action: func(c *cli.Context) error {
			user, err := findUser(c, *app, email)
			if err != nil {
				return err
			}

			if err := (*app).flows.ValidatePassword(password); err != nil {
				return err
			}

			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}

			if err := (*app).repo.Users().UpdatePassword(c.Context, user.ID, hash); err != nil {
				return err
			}

			(*app).GetLogger("users").Info("password updated", "user", user.GetID())
			return nil
		},
	}
}

func loginLinkCmd(app **App) *cli.Command {
	var email string
	return &cli.Command{
		Name:  "login-link",
		Usage: "Print a login link for a user",
		Flags: []cli.Flag{
			emailFlag(&email),
		},
		Action: func(c *cli.Context) error {
			user, err := findUser(c, *app, email)
			if err != nil {
				return err
			}

			link, err := (*app).flows.LoginLinkURL(user)
			if err != nil {
				return err
			}

			fmt.Println(link)
			return nil
		},
	}
}
