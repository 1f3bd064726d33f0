package main

import (
	"context"
	"crypto/sha256"
	"embed"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/template/django/v3"
	auth "github.com/goliatone/go-auth-flows"
	"github.com/goliatone/go-auth-flows/internal/config"
	"github.com/goliatone/go-auth-flows/middleware/csrf"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-router"
	mflash "github.com/goliatone/go-router/middleware/flash"
	"github.com/urfave/cli/v2"
)

//go:embed views
var appViews embed.FS

func serveCmd(lgr *glog.BaseLogger, configPath *string) *cli.Command {
	var migrate bool
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the account pages",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "migrate",
				Usage:       "Apply pending migrations before serving",
				Destination: &migrate,
			},
		},
		Action: func(c *cli.Context) error {
			app, err := newApp(c.Context, lgr, *configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			if migrate {
				if err := app.migrate(c.Context); err != nil {
					return err
				}
			}

			srv, err := WithHTTPServer(app)
			if err != nil {
				return err
			}

			errc := make(chan error, 1)
			go func() {
				errc <- srv.Serve(app.config.Server.Address)
			}()

			app.GetLogger("http").Info("listening", "address", app.config.Server.Address)

			select {
			case err := <-errc:
				return err
			case <-c.Context.Done():
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	}
}

func templatesFS(app *App) (fs.FS, error) {
	local, err := fs.Sub(appViews, "views")
	if err != nil {
		return nil, err
	}

	overrides := []fs.FS{}
	if dir := app.config.Server.Views; dir != "" {
		overrides = append(overrides, os.DirFS(dir))
	}
	overrides = append(overrides, local)

	return auth.ViewsFS(overrides...), nil
}

// fiberConfig only sets a proxy header when trusted proxies are listed, so
// c.IP() never reads a client supplied header otherwise
func fiberConfig(server config.Server, views fiber.Views) fiber.Config {
	cfg := fiber.Config{
		UnescapePath:      true,
		StrictRouting:     false,
		PassLocalsToViews: true,
		Views:             views,
	}

	if len(server.TrustedProxies) > 0 {
		cfg.EnableTrustedProxyCheck = true
		cfg.TrustedProxies = server.TrustedProxies
		cfg.ProxyHeader = server.ProxyHeader
		if cfg.ProxyHeader == "" {
			cfg.ProxyHeader = fiber.HeaderXForwardedFor
		}
	}

	return cfg
}

func WithHTTPServer(app *App) (router.Server[*fiber.App], error) {
	views, err := templatesFS(app)
	if err != nil {
		return nil, err
	}

	engine := django.NewFileSystem(http.FS(views), ".html")
	engine.Reload(app.config.Server.Debug)
	engine.AddFuncMap(auth.TemplateHelpers())

	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiberConfig(app.config.Server, engine)))
	})

	srv.Router().WithLogger(app.GetLogger("router"))

	cfg := app.flows.Config()
	key := sha256.Sum256([]byte(cfg.SigningKey))

	srv.Router().Use(mflash.New(mflash.ConfigDefault))
	srv.Router().Use(csrf.New(csrf.Config{
		SecureKey:     key[:],
		SessionCookie: cfg.SessionCookieName,
	}))
	srv.Router().Use(auth.LoadUser(app.flows))

	opts := []auth.AuthControllerOption{
		auth.WithControllerLogger(app.GetLogger("auth")),
		auth.WithDebug(app.config.Server.Debug),
	}
	if app.config.Captcha.Enabled() {
		opts = append(opts, auth.WithCaptcha(auth.NewSiteVerifyCaptcha(app.config.Captcha)))
	}

	controller := auth.RegisterAuthRoutes(srv.Router(), app.flows, opts...)

	protected := auth.LoginRequired(cfg, controller.Routes)

	srv.Router().Get("/", func(ctx router.Context) error {
		return renderWithGlobals(ctx, "home", router.ViewContext{
			"auth_routes": controller.Routes,
		})
	}, protected).SetName("home")

	return srv, nil
}

func renderWithGlobals(ctx router.Context, name string, data router.ViewContext) error {
	return ctx.Render(name, auth.MergeTemplateData(ctx, data))
}
