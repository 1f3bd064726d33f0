package main

import (
	"context"
	"io/fs"
	"os"

	auth "github.com/goliatone/go-auth-flows"
	"github.com/goliatone/go-auth-flows/activitymap"
	flowsgate "github.com/goliatone/go-auth-flows/adapters/featuregate"
	"github.com/goliatone/go-auth-flows/internal/config"
	"github.com/goliatone/go-auth-flows/internal/database"
	"github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

// App holds what the commands share
type App struct {
	config *config.Config
	db     *bun.DB
	repo   auth.RepositoryManager
	flows  *auth.Flows
	logger *glog.BaseLogger

	// migrate applies the embedded dialect migrations
	migrate func(ctx context.Context) error
}

func (a *App) GetLogger(name string) glog.Logger {
	return a.logger.GetLogger(name)
}

func (a *App) Close() {
	if a.db != nil {
		_ = a.db.Close()
	}
}

func newApp(ctx context.Context, lgr *glog.BaseLogger, configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app := &App{config: cfg, logger: lgr}

	if err := WithPersistence(ctx, app); err != nil {
		return nil, err
	}

	if err := WithFlows(app); err != nil {
		app.Close()
		return nil, err
	}

	return app, nil
}

func WithPersistence(ctx context.Context, app *App) error {
	settings := app.config.Database

	sqldb, dialect, err := database.OpenSQL(settings.GetDSN())
	if err != nil {
		return err
	}

	persistence.RegisterModel((*auth.User)(nil))
	persistence.RegisterModel((*auth.PasswordReset)(nil))

	client, err := persistence.New(settings, sqldb, dialect)
	if err != nil {
		_ = sqldb.Close()
		return err
	}

	client.SetLogger(app.GetLogger("persistence"))

	migrationsFS, err := fs.Sub(auth.GetMigrationsFS(), "data/sql/migrations")
	if err != nil {
		_ = sqldb.Close()
		return err
	}

	client.RegisterDialectMigrations(
		migrationsFS,
		persistence.WithDialectSourceLabel("data/sql/migrations"),
		persistence.WithValidationTargets("postgres", "sqlite"),
	)

	// the client installs its own query debug hook from settings.Debug
	db := client.DB()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	app.db = db
	app.repo = auth.NewRepositoryManager(db)
	app.migrate = func(ctx context.Context) error {
		if err := client.ValidateDialects(ctx); err != nil {
			return err
		}
		return client.Migrate(ctx)
	}
	return nil
}

func WithFlows(app *App) error {
	mailer, err := newMailer(app)
	if err != nil {
		return err
	}

	flows, err := auth.NewFlows(app.config.Auth, app.repo, mailer)
	if err != nil {
		return err
	}

	app.flows = flows.
		WithLogger(app.GetLogger("auth")).
		WithActivitySink(activitymap.LoggerSink(app.GetLogger("activity")))

	if len(app.config.Features) > 0 {
		app.flows.WithFeatureGate(flowsgate.NewGate(app.config.Features))
	}

	return nil
}

func newMailer(app *App) (auth.Mailer, error) {
	var sender auth.Sender = auth.LogSender{Logger: app.GetLogger("mail")}

	if app.config.Mail.Driver == "smtp" {
		smtp, err := auth.NewSMTPSender(app.config.Mail.SMTP)
		if err != nil {
			return nil, err
		}
		sender = smtp
	}

	var mailer *auth.TemplateMailer
	if dir := app.config.Mail.Templates; dir != "" {
		mailer = auth.NewTemplateMailer(sender, os.DirFS(dir))
	} else {
		mailer = auth.NewTemplateMailer(sender)
	}

	return mailer.
		WithLogger(app.GetLogger("mail")).
		WithGlobals(map[string]any{
			"base_url": app.config.Auth.BaseURL,
		}), nil
}
