package auth

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"strings"
	"sync"

	"github.com/flosch/pongo2/v6"
	cfs "github.com/goliatone/go-composite-fs"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	mail "github.com/wneessen/go-mail"
)

//go:embed emails
var emailsFS embed.FS

// EmailsFS returns the built in email templates rooted at emails/
func EmailsFS() fs.FS {
	sub, err := fs.Sub(emailsFS, "emails")
	if err != nil {
		panic(err)
	}
	return sub
}

// Message is a rendered email
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// TemplateMailer renders <name>.subject.txt, <name>.txt and <name>.html
// with pongo2 and hands the result to a Sender. Templates in overrides
// take precedence over the built in ones.
type TemplateMailer struct {
	sender   Sender
	fs       fs.FS
	globals  map[string]any
	logger   Logger
	mu       sync.RWMutex
	compiled map[string]*pongo2.Template
}

var _ Mailer = (*TemplateMailer)(nil)

func NewTemplateMailer(sender Sender, overrides ...fs.FS) *TemplateMailer {
	layers := append([]fs.FS{}, overrides...)
	layers = append(layers, EmailsFS())

	return &TemplateMailer{
		sender:   sender,
		fs:       cfs.NewCompositeFS(layers...),
		globals:  map[string]any{},
		logger:   defLogger{},
		compiled: map[string]*pongo2.Template{},
	}
}

// WithGlobals adds values available to every template, e.g. site_name
func (m *TemplateMailer) WithGlobals(globals map[string]any) *TemplateMailer {
	for k, v := range globals {
		m.globals[k] = v
	}
	return m
}

func (m *TemplateMailer) WithLogger(logger Logger) *TemplateMailer {
	if logger != nil {
		m.logger = logger
	}
	return m
}

// SendTemplate renders name for data and sends it to to
func (m *TemplateMailer) SendTemplate(ctx context.Context, name, to string, data map[string]any) error {
	msg, err := m.Render(name, to, data)
	if err != nil {
		return err
	}
	m.logger.Debug("sending email", "template", name, "to", to)
	if err := m.sender.Send(ctx, msg); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to send email").
			WithMetadata(map[string]any{"template": name})
	}
	return nil
}

// Render builds the message without sending it. The text body is
// required, subject and html are optional.
func (m *TemplateMailer) Render(name, to string, data map[string]any) (*Message, error) {
	pctx := pongo2.Context{}
	for k, v := range m.globals {
		pctx[k] = v
	}
	for k, v := range data {
		pctx[k] = v
	}
	pctx["to"] = to

	msg := &Message{To: to}

	text, err := m.execute(name+".txt", pctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to render email").
			WithMetadata(map[string]any{"template": name})
	}
	msg.Text = text

	if subject, err := m.execute(name+".subject.txt", pctx); err == nil {
		msg.Subject = strings.TrimSpace(subject)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to render email subject")
	}

	if html, err := m.execute(name+".html", pctx); err == nil {
		msg.HTML = html
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to render email html")
	}

	return msg, nil
}

func (m *TemplateMailer) execute(file string, pctx pongo2.Context) (string, error) {
	tpl, err := m.template(file)
	if err != nil {
		return "", err
	}
	return tpl.Execute(pctx)
}

func (m *TemplateMailer) template(file string) (*pongo2.Template, error) {
	m.mu.RLock()
	tpl, ok := m.compiled[file]
	m.mu.RUnlock()
	if ok {
		return tpl, nil
	}

	src, err := fs.ReadFile(m.fs, file)
	if err != nil {
		return nil, err
	}

	tpl, err = pongo2.FromString(string(src))
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.compiled[file] = tpl
	m.mu.Unlock()

	return tpl, nil
}

// LogSender prints messages instead of sending them, for development
type LogSender struct {
	Logger Logger
}

func (s LogSender) Send(_ context.Context, msg *Message) error {
	logger := s.Logger
	if logger == nil {
		logger = defLogger{}
	}
	logger.Info("email", "to", msg.To, "subject", msg.Subject, "body", print.MaybePrettyJSON(map[string]string{
		"text": msg.Text,
	}))
	return nil
}

// SMTPConfig holds SMTP connection settings
type SMTPConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
	// TLS is one of mandatory, opportunistic or none
	TLS string `koanf:"tls"`
}

// SMTPSender delivers messages over SMTP
type SMTPSender struct {
	cfg    SMTPConfig
	client *mail.Client
}

func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, goerrors.New("smtp host is required", goerrors.CategoryValidation)
	}
	if cfg.From == "" {
		return nil, goerrors.New("smtp from address is required", goerrors.CategoryValidation)
	}

	opts := []mail.Option{
		mail.WithTLSPolicy(tlsPolicy(cfg.TLS)),
	}
	if cfg.Port > 0 {
		opts = append(opts, mail.WithPort(cfg.Port))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create smtp client")
	}

	return &SMTPSender{cfg: cfg, client: client}, nil
}

func (s *SMTPSender) Send(ctx context.Context, msg *Message) error {
	m := mail.NewMsg()
	if err := m.From(s.cfg.From); err != nil {
		return err
	}
	if err := m.To(msg.To); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid recipient")
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Text)
	if msg.HTML != "" {
		m.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	}
	return s.client.DialAndSendWithContext(ctx, m)
}

func tlsPolicy(name string) mail.TLSPolicy {
	switch strings.ToLower(name) {
	case "none":
		return mail.NoTLS
	case "opportunistic":
		return mail.TLSOpportunistic
	default:
		return mail.TLSMandatory
	}
}
