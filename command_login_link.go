package auth

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// LoginCodeLength is the number of digits in an emailed login code
const LoginCodeLength = 6

type SendLoginLinkMessage struct {
	User       *User
	RemoteIP   string
	OnResponse func(resp *SendLoginLinkResponse)
}

func (m SendLoginLinkMessage) Type() string { return "user.login_link" }

type SendLoginLinkResponse struct {
	Code string
	Link string
}

// SendLoginLinkHandler emails a one time code together with a signed
// login link. The code is returned so the caller can bind it to the
// browser that asked for it.
type SendLoginLinkHandler struct {
	cfg      Config
	tokens   *TokenService
	links    Links
	mailer   Mailer
	activity ActivitySink
	logger   Logger
}

func NewSendLoginLinkHandler(cfg Config, tokens *TokenService, links Links, mailer Mailer) *SendLoginLinkHandler {
	return &SendLoginLinkHandler{
		cfg:      cfg.WithDefaults(),
		tokens:   tokens,
		links:    links,
		mailer:   mailer,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

func (h *SendLoginLinkHandler) WithActivitySink(sink ActivitySink) *SendLoginLinkHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

func (h *SendLoginLinkHandler) WithLogger(logger Logger) *SendLoginLinkHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *SendLoginLinkHandler) Execute(ctx context.Context, event SendLoginLinkMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during login link delivery",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *SendLoginLinkHandler) execute(ctx context.Context, event SendLoginLinkMessage) error {
	if event.User == nil || event.User.GetID() == "" {
		return goerrors.New("login link requires a user", goerrors.CategoryBadInput)
	}

	code, err := GenerateLoginCode(LoginCodeLength)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate login code")
	}

	token, err := h.tokens.CreateToken(event.User.GetID(), PurposeLoginLink)
	if err != nil {
		return err
	}

	resp := &SendLoginLinkResponse{
		Code: code,
		Link: h.links.LoginLinkURL(token),
	}

	if h.mailer == nil {
		return goerrors.New("no mailer configured for login links", goerrors.CategoryInternal)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*30)
	defer cancel()

	if err := h.mailer.SendTemplate(ctx, h.cfg.LoginLinkEmailTemplate, event.User.Email, map[string]any{
		"user":       event.User,
		"code":       resp.Code,
		"login_url":  resp.Link,
		"expires_in": humanDuration(h.cfg.TokenMaxAge),
	}); err != nil {
		return err
	}

	evt := ActivityEvent{
		EventType:  ActivityEventLoginLinkSent,
		UserID:     event.User.GetID(),
		Using:      MethodLoginLink,
		RemoteIP:   event.RemoteIP,
		OccurredAt: time.Now(),
	}
	if err := normalizeActivitySink(h.activity).Record(ctx, evt); err != nil {
		h.logger.Warn("activity sink error during login link", "error", err)
	}

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

// GenerateLoginCode returns n random decimal digits
func GenerateLoginCode(n int) (string, error) {
	if n <= 0 {
		n = LoginCodeLength
	}
	out := make([]byte, n)
	ten := big.NewInt(10)
	for i := range out {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		out[i] = byte('0' + d.Int64())
	}
	return string(out), nil
}
