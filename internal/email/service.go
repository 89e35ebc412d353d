package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"github.com/redmonkez12/go-keystore-auth/internal/logging"
	"github.com/redmonkez12/go-keystore-auth/templates"
)

const (
	templateVerification    = "verification"
	templatePasswordReset   = "password_reset"
	templatePasswordChanged = "password_changed"
)

// Mailer delivers a rendered HTML message.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

type Service struct {
	mailer      Mailer
	frontendURL string
	appName     string
	templates   map[string]*template.Template
	now         func() time.Time
}

func NewService(mailer Mailer, frontendURL, appName string) (*Service, error) {
	tmpls := make(map[string]*template.Template)
	for _, name := range []string{templateVerification, templatePasswordReset, templatePasswordChanged} {
		t, err := template.ParseFS(templates.EmailFS, "email/layout.html", "email/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		tmpls[name] = t
	}

	if appName == "" {
		appName = "Keystore Auth"
	}

	return &Service{
		mailer:      mailer,
		frontendURL: frontendURL,
		appName:     appName,
		templates:   tmpls,
		now:         time.Now,
	}, nil
}

type templateData struct {
	Link      string
	ExpiresIn string
	AppName   string
	Year      int
}

// SendVerificationEmail sends an email verification link to the user
// This method is designed to be called in a goroutine
func (s *Service) SendVerificationEmail(ctx context.Context, toEmail, token string) error {
	link := fmt.Sprintf("%s/verify?token=%s", s.frontendURL, template.URLQueryEscaper(token))
	return s.send(ctx, toEmail, "Verify your email address", templateVerification, link, "24 hours")
}

// SendPasswordResetEmail sends a password reset link to the user
// This method is designed to be called in a goroutine
func (s *Service) SendPasswordResetEmail(ctx context.Context, toEmail, token string) error {
	link := fmt.Sprintf("%s/reset-password?token=%s", s.frontendURL, template.URLQueryEscaper(token))
	return s.send(ctx, toEmail, "Reset your password", templatePasswordReset, link, "1 hour")
}

// SendPasswordChangedEmail tells the user that their password changed and
// sessions were revoked
func (s *Service) SendPasswordChangedEmail(ctx context.Context, toEmail string) error {
	return s.send(ctx, toEmail, "Your password was changed", templatePasswordChanged, "", "")
}

func (s *Service) send(ctx context.Context, to, subject, name, link, expiresIn string) error {
	logger := logging.GetLoggerFromContext(ctx)

	body, err := s.render(name, templateData{
		Link:      link,
		ExpiresIn: expiresIn,
		AppName:   s.appName,
		Year:      s.now().Year(),
	})
	if err != nil {
		logger.Error("failed to render email template", "template", name, "error", err)
		return fmt.Errorf("render template: %w", err)
	}

	if err := s.mailer.Send(ctx, to, subject, body); err != nil {
		logger.Error("failed to send email", "template", name, "email", to, "error", err)
		return fmt.Errorf("send email: %w", err)
	}

	logger.Info("email sent", "template", name, "email", to)
	return nil
}

func (s *Service) render(name string, data templateData) (string, error) {
	t, ok := s.templates[name]
	if !ok {
		return "", fmt.Errorf("unknown template %q", name)
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return buf.String(), nil
}
