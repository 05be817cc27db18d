package email

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/driftmail/driftmail/internal/confirm"
)

// originPicker supplies the domain names usable as a confirmation-link
// origin. *domains.Allowlist satisfies it. The choice is cosmetic — the link
// origin never authorizes anything — so bounded staleness is fine.
type originPicker interface {
	Names(ctx context.Context) ([]string, error)
}

// Mailer renders confirmation secrets into mail and hands them to a Sender.
// It implements confirm.Sink.
type Mailer struct {
	sender         Sender
	origins        originPicker
	fallbackOrigin string // used when no active domain is configured
	logger         *zap.Logger
}

// NewMailer creates a Mailer. fallbackOrigin is the scheme+host used for
// confirmation links when the domain list is empty, e.g. "https://driftmail.example".
func NewMailer(sender Sender, origins originPicker, fallbackOrigin string, logger *zap.Logger) *Mailer {
	return &Mailer{sender: sender, origins: origins, fallbackOrigin: fallbackOrigin, logger: logger}
}

// Deliver renders and sends the confirmation mail for one issued secret.
func (m *Mailer) Deliver(ctx context.Context, subject string, intent confirm.Intent, secret string, expiresAt time.Time) error {
	link := m.confirmLink(ctx, secret)
	mailSubject, body := render(intent, secret, link, expiresAt)

	if err := m.sender.Send(ctx, subject, mailSubject, body); err != nil {
		return fmt.Errorf("send confirmation mail: %w", err)
	}
	m.logger.Debug("confirmation mail sent",
		zap.String("to", subject),
		zap.String("intent", string(intent)),
	)
	return nil
}

func (m *Mailer) confirmLink(ctx context.Context, secret string) string {
	origin := m.fallbackOrigin
	names, err := m.origins.Names(ctx)
	if err == nil && len(names) > 0 {
		origin = "https://" + names[0]
	}
	return origin + "/api/v1/confirm/" + secret
}

func render(intent confirm.Intent, secret, link string, expiresAt time.Time) (subject, body string) {
	var what string
	switch intent {
	case confirm.IntentCreateAlias, confirm.IntentCreateAliasAddress:
		what = "create a forwarding alias"
	case confirm.IntentDeleteAlias:
		what = "remove a forwarding alias"
	case confirm.IntentIssueCredential:
		what = "issue an API key"
	default:
		what = "complete a request"
	}

	subject = "Confirm your Driftmail request"
	body = fmt.Sprintf(
		"Hello,\n\nSomeone asked Driftmail to %s for this address.\n\nYour confirmation code:\n\n  %s\n\nOr confirm in one click:\n\n  %s\n\nThe code expires at %s. If you did not make this request, ignore this email and nothing will change.\n",
		what, secret, link, expiresAt.UTC().Format(time.RFC1123),
	)
	return subject, body
}
