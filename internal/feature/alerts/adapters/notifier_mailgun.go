package adapters

import (
	"context"
	"fmt"

	"ai_memory/internal/feature/alerts/domain/entity"
	"ai_memory/internal/feature/alerts/usecase"
)

// MailSender はメールを送信します。platform/mailer.Mailgun が満たします。
type MailSender interface {
	Send(ctx context.Context, to []string, subject, text, html string) error
}

// EmailNotifier はアラートをメールで通知します。
type EmailNotifier struct {
	sender MailSender
	to     []string
}

var _ usecase.Notifier = (*EmailNotifier)(nil)

// NewEmailNotifier は新しいEmailNotifierを生成します。
func NewEmailNotifier(sender MailSender, to []string) *EmailNotifier {
	return &EmailNotifier{sender: sender, to: to}
}

func (n *EmailNotifier) Name() string { return "email" }

func (n *EmailNotifier) Notify(ctx context.Context, a entity.Alert) error {
	subject := fmt.Sprintf("[%s alert] %s", a.Level, a.Rule)
	return n.sender.Send(ctx, n.to, subject, formatMarkdown(a), "")
}
