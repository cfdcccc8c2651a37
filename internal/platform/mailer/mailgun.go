// Package mailer はMailgun経由のメール送信を提供します。
package mailer

import (
	"context"
	"errors"
	"fmt"
	"time"

	mg "github.com/mailgun/mailgun-go/v4"
)

// ErrNoRecipients は宛先が空の場合に返されます。
var ErrNoRecipients = errors.New("mailer: no recipients")

const sendTimeout = 10 * time.Second

// Mailgun はMailgunクライアントと送信元をまとめたものです。
type Mailgun struct {
	client mg.Mailgun
	sender string
}

// NewMailgun はMailgunの新しいインスタンスを生成します。
func NewMailgun(domain, apiKey, sender string) *Mailgun {
	return &Mailgun{client: mg.NewMailgun(domain, apiKey), sender: sender}
}

// SetAPIBase はAPIのベースURLを差し替えます（EUリージョンやテスト用）。
func (m *Mailgun) SetAPIBase(base string) {
	m.client.SetAPIBase(base)
}

// Send はメールを送信します。html が空でなければHTML本文も付けます。
func (m *Mailgun) Send(ctx context.Context, to []string, subject, text, html string) error {
	if len(to) == 0 {
		return ErrNoRecipients
	}
	msg := m.client.NewMessage(m.sender, subject, text, to...)
	if html != "" {
		msg.SetHtml(html)
	}

	c, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if _, _, err := m.client.Send(c, msg); err != nil {
		return fmt.Errorf("mailgun send: %w", err)
	}
	return nil
}
