// Package mq はRabbitMQを使ったジョブキューのパブリッシャーとコンシューマーを提供します。
package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrMalformed はメッセージを再試行しても処理できない場合にハンドラーが返すエラーです。
// このエラーを返したメッセージは再キューされずに破棄されます。
var ErrMalformed = errors.New("mq: malformed message")

// Publisher はJSONメッセージをキューに送信します。
type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
	now   func() time.Time
}

// Dial はRabbitMQに接続し、永続キューを宣言したチャネルを返します。
func Dial(url, queue string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("amqp channel: %w", err)
	}
	// durable, autoDelete=false, exclusive=false, noWait=false
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("queue declare: %w", err)
	}
	return conn, ch, nil
}

// NewPublisher は queue 宛てのPublisherを生成します。
func NewPublisher(url, queue string) (*Publisher, error) {
	conn, ch, err := Dial(url, queue)
	if err != nil {
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, queue: queue, now: time.Now}, nil
}

// Close はチャネルと接続を閉じます。
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

// PublishJSON は body をJSONにしてデフォルトエクスチェンジ経由でキューに送信します。
func (p *Publisher) PublishJSON(ctx context.Context, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return p.ch.PublishWithContext(ctx,
		"",      // default exchange
		p.queue, // routing key = queue
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    p.now().UTC(),
			Body:         b,
		},
	)
}

// HandlerFunc は1メッセージを処理します。
type HandlerFunc func(ctx context.Context, body []byte) error

// Consumer はキューからメッセージを受け取りハンドラーに渡します。
type Consumer struct {
	ch       *amqp.Channel
	queue    string
	prefetch int
	timeout  time.Duration
}

// NewConsumer はチャネル上のConsumerを生成します。
func NewConsumer(ch *amqp.Channel, queue string, prefetch int, timeout time.Duration) *Consumer {
	return &Consumer{ch: ch, queue: queue, prefetch: prefetch, timeout: timeout}
}

// Run は ctx がキャンセルされるかチャネルが閉じられるまでメッセージを処理します。
func (c *Consumer) Run(ctx context.Context, handle HandlerFunc) error {
	if c.prefetch > 0 {
		if err := c.ch.Qos(c.prefetch, 0, false); err != nil {
			return fmt.Errorf("qos: %w", err)
		}
	}
	msgs, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	slog.Info("consumer listening", "queue", c.queue)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("mq: delivery channel closed")
			}
			Dispatch(ctx, msg, handle, c.timeout)
		}
	}
}

// Dispatch はメッセージを処理して結果に応じて ack/nack します。
//   - 成功: Ack
//   - ErrMalformed: 再キューせずNack
//   - それ以外のエラー: 再キューしてNack
func Dispatch(ctx context.Context, msg amqp.Delivery, handle HandlerFunc, timeout time.Duration) {
	hctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := handle(hctx, msg.Body)
	switch {
	case err == nil:
		if ackErr := msg.Ack(false); ackErr != nil {
			slog.Warn("ack failed", "error", ackErr)
		}
	case errors.Is(err, ErrMalformed):
		slog.Warn("dropping malformed message", "error", err)
		_ = msg.Nack(false, false)
	default:
		slog.Warn("message handling failed; requeueing", "error", err)
		_ = msg.Nack(false, true)
	}
}
