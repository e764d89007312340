package events

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/meridian-commerce/orchestrator/backoff"
	"github.com/meridian-commerce/orchestrator/log"
)

var (
	// ErrNilBroker is returned when a method is called on a nil AMQPBroker.
	ErrNilBroker = errors.New("amqp broker is nil")

	// ErrBrokerClosed is returned after Close has been called.
	ErrBrokerClosed = errors.New("amqp broker is closed")
)

// reconnectBackoffCap bounds the delay between reconnect attempts so a broker
// outage cannot push retries out indefinitely.
const reconnectBackoffCap = 30 * time.Second

// AMQPBroker dispatches events over RabbitMQ. Fan-out destinations map to
// fanout exchanges; queue destinations publish to durable queues via the
// default exchange. Connections are re-established lazily with rate-limited
// exponential backoff to avoid reconnect storms while the broker is down.
type AMQPBroker struct {
	mu       sync.Mutex
	url      string
	conn     *amqp.Connection
	channel  *amqp.Channel
	declared map[string]struct{}
	logger   log.Logger
	closed   bool

	dialer func(string) (*amqp.Connection, error)

	lastReconnectAttempt time.Time
	reconnectAttempts    int
}

// NewAMQPBroker creates a broker for the given AMQP URL. The connection is
// established on first publish.
func NewAMQPBroker(amqpURL string, logger log.Logger) (*AMQPBroker, error) {
	if strings.TrimSpace(amqpURL) == "" {
		return nil, errors.New("amqp url is empty")
	}

	if logger == nil {
		logger = log.NewNop()
	}

	return &AMQPBroker{
		url:      amqpURL,
		declared: make(map[string]struct{}),
		logger:   logger,
		dialer:   amqp.Dial,
	}, nil
}

// PublishFanout publishes body to a fanout exchange named topic.
func (br *AMQPBroker) PublishFanout(ctx context.Context, topic string, body []byte) error {
	if br == nil {
		return ErrNilBroker
	}

	return br.publish(ctx, topic, "", body, func(ch *amqp.Channel) error {
		return ch.ExchangeDeclare(topic, amqp.ExchangeFanout, true, false, false, false, nil)
	})
}

// PublishQueue enqueues body on the durable queue named queue.
func (br *AMQPBroker) PublishQueue(ctx context.Context, queue string, body []byte) error {
	if br == nil {
		return ErrNilBroker
	}

	return br.publish(ctx, "", queue, body, func(ch *amqp.Channel) error {
		_, err := ch.QueueDeclare(queue, true, false, false, false, nil)
		return err
	})
}

func (br *AMQPBroker) publish(ctx context.Context, exchange, routingKey string, body []byte, declare func(*amqp.Channel) error) error {
	br.mu.Lock()
	defer br.mu.Unlock()

	if br.closed {
		return ErrBrokerClosed
	}

	if err := br.ensureChannelLocked(ctx); err != nil {
		return err
	}

	declareKey := exchange + "|" + routingKey
	if _, ok := br.declared[declareKey]; !ok {
		if err := declare(br.channel); err != nil {
			// A failed declare poisons the channel; drop it so the next
			// publish reconnects.
			br.dropChannelLocked()

			return fmt.Errorf("declare %q: %w", declareKey, br.sanitize(err))
		}

		br.declared[declareKey] = struct{}{}
	}

	err := br.channel.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		br.dropChannelLocked()

		return fmt.Errorf("amqp publish: %w", br.sanitize(err))
	}

	return nil
}

// ensureChannelLocked opens the connection and channel if needed. Reconnect
// attempts after a failure are rate-limited with exponential backoff.
func (br *AMQPBroker) ensureChannelLocked(ctx context.Context) error {
	if br.channel != nil && !br.channel.IsClosed() {
		return nil
	}

	if br.reconnectAttempts > 0 {
		delay := backoff.ExponentialWithJitter(500*time.Millisecond, br.reconnectAttempts)
		if delay > reconnectBackoffCap {
			delay = reconnectBackoffCap
		}

		if elapsed := time.Since(br.lastReconnectAttempt); elapsed < delay {
			return fmt.Errorf("amqp reconnect rate-limited (next attempt in %s)", delay-elapsed)
		}
	}

	br.lastReconnectAttempt = time.Now()

	if br.conn == nil || br.conn.IsClosed() {
		conn, err := br.dialer(br.url)
		if err != nil {
			br.reconnectAttempts++

			br.logger.Log(ctx, log.LevelError, "amqp connect failed",
				log.Int("attempt", br.reconnectAttempts),
				log.Err(br.sanitize(err)))

			return fmt.Errorf("amqp connect: %w", br.sanitize(err))
		}

		br.conn = conn
	}

	channel, err := br.conn.Channel()
	if err != nil {
		br.reconnectAttempts++

		return fmt.Errorf("amqp open channel: %w", br.sanitize(err))
	}

	br.channel = channel
	br.declared = make(map[string]struct{})
	br.reconnectAttempts = 0

	br.logger.Log(ctx, log.LevelInfo, "amqp channel ready")

	return nil
}

func (br *AMQPBroker) dropChannelLocked() {
	if br.channel != nil {
		_ = br.channel.Close()
		br.channel = nil
	}

	br.declared = make(map[string]struct{})
}

// Close closes the channel and connection. The broker cannot be reused.
func (br *AMQPBroker) Close(_ context.Context) error {
	if br == nil {
		return ErrNilBroker
	}

	br.mu.Lock()
	defer br.mu.Unlock()

	if br.closed {
		return nil
	}

	br.closed = true

	var closeErr error

	if br.channel != nil {
		if err := br.channel.Close(); err != nil {
			closeErr = fmt.Errorf("close amqp channel: %w", err)
		}

		br.channel = nil
	}

	if br.conn != nil {
		if err := br.conn.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close amqp connection: %w", err))
		}

		br.conn = nil
	}

	return closeErr
}

// sanitize redacts credentials from error messages that echo the connection
// string.
func (br *AMQPBroker) sanitize(err error) error {
	if err == nil {
		return nil
	}

	parsed, parseErr := url.Parse(br.url)
	if parseErr != nil || parsed.User == nil {
		return err
	}

	msg := err.Error()
	if strings.Contains(msg, br.url) {
		msg = strings.ReplaceAll(msg, br.url, parsed.Redacted())
	}

	if pass, ok := parsed.User.Password(); ok && pass != "" {
		msg = strings.ReplaceAll(msg, pass, "xxxxx")
	}

	return errors.New(msg)
}
