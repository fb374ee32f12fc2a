package mq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"career-docgen/pkg/job"
)

// Client wraps the RabbitMQ connection and the docgen topology. Delivery is
// at-least-once: consumers ack manually, failed messages flow to the retry
// exchange or the dead-letter queue.
type Client struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

const (
	JobsExchange    = "docgen.exchange"
	DLXExchange     = "docgen.dlx"
	RetryExchange   = "docgen.retry.exchange"
	DeadLetterQueue = "docgen.dead_letter.queue"

	// AttemptHeader carries the delivery attempt count through the retry
	// ladder. Observability attributes only; the job row stays authoritative.
	AttemptHeader   = "x-attempt"
	RequesterHeader = "x-requester-id"
)

// RetryDelays is the backoff ladder. A message that fails attempt N is
// parked in the TTL queue for RetryDelays[min(N-1, len-1)] before being
// routed back to the main exchange.
var RetryDelays = []time.Duration{5 * time.Second, 30 * time.Second, 5 * time.Minute}

func New(rabbitURL string) (*Client, error) {
	conn, err := amqp.Dial(rabbitURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	return &Client{conn: conn, ch: ch}, nil
}

// SetupTopology declares all necessary exchanges and queues. Idempotent.
func (c *Client) SetupTopology() error {
	if err := c.ch.ExchangeDeclare(JobsExchange, "direct", true, false, false, false, nil); err != nil {
		return err
	}
	if err := c.ch.ExchangeDeclare(DLXExchange, "fanout", true, false, false, false, nil); err != nil {
		return err
	}
	if err := c.ch.ExchangeDeclare(RetryExchange, "direct", true, false, false, false, nil); err != nil {
		return err
	}

	_, err := c.ch.QueueDeclare(DeadLetterQueue, true, false, false, false, nil)
	if err != nil {
		return err
	}
	if err := c.ch.QueueBind(DeadLetterQueue, "", DLXExchange, false, nil); err != nil {
		return err
	}

	// One queue per document kind for isolation.
	for _, kind := range job.Kinds {
		queueName := queueName(kind)
		_, err := c.ch.QueueDeclare(queueName, true, false, false, false, amqp.Table{
			"x-dead-letter-exchange": DLXExchange,
		})
		if err != nil {
			return err
		}
		if err := c.ch.QueueBind(queueName, string(kind), JobsExchange, false, nil); err != nil {
			return err
		}
	}

	// Retry queues with TTL, one per kind and delay. The dead-letter routing
	// key is a queue argument, so the per-kind split is what routes a parked
	// message back to its own kind queue when the TTL expires.
	for _, kind := range job.Kinds {
		for _, delay := range RetryDelays {
			queueName := fmt.Sprintf("docgen.retry.queue.%s.%ds", kind, int(delay.Seconds()))
			_, err := c.ch.QueueDeclare(queueName, true, false, false, false, amqp.Table{
				"x-dead-letter-exchange":    JobsExchange,
				"x-dead-letter-routing-key": string(kind),
				"x-message-ttl":             delay.Milliseconds(),
			})
			if err != nil {
				return err
			}
			if err := c.ch.QueueBind(queueName, retryRoutingKey(kind, delay), RetryExchange, false, nil); err != nil {
				return err
			}
		}
	}

	return nil
}

func queueName(kind job.Kind) string {
	return fmt.Sprintf("docgen.queue.%s", kind)
}

func retryRoutingKey(kind job.Kind, delay time.Duration) string {
	return fmt.Sprintf("retry.%s.%ds", kind, int(delay.Seconds()))
}

// PublishJob enqueues work for a freshly created job. The body is the job id
// only; the worker re-reads authoritative state from the job store.
func (c *Client) PublishJob(ctx context.Context, j *job.Job) error {
	return c.ch.PublishWithContext(ctx,
		JobsExchange,
		string(j.Kind),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "text/plain",
			DeliveryMode: amqp.Persistent,
			Body:         []byte(j.ID),
			Headers: amqp.Table{
				AttemptHeader:   int32(1),
				RequesterHeader: j.RequesterID,
			},
		})
}

// PublishToRetry parks a message in the TTL queue for the given attempt's
// backoff delay. The broker redelivers it to the kind queue afterwards.
func (c *Client) PublishToRetry(ctx context.Context, kind job.Kind, jobID string, attempt int) error {
	delay := RetryDelays[len(RetryDelays)-1]
	if attempt-1 < len(RetryDelays) {
		delay = RetryDelays[attempt-1]
	}
	return c.ch.PublishWithContext(ctx,
		RetryExchange,
		retryRoutingKey(kind, delay),
		false,
		false,
		amqp.Publishing{
			ContentType:  "text/plain",
			DeliveryMode: amqp.Persistent,
			Body:         []byte(jobID),
			Headers: amqp.Table{
				AttemptHeader: int32(attempt + 1),
			},
		})
}

func (c *Client) ConsumeJobs(kind job.Kind) (<-chan amqp.Delivery, error) {
	return c.ch.Consume(
		queueName(kind),
		"",    // consumer
		false, // auto-ack is false. We will manually ack.
		false,
		false,
		false,
		nil,
	)
}

// Attempt extracts the delivery attempt count from a message, defaulting to
// 1 for messages without the header.
func Attempt(msg amqp.Delivery) int {
	if v, ok := msg.Headers[AttemptHeader]; ok {
		switch n := v.(type) {
		case int32:
			return int(n)
		case int64:
			return int(n)
		case int:
			return n
		}
	}
	return 1
}

func (c *Client) Close() {
	c.ch.Close()
	c.conn.Close()
}
