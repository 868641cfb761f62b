package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"certexam/internal/exam"

	"github.com/rabbitmq/amqp091-go"
)

// HandlerFunc processes one decoded event. A returned error requeues the
// delivery unless it wraps ErrPoison.
type HandlerFunc func(ctx context.Context, ev exam.Event) error

var ErrPoison = errors.New("poison message")

type ConsumerConfig struct {
	URL         string
	Exchange    string
	Queue       string
	RoutingKeys []string
	Prefetch    int
}

type Consumer struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	cfg     ConsumerConfig
	handle  HandlerFunc
	wg      sync.WaitGroup
	enabled bool
}

func NewConsumer(cfg ConsumerConfig, handle HandlerFunc) (*Consumer, error) {
	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 10
	}
	if cfg.URL == "" {
		log.Println("AMQP_URL is empty, event consumption is disabled")
		return &Consumer{cfg: cfg, handle: handle}, nil
	}

	conn, err := amqp091.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := channel.Qos(cfg.Prefetch, 0, false); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	return &Consumer{
		conn:    conn,
		channel: channel,
		cfg:     cfg,
		handle:  handle,
		enabled: true,
	}, nil
}

func (c *Consumer) Enabled() bool {
	return c.enabled
}

// Start declares the topology and consumes until ctx is cancelled or the
// broker closes the delivery channel.
func (c *Consumer) Start(ctx context.Context) error {
	if !c.enabled {
		log.Println("event consumption is disabled, not starting consumer")
		return nil
	}

	if err := declareExchange(c.channel, c.cfg.Exchange); err != nil {
		return err
	}
	if _, err := c.channel.QueueDeclare(c.cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", c.cfg.Queue, err)
	}
	for _, key := range c.cfg.RoutingKeys {
		if err := c.channel.QueueBind(c.cfg.Queue, key, c.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s to %s with key %s: %w", c.cfg.Queue, c.cfg.Exchange, key, err)
		}
		log.Printf("bound queue %s to %s key=%s", c.cfg.Queue, c.cfg.Exchange, key)
	}

	msgs, err := c.channel.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.consume(ctx, msgs)
	}()
	log.Printf("event consumer started queue=%s", c.cfg.Queue)
	return nil
}

// Wait blocks until the consume loop has exited.
func (c *Consumer) Wait() {
	c.wg.Wait()
}

func (c *Consumer) consume(ctx context.Context, msgs <-chan amqp091.Delivery) {
	for {
		select {
		case <-ctx.Done():
			log.Println("stopping event consumer")
			return
		case msg, ok := <-msgs:
			if !ok {
				log.Println("delivery channel closed")
				return
			}
			err := Dispatch(ctx, msg.Body, c.handle)
			switch {
			case err == nil:
				if err := msg.Ack(false); err != nil {
					log.Printf("ack delivery: %v", err)
				}
			case errors.Is(err, ErrPoison):
				log.Printf("dropping message key=%s: %v", msg.RoutingKey, err)
				if err := msg.Nack(false, false); err != nil {
					log.Printf("nack delivery: %v", err)
				}
			default:
				log.Printf("process message key=%s: %v", msg.RoutingKey, err)
				if err := msg.Nack(false, true); err != nil {
					log.Printf("nack delivery: %v", err)
				}
			}
		}
	}
}

// Dispatch decodes a delivery body and hands it to handle.
func Dispatch(ctx context.Context, body []byte, handle HandlerFunc) error {
	var ev exam.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("%w: decode event: %v", ErrPoison, err)
	}
	if ev.Type == "" {
		return fmt.Errorf("%w: event type is empty", ErrPoison)
	}
	return handle(ctx, ev)
}

func (c *Consumer) Close() error {
	if !c.enabled {
		return nil
	}
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			log.Printf("close rabbitmq channel: %v", err)
		}
	}
	c.wg.Wait()
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			return fmt.Errorf("close rabbitmq connection: %w", err)
		}
	}
	return nil
}
