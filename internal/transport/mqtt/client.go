package mqtt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"homeorch/internal/transport"
	logx "homeorch/pkg/logx"
)

type Config struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	QoS            byte
	KeepAlive      time.Duration
}

// Client is a transport.Bus backed by an MQTT broker. Subscriptions are
// remembered and re-established on every (re)connect.
type Client struct {
	cfg Config
	log logx.Logger
	cli paho.Client

	mu   sync.RWMutex
	subs map[string]transport.Handler

	// handlers run on a detached context that is cancelled on Close.
	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg Config, log logx.Logger) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 30 * time.Second
	}
	if cfg.QoS > 2 {
		cfg.QoS = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:    cfg,
		log:    log.With(logx.String("comp", "mqtt")),
		subs:   map[string]transport.Handler{},
		ctx:    ctx,
		cancel: cancel,
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetKeepAlive(cfg.KeepAlive).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second).
		SetMaxReconnectInterval(time.Minute).
		SetCleanSession(true).
		SetOrderMatters(false)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.log.Warn("connection lost", logx.Err(err))
	})
	opts.SetReconnectingHandler(func(_ paho.Client, _ *paho.ClientOptions) {
		c.log.Info("reconnecting", logx.String("broker", cfg.Broker))
	})
	c.cli = paho.NewClient(opts)
	return c
}

// Connect starts the client. With connect-retry enabled paho keeps trying in
// the background, so a timeout here is logged and not fatal.
func (c *Client) Connect(ctx context.Context) error {
	tok := c.cli.Connect()
	if err := wait(ctx, tok, c.cfg.ConnectTimeout); err != nil {
		if errors.Is(err, errTimeout) {
			c.log.Warn("broker not reachable yet; retrying in background", logx.String("broker", c.cfg.Broker))
			return nil
		}
		return fmt.Errorf("mqtt connect %s: %w", c.cfg.Broker, err)
	}
	return nil
}

func (c *Client) onConnect(cli paho.Client) {
	c.mu.RLock()
	topics := make([]string, 0, len(c.subs))
	for t := range c.subs {
		topics = append(topics, t)
	}
	c.mu.RUnlock()

	c.log.Info("connected", logx.String("broker", c.cfg.Broker), logx.Int("subscriptions", len(topics)))
	for _, t := range topics {
		tok := cli.Subscribe(t, c.cfg.QoS, c.dispatch)
		go func(topic string, tok paho.Token) {
			if err := wait(c.ctx, tok, c.cfg.ConnectTimeout); err != nil {
				c.log.Warn("resubscribe failed", logx.String("topic", topic), logx.Err(err))
			}
		}(t, tok)
	}
}

func (c *Client) dispatch(_ paho.Client, m paho.Message) {
	c.mu.RLock()
	var hs []transport.Handler
	for filter, h := range c.subs {
		if transport.TopicMatches(filter, m.Topic()) {
			hs = append(hs, h)
		}
	}
	c.mu.RUnlock()

	msg := transport.Message{
		Topic:    m.Topic(),
		Payload:  append([]byte(nil), m.Payload()...),
		Received: time.Now(),
	}
	for _, h := range hs {
		h(c.ctx, msg)
	}
}

func (c *Client) Subscribe(topic string, h transport.Handler) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return errors.New("mqtt subscribe: empty topic")
	}
	c.mu.Lock()
	c.subs[topic] = h
	c.mu.Unlock()

	if !c.cli.IsConnectionOpen() {
		// picked up by onConnect
		return nil
	}
	tok := c.cli.Subscribe(topic, c.cfg.QoS, c.dispatch)
	if err := wait(c.ctx, tok, c.cfg.ConnectTimeout); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", topic, err)
	}
	return nil
}

func (c *Client) Unsubscribe(topic string) error {
	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()
	if !c.cli.IsConnectionOpen() {
		return nil
	}
	tok := c.cli.Unsubscribe(topic)
	return wait(c.ctx, tok, c.cfg.ConnectTimeout)
}

func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !c.cli.IsConnectionOpen() {
		return transport.ErrNotConnected
	}
	tok := c.cli.Publish(topic, c.cfg.QoS, false, payload)
	if err := wait(ctx, tok, c.cfg.PublishTimeout); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}

func (c *Client) Close(ctx context.Context) error {
	c.cancel()
	quiesce := uint(250)
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 && d < 250*time.Millisecond {
			quiesce = uint(d / time.Millisecond)
		}
	}
	c.cli.Disconnect(quiesce)
	return nil
}

var errTimeout = errors.New("timeout")

func wait(ctx context.Context, tok paho.Token, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-tok.Done():
		return tok.Error()
	case <-t.C:
		return errTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
