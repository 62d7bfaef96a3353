package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/supportchat/internal/feed"
	"github.com/supportchat/internal/logger"
)

// Channel names: support:session:{id}. One pattern subscription per API instance.
const (
	channelPrefix  = "support:session:"
	channelPattern = channelPrefix + "*"
)

// Client wraps go-redis for the support chat: change notifications between API instances.
type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// Notifier implements feed.Notifier over Redis pub/sub. Signals published by any
// instance reach the local listeners of every instance.
type Notifier struct {
	cli   *redis.Client
	local *feed.Local
	// origin is the payload of this instance's messages; Run skips them.
	origin string
}

// NewNotifier returns a notifier; Run must be started to receive remote signals.
func (c *Client) NewNotifier() *Notifier {
	return &Notifier{cli: c.cli, local: feed.NewLocal(), origin: uuid.New().String()}
}

// Publish wakes local listeners directly, then tells the other instances.
// Local delivery does not depend on Redis being reachable.
func (n *Notifier) Publish(ctx context.Context, sessionID string) error {
	n.local.Signal(sessionID)
	if err := n.cli.Publish(ctx, channelPrefix+sessionID, n.origin).Err(); err != nil {
		return fmt.Errorf("redis publish session=%s: %w", sessionID, err)
	}
	return nil
}

func (n *Notifier) Listen(sessionID string) (<-chan struct{}, func()) {
	return n.local.Listen(sessionID)
}

// Run relays pub/sub messages to local listeners until ctx is done.
func (n *Notifier) Run(ctx context.Context) error {
	ps := n.cli.PSubscribe(ctx, channelPattern)
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("redis psubscribe: %w", err)
	}
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				logger.Errorf("redis notifier: subscription channel closed")
				return nil
			}
			sessionID := strings.TrimPrefix(msg.Channel, channelPrefix)
			if sessionID == "" || msg.Payload == n.origin {
				continue
			}
			n.local.Signal(sessionID)
		}
	}
}
