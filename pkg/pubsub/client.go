package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/shopcore/pkg/config"
	"github.com/angelmondragon/shopcore/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoTopics          = errors.New("pubsub topic name is required")
	errClosed            = errors.New("pubsub client not initialized")
)

// ErrUnknownTopic is returned when publishing to a topic that was not
// configured at startup.
var ErrUnknownTopic = errors.New("pubsub topic not configured")

type topicAdmin interface {
	GetTopic(ctx context.Context, name string) error
}

type gcpAdmin struct{ client *pubsub.Client }

func (a gcpAdmin) GetTopic(ctx context.Context, name string) error {
	_, err := a.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: name})
	return err
}

// Client publishes ordered domain events to a fixed set of topics.
type Client struct {
	client *pubsub.Client
	admin  topicAdmin

	// topics maps the configured short name to its resource name.
	topics map[string]string

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

// NewClient dials Pub/Sub and fails unless every configured topic exists.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	if project == "" {
		return nil, errProjectIDRequired
	}
	topics := resolveTopics(project, cfg)
	if len(topics) == 0 {
		return nil, errNoTopics
	}

	raw, err := pubsub.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	c := &Client{
		client:     raw,
		admin:      gcpAdmin{client: raw},
		topics:     topics,
		publishers: make(map[string]*pubsub.Publisher, len(topics)),
	}
	if err := c.Ping(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "topics", len(topics)), "pubsub client initialized")
	}
	return c, nil
}

// Ping checks that every configured topic still exists.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.admin == nil {
		return errClosed
	}
	g, gctx := errgroup.WithContext(ctx)
	for short, full := range c.topics {
		g.Go(func() error {
			err := c.admin.GetTopic(gctx, full)
			switch {
			case err == nil:
				return nil
			case status.Code(err) == codes.NotFound:
				return fmt.Errorf("topic %q does not exist", short)
			default:
				return fmt.Errorf("check topic %q: %w", short, err)
			}
		})
	}
	return g.Wait()
}

// Publisher returns the cached ordering-enabled publisher for a configured
// topic, or nil when the topic is unknown.
func (c *Client) Publisher(topic string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	full, ok := c.lookup(topic)
	if !ok {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	pub, ok := c.publishers[full]
	if !ok {
		pub = c.client.Publisher(full)
		pub.EnableMessageOrdering = true
		c.publishers[full] = pub
	}
	return pub
}

// Publish sends msg and waits for the server ack. A failed ordered publish
// pauses its ordering key, so the key is resumed before returning the error.
func (c *Client) Publish(ctx context.Context, topic string, msg *pubsub.Message) error {
	pub := c.Publisher(topic)
	if pub == nil {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	if _, err := pub.Publish(ctx, msg).Get(ctx); err != nil {
		if msg.OrderingKey != "" {
			pub.ResumePublish(msg.OrderingKey)
		}
		return err
	}
	return nil
}

// Close flushes pending messages and releases the client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	for _, pub := range c.publishers {
		pub.Stop()
	}
	clear(c.publishers)
	c.mu.Unlock()
	return c.client.Close()
}

func (c *Client) lookup(topic string) (string, bool) {
	topic = strings.TrimSpace(topic)
	if full, ok := c.topics[topic]; ok {
		return full, true
	}
	for _, full := range c.topics {
		if full == topic {
			return full, true
		}
	}
	return "", false
}

func resolveTopics(project string, cfg config.PubSubConfig) map[string]string {
	topics := make(map[string]string, 2)
	for _, name := range []string{cfg.OrdersTopic, cfg.NotificationTopic} {
		if full := topicResourceName(project, name); full != "" {
			topics[strings.TrimSpace(name)] = full
		}
	}
	return topics
}

func topicResourceName(projectID, name string) string {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return ""
	case strings.HasPrefix(name, "projects/") && strings.Contains(name, "/topics/"):
		return name
	case strings.TrimSpace(projectID) == "":
		return ""
	}
	return "projects/" + strings.TrimSpace(projectID) + "/topics/" + name
}
