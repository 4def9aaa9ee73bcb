// Package pubsub connects the outbox publisher to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/cim-backend/pkg/config"
	"github.com/angelmondragon/cim-backend/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("pubsub: gcp project id is required")
	errNoSalesTopic      = errors.New("pubsub: sales topic is required")
	errNotInitialized    = errors.New("pubsub: client not initialized")
)

// lookup fetches one admin resource by its full name.
type lookup func(ctx context.Context, fullName string) error

// Client owns the Pub/Sub connection and knows which resources the sales
// event stream needs.
type Client struct {
	raw          *pubsub.Client
	project      string
	topic        string
	subscription string

	getTopic        lookup
	getSubscription lookup
}

func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	if project == "" {
		return nil, errProjectIDRequired
	}
	if strings.TrimSpace(cfg.SalesTopic) == "" {
		return nil, errNoSalesTopic
	}

	raw, err := pubsub.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("pubsub: new client: %w", err)
	}
	c := &Client{
		raw:          raw,
		project:      project,
		topic:        strings.TrimSpace(cfg.SalesTopic),
		subscription: strings.TrimSpace(cfg.SalesSubscription),
		getTopic: func(ctx context.Context, name string) error {
			_, err := raw.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: name})
			return err
		},
		getSubscription: func(ctx context.Context, name string) error {
			_, err := raw.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: name})
			return err
		},
	}

	if err := c.Ping(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"gcp_project": project,
			"topic":       c.topic,
		}), "pubsub client ready")
	}
	return c, nil
}

// Publisher returns a batching publisher for topic, which may be a bare id
// or a full resource name.
func (c *Client) Publisher(topic string) *pubsub.Publisher {
	if c == nil || c.raw == nil {
		return nil
	}
	name := c.qualify("topics", topic)
	if name == "" {
		return nil
	}
	return c.raw.Publisher(name)
}

// Ping confirms the sales topic, and the subscription when one is
// configured, exist.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.getTopic == nil {
		return errNotInitialized
	}
	if err := c.exists(ctx, c.getTopic, "topics", c.topic); err != nil {
		return err
	}
	if c.subscription == "" {
		return nil
	}
	return c.exists(ctx, c.getSubscription, "subscriptions", c.subscription)
}

func (c *Client) Close() error {
	if c == nil || c.raw == nil {
		return nil
	}
	return c.raw.Close()
}

func (c *Client) exists(ctx context.Context, get lookup, kind, id string) error {
	name := c.qualify(kind, id)
	if name == "" {
		return fmt.Errorf("pubsub: %s %q not configured", kind, id)
	}
	err := get(ctx, name)
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("pubsub: %s does not exist", name)
	default:
		return fmt.Errorf("pubsub: get %s: %w", name, err)
	}
}

// qualify expands an id to projects/<project>/<kind>/<id>. Names that are
// already qualified pass through.
func (c *Client) qualify(kind, id string) string {
	id = strings.TrimSpace(id)
	if c == nil || id == "" {
		return ""
	}
	if strings.HasPrefix(id, "projects/") && strings.Contains(id, "/"+kind+"/") {
		return id
	}
	if c.project == "" {
		return ""
	}
	return "projects/" + c.project + "/" + kind + "/" + id
}
