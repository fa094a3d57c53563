package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// SyncRequest is the payload queued on ETL_PUBSUB_TOPIC for deferred runs.
type SyncRequest struct {
	Entity        string     `json:"entity"`
	Since         *time.Time `json:"since,omitempty"`
	CleanReload   bool       `json:"clean_reload,omitempty"`
	RequestedAt   time.Time  `json:"requested_at"`
	CorrelationId string     `json:"correlation_id"`
}

// NewPubSubClient uses Application Default Credentials unless
// PUBSUB_CREDENTIALS_JSON is set. Retries until ctx is done.
func NewPubSubClient(ctx context.Context, s PubSubSettings, logg *logrus.Logger) (*pubsub.Client, error) {
	if s.ProjectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}

	var attempt int
	for {
		attempt++

		var (
			c   *pubsub.Client
			err error
		)
		if s.CredentialsJSON != "" {
			c, err = pubsub.NewClient(ctx, s.ProjectID, option.WithCredentialsJSON([]byte(s.CredentialsJSON)))
		} else {
			c, err = pubsub.NewClient(ctx, s.ProjectID)
		}
		if err == nil {
			logg.WithFields(logrus.Fields{"project_id": s.ProjectID, "attempt": attempt}).Info("pubsub client ready")
			return c, nil
		}

		sleep := retryDelay(attempt)
		logg.WithFields(logrus.Fields{
			"project_id": s.ProjectID,
			"attempt":    attempt,
			"retryIn":    sleep.String(),
		}).WithError(err).Warn("failed to init pubsub client")
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("init pubsub client: %w", ctx.Err())
		case <-time.After(sleep):
		}
	}
}

func CreateTopicIfNotExists(ctx context.Context, c *pubsub.Client, topic string) (*pubsub.Topic, error) {
	if c == nil {
		return nil, errors.New("pubsub client is nil")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}

	t := c.Topic(topic)
	ok, err := t.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		return t, nil
	}
	t, err = c.CreateTopic(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("create topic %q: %w", topic, err)
	}
	return t, nil
}

// SyncPublisher queues sync requests on a topic.
type SyncPublisher struct {
	topic *pubsub.Topic
}

func NewSyncPublisher(topic *pubsub.Topic) *SyncPublisher {
	return &SyncPublisher{topic: topic}
}

// Publish returns the server-assigned message id.
func (p *SyncPublisher) Publish(ctx context.Context, req SyncRequest) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"entity": req.Entity},
	})
	return result.Get(ctx)
}

func (p *SyncPublisher) Stop() {
	p.topic.Stop()
}
