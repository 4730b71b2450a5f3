package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/davidahmann/steward/pkg/types"
)

// LogMirror writes each committed event to the structured log.
type LogMirror struct {
	logger *zap.Logger
}

func NewLogMirror(logger *zap.Logger) *LogMirror {
	return &LogMirror{logger: logger}
}

func (m *LogMirror) Mirror(_ context.Context, ev types.AuditEvent) error {
	m.logger.Info("audit event",
		zap.Int64("seq", ev.Seq),
		zap.String("event_id", ev.EventID),
		zap.String("subsystem", ev.Subsystem),
		zap.String("actor_id", ev.ActorID),
		zap.String("action", ev.Action),
		zap.String("verdict", ev.Verdict),
		zap.String("reason_code", ev.ReasonCode),
		zap.String("request_id", ev.RequestID),
		zap.String("digest", ev.Digest),
	)
	return nil
}

// PubSubMirror publishes committed events to a Pub/Sub topic so downstream
// consumers can follow governance decisions.
type PubSubMirror struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

func NewPubSubMirror(ctx context.Context, projectID, topicID string, opts ...option.ClientOption) (*PubSubMirror, error) {
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	return &PubSubMirror{client: client, topic: client.Topic(topicID)}, nil
}

func (m *PubSubMirror) Mirror(ctx context.Context, ev types.AuditEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	res := m.topic.Publish(ctx, &pubsub.Message{
		Data: b,
		Attributes: map[string]string{
			"subsystem":   ev.Subsystem,
			"verdict":     ev.Verdict,
			"reason_code": ev.ReasonCode,
			"seq":         fmt.Sprint(ev.Seq),
		},
	})
	if _, err := res.Get(ctx); err != nil {
		return fmt.Errorf("pubsub publish: %w", err)
	}
	return nil
}

func (m *PubSubMirror) Close() error {
	m.topic.Stop()
	return m.client.Close()
}
