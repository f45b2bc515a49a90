// Package notifier publishes order lifecycle events to NATS JetStream.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/krobus00/broker-gateway/internal/constant"
	"github.com/krobus00/broker-gateway/internal/entity"
	"github.com/krobus00/broker-gateway/internal/util"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

const (
	defaultPublishTimeout = 2 * time.Second
	streamMaxAge          = 24 * time.Hour
)

type JetstreamNotifier struct {
	js             nats.JetStreamContext
	publishTimeout time.Duration
}

var (
	_ entity.Publisher      = (*JetstreamNotifier)(nil)
	_ entity.EventPublisher = (*JetstreamNotifier)(nil)
)

func NewJetstreamNotifier(js nats.JetStreamContext, publishTimeout time.Duration) *JetstreamNotifier {
	if publishTimeout <= 0 {
		publishTimeout = defaultPublishTimeout
	}

	return &JetstreamNotifier{js: js, publishTimeout: publishTimeout}
}

func (n *JetstreamNotifier) JetstreamEventInit(ctx context.Context) error {
	streamConfig := &nats.StreamConfig{
		Name:      constant.BrokerageStreamName,
		Subjects:  []string{constant.BrokerageStreamSubjectAll},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    streamMaxAge,
		Replicas:  1,
	}

	stream, err := n.js.StreamInfo(constant.BrokerageStreamName, nats.Context(ctx))
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		logrus.Error(err)
		return err
	}

	if stream == nil {
		logrus.Infof("creating stream: %s", constant.BrokerageStreamName)
		_, err = n.js.AddStream(streamConfig, nats.Context(ctx))
		return err
	}

	logrus.Infof("updating stream: %s", constant.BrokerageStreamName)
	_, err = n.js.UpdateStream(streamConfig, nats.Context(ctx))
	if err != nil {
		logrus.Error(err)
		return err
	}

	logrus.Infof("stream %s is ready", constant.BrokerageStreamName)

	return nil
}

func (n *JetstreamNotifier) PublishOrderEvent(ctx context.Context, event entity.OrderEvent) error {
	subject, err := SubjectFor(event.Type)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.publishTimeout)
	defer cancel()

	return util.PublishEvent(ctx, n.js, subject, event)
}

func SubjectFor(eventType entity.OrderEventType) (string, error) {
	switch eventType {
	case entity.OrderEventPlaced:
		return constant.OrderPlacedSubject, nil
	case entity.OrderEventTerminal:
		return constant.OrderTerminalSubject, nil
	case entity.OrderEventCancelFailed:
		return constant.OrderCancelFailedSubject, nil
	default:
		return "", fmt.Errorf("unknown order event type %q", eventType)
	}
}

// Noop drops every event. It is used when no JetStream url is configured.
type Noop struct{}

func (Noop) PublishOrderEvent(context.Context, entity.OrderEvent) error {
	return nil
}
