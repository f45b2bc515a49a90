package notifier

import (
	"context"
	"testing"

	"github.com/krobus00/broker-gateway/internal/constant"
	"github.com/krobus00/broker-gateway/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubjectFor(t *testing.T) {
	cases := map[entity.OrderEventType]string{
		entity.OrderEventPlaced:       constant.OrderPlacedSubject,
		entity.OrderEventTerminal:     constant.OrderTerminalSubject,
		entity.OrderEventCancelFailed: constant.OrderCancelFailedSubject,
	}
	for eventType, want := range cases {
		got, err := SubjectFor(eventType)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := SubjectFor("unknown")
	assert.Error(t, err)
}

func TestNoop(t *testing.T) {
	assert.NoError(t, Noop{}.PublishOrderEvent(context.Background(), entity.OrderEvent{Type: entity.OrderEventPlaced}))
}
