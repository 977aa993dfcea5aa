package mq

import (
	"context"
	"testing"

	"github.com/jjudge-oj/accounts/config"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	published map[string][][]byte
	closed    bool
}

func (f *fakeBackend) Publish(_ context.Context, channel string, data []byte, _ map[string]string) (string, error) {
	if f.published == nil {
		f.published = make(map[string][][]byte)
	}
	f.published[channel] = append(f.published[channel], data)
	return "id", nil
}

func (f *fakeBackend) Close() error {
	f.closed = true
	return nil
}

func TestMQDelegatesToBackend(t *testing.T) {
	backend := &fakeBackend{}
	queue := New(backend)

	id, err := queue.Publish(context.Background(), "account-events", []byte(`{"type":"user.created"}`), nil)
	require.NoError(t, err)
	require.Equal(t, "id", id)
	require.Equal(t, [][]byte{[]byte(`{"type":"user.created"}`)}, backend.published["account-events"])

	require.NoError(t, queue.Close())
	require.True(t, backend.closed)
}

func TestNewFromConfig(t *testing.T) {
	ctx := context.Background()

	queue, err := NewFromConfig(ctx, config.MQConfig{Backend: config.MQBackendNone})
	require.NoError(t, err)
	require.Nil(t, queue)

	_, err = NewFromConfig(ctx, config.MQConfig{Backend: "kafka"})
	require.ErrorContains(t, err, "unsupported mq backend")

	_, err = NewFromConfig(ctx, config.MQConfig{Backend: config.MQBackendRabbitMQ})
	require.ErrorContains(t, err, "rabbitmq url is required")

	_, err = NewFromConfig(ctx, config.MQConfig{Backend: config.MQBackendPubSub})
	require.ErrorContains(t, err, "pubsub project id is required")
}

func TestPublishing(t *testing.T) {
	msg := publishing("01J0000000000000000000000", []byte(`{}`), map[string]string{"type": "user.updated"}, true)

	require.Equal(t, "application/json", msg.ContentType)
	require.Equal(t, amqp.Persistent, msg.DeliveryMode)
	require.Equal(t, "01J0000000000000000000000", msg.MessageId)
	require.Equal(t, "user.updated", msg.Type)
	require.Equal(t, amqp.Table{"type": "user.updated"}, msg.Headers)

	transient := publishing("id", nil, nil, false)
	require.Equal(t, amqp.Transient, transient.DeliveryMode)
	require.Empty(t, transient.Type)
}

func TestNewMessageIDIsUnique(t *testing.T) {
	a, b := newMessageID(), newMessageID()
	require.Len(t, a, 26)
	require.NotEqual(t, a, b)
}
