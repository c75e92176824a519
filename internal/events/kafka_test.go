//go:build integration

package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/redpanda"
	"github.com/twmb/franz-go/pkg/kgo"
)

func TestKafkaPublisher_ProducesKeyedRecords(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := redpanda.Run(ctx, "docker.redpanda.com/redpandadata/redpanda:v24.1.7", redpanda.WithAutoCreateTopics())
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	broker, err := container.KafkaSeedBroker(ctx)
	require.NoError(t, err)

	const topic = "ledger-events-test"
	pub, err := NewKafkaPublisher([]string{broker}, topic)
	require.NoError(t, err)
	defer pub.Close()
	require.NoError(t, pub.Ping(ctx))

	e := New(RemittanceCreated, time.Now(), "GSENDER", "remit-1", map[string]any{"amount_minor": 100})
	require.NoError(t, pub.Publish(ctx, e))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(broker),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	require.Empty(t, fetches.Errors())
	recs := fetches.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "remit-1", string(recs[0].Key))

	var got Event
	require.NoError(t, json.Unmarshal(recs[0].Value, &got))
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, RemittanceCreated, got.Type)
}
