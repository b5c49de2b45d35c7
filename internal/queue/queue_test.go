package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBroker(t *testing.T) *Broker {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewBrokerWithClient(rdb)
}

func TestEnqueueDequeue(t *testing.T) {
	b := testBroker(t)
	ctx := context.Background()

	task, err := NewTask(KindEnrichProduct, map[string]string{"product_id": "p-1"})
	require.NoError(t, err)
	require.NoError(t, b.Enqueue(ctx, QueueEnrichment, task))

	n, err := b.Len(ctx, QueueEnrichment)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := b.Dequeue(ctx, QueueEnrichment, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, KindEnrichProduct, got.Kind)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(got.Payload, &payload))
	assert.Equal(t, "p-1", payload["product_id"])
}

func TestDequeue_FIFO(t *testing.T) {
	b := testBroker(t)
	ctx := context.Background()

	first, err := NewTask(KindCrawlURL, map[string]string{"url": "https://a"})
	require.NoError(t, err)
	second, err := NewTask(KindCrawlURL, map[string]string{"url": "https://b"})
	require.NoError(t, err)
	require.NoError(t, b.Enqueue(ctx, QueueCrawl, first))
	require.NoError(t, b.Enqueue(ctx, QueueCrawl, second))

	got, err := b.Dequeue(ctx, QueueCrawl, time.Second)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
}

func TestDequeue_Empty(t *testing.T) {
	b := testBroker(t)

	got, err := b.Dequeue(context.Background(), QueueDefault, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestQueues_Isolated(t *testing.T) {
	b := testBroker(t)
	ctx := context.Background()

	task, err := NewTask(KindDiscoveryRun, map[string]string{"schedule": "weekly-whiskey"})
	require.NoError(t, err)
	require.NoError(t, b.Enqueue(ctx, QueueDiscovery, task))

	got, err := b.Dequeue(ctx, QueueCrawl, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, got, "tasks stay on their own queue")
}

func TestPurge(t *testing.T) {
	b := testBroker(t)
	ctx := context.Background()

	task, err := NewTask(KindVerifyProduct, map[string]string{"product_id": "p-2"})
	require.NoError(t, err)
	require.NoError(t, b.Enqueue(ctx, QueueEnrichment, task))
	require.NoError(t, b.Purge(ctx, QueueEnrichment))

	n, err := b.Len(ctx, QueueEnrichment)
	require.NoError(t, err)
	assert.Zero(t, n)
}
