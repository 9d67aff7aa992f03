package presence

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Tyrowin/chatmk/internal/config"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestPublisher(t *testing.T) (*RedisPublisher, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	cfg := config.PresenceConfig{
		Type:    "redis",
		Addr:    mr.Addr(),
		Key:     "test:online",
		Channel: "test:presence",
	}
	p, err := NewRedisPublisher(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create RedisPublisher: %v", err)
	}
	return p, mr
}

func TestNew_Types(t *testing.T) {
	p, err := New(config.PresenceConfig{Type: "none"}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, NopPublisher{}, p)
	assert.NoError(t, p.Publish(context.Background(), []string{"a"}))
	assert.NoError(t, p.Close())

	_, err = New(config.PresenceConfig{Type: "etcd"}, zap.NewNop())
	assert.Error(t, err)
}

func TestNewRedisPublisher_ConnectionError(t *testing.T) {
	cfg := config.PresenceConfig{Type: "redis", Addr: "127.0.0.1:0"}
	p, err := NewRedisPublisher(cfg, zap.NewNop())
	assert.Nil(t, p)
	assert.Error(t, err)
}

func TestRedisPublisher_PublishReplacesSet(t *testing.T) {
	p, mr := newTestPublisher(t)
	ctx := context.Background()

	require.NoError(t, p.Publish(ctx, []string{"alice", "bob"}))
	members, err := mr.Members("test:online")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, members)

	require.NoError(t, p.Publish(ctx, []string{"bob"}))
	members, err = mr.Members("test:online")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, members)

	require.NoError(t, p.Publish(ctx, nil))
	assert.False(t, mr.Exists("test:online"))

	require.NoError(t, p.Close())
}

func TestRedisPublisher_AnnouncesOnChannel(t *testing.T) {
	p, mr := newTestPublisher(t)
	ctx := context.Background()

	sub := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer sub.Close()
	pubsub := sub.Subscribe(ctx, "test:presence")
	defer pubsub.Close()
	_, err := pubsub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, p.Publish(ctx, []string{"alice"}))

	select {
	case msg := <-pubsub.Channel():
		var update Update
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &update))
		assert.Equal(t, "user_list", update.Type)
		assert.Equal(t, []string{"alice"}, update.Users)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for presence update")
	}
}
