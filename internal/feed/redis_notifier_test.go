package feed

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type mockRedisPubSub struct {
	lastChannel string
	lastMessage interface{}
	err         error
}

func (m *mockRedisPubSub) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	m.lastChannel = channel
	m.lastMessage = message
	cmd := redis.NewIntCmd(ctx)
	if m.err != nil {
		cmd.SetErr(m.err)
		return cmd
	}
	cmd.SetVal(1)
	return cmd
}

func (m *mockRedisPubSub) Subscribe(_ context.Context, _ ...string) *redis.PubSub {
	return nil
}

func TestRedisNotifierPublish(t *testing.T) {
	mock := &mockRedisPubSub{}
	n := &RedisNotifier{client: mock, prefix: "chat:room:", logger: zap.NewNop()}

	if err := n.Publish(context.Background(), "r1"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if mock.lastChannel != "chat:room:r1" {
		t.Fatalf("unexpected channel %q", mock.lastChannel)
	}
	if mock.lastMessage != "r1" {
		t.Fatalf("unexpected payload %v", mock.lastMessage)
	}
}

func TestRedisNotifierPublish_Error(t *testing.T) {
	n := &RedisNotifier{client: &mockRedisPubSub{err: errors.New("redis down")}, prefix: "chat:room:", logger: zap.NewNop()}
	if err := n.Publish(context.Background(), "r1"); err == nil {
		t.Fatalf("expected publish error")
	}
}

// Requiere un Redis real: REDIS_ADDR=localhost:6379 go test ./internal/feed/...
func TestRedisNotifierListen_RoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	n := NewRedisNotifier(client, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	changes, err := n.Listen(ctx, "roundtrip")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	if err := n.Publish(context.Background(), "roundtrip"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case c := <-changes:
		if c.Err != nil || c.RoomID != "roundtrip" {
			t.Fatalf("unexpected change %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for change")
	}

	cancel()
	done := make(chan struct{})
	go func() {
		for range changes {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected channel to close after cancel")
	}
}
