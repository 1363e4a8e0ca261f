package feed

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type redisPubSubClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// RedisNotifier publica cambios por sala en un canal pub/sub de Redis para que
// varias replicas de la API compartan el fan-out.
type RedisNotifier struct {
	client redisPubSubClient
	prefix string
	logger *zap.Logger
}

func NewRedisNotifier(client *redis.Client, logger *zap.Logger) *RedisNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisNotifier{
		client: client,
		prefix: "chat:room:",
		logger: logger,
	}
}

func (n *RedisNotifier) channel(roomID string) string {
	return n.prefix + strings.TrimSpace(roomID)
}

func (n *RedisNotifier) Publish(ctx context.Context, roomID string) error {
	return n.client.Publish(ctx, n.channel(roomID), roomID).Err()
}

func (n *RedisNotifier) Listen(ctx context.Context, roomID string) (<-chan Change, error) {
	pubsub := n.client.Subscribe(ctx, n.channel(roomID))
	// La primera respuesta confirma la suscripcion.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	out := make(chan Change, 1)
	go func() {
		<-ctx.Done()
		_ = pubsub.Close()
	}()
	go func() {
		defer close(out)
		for {
			msg, err := pubsub.Receive(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				n.logger.Warn("redis room listener stopped", zap.String("room_id", roomID), zap.Error(err))
				select {
				case out <- Change{RoomID: roomID, Err: err}:
				case <-ctx.Done():
				}
				return
			}
			if _, ok := msg.(*redis.Message); !ok {
				continue
			}
			select {
			case out <- Change{RoomID: roomID}:
			default:
			}
		}
	}()
	return out, nil
}
