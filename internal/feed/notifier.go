package feed

import (
	"context"
	"sync"
)

// Change avisa que los mensajes de una sala cambiaron. Un Change con Err
// indica que el listener murio y no entregara mas cambios.
type Change struct {
	RoomID string
	Err    error
}

// Notifier es el mecanismo de notificacion de cambios por sala.
type Notifier interface {
	Publish(ctx context.Context, roomID string) error
	// Listen devuelve un canal que recibe un Change por notificacion. El canal
	// se cierra cuando ctx termina.
	Listen(ctx context.Context, roomID string) (<-chan Change, error)
}

// LocalNotifier reparte cambios dentro del proceso.
type LocalNotifier struct {
	mu        sync.Mutex
	listeners map[string]map[chan Change]struct{}
}

func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{listeners: make(map[string]map[chan Change]struct{})}
}

func (n *LocalNotifier) Publish(_ context.Context, roomID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.listeners[roomID] {
		// Buffer de 1: si ya hay un cambio pendiente, el refresh lo cubre.
		select {
		case ch <- Change{RoomID: roomID}:
		default:
		}
	}
	return nil
}

func (n *LocalNotifier) Listen(ctx context.Context, roomID string) (<-chan Change, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := make(chan Change, 1)
	n.mu.Lock()
	if n.listeners[roomID] == nil {
		n.listeners[roomID] = make(map[chan Change]struct{})
	}
	n.listeners[roomID][ch] = struct{}{}
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		delete(n.listeners[roomID], ch)
		if len(n.listeners[roomID]) == 0 {
			delete(n.listeners, roomID)
		}
		close(ch)
		n.mu.Unlock()
	}()
	return ch, nil
}

// ListenerCount se usa en tests para verificar que no quedan listeners.
func (n *LocalNotifier) ListenerCount(roomID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.listeners[roomID])
}
