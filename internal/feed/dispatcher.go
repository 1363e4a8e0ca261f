package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"direct-chat/internal/domain"
)

var (
	ErrFeed                 = errors.New("feed error")
	ErrDispatcherClosed     = errors.New("dispatcher closed")
	ErrMissingUpdateHandler = errors.New("missing update handler")
)

// Lister lee la lista ordenada completa de una sala.
type Lister interface {
	ListOrdered(ctx context.Context, roomID string) ([]domain.Message, error)
}

// Unsubscribe desconecta la suscripcion. Es idempotente y, al retornar, no
// habra mas entregas.
type Unsubscribe func()

// Dispatcher mantiene por sala el conjunto de suscriptores activos y les envia
// el snapshot completo en cada cambio durable.
type Dispatcher struct {
	logger   *zap.Logger
	lister   Lister
	notifier Notifier

	mu     sync.Mutex
	rooms  map[string]*roomFeed
	closed bool
}

func NewDispatcher(logger *zap.Logger, lister Lister, notifier Notifier) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = NewLocalNotifier()
	}
	return &Dispatcher{
		logger:   logger,
		lister:   lister,
		notifier: notifier,
		rooms:    make(map[string]*roomFeed),
	}
}

// Subscribe registra onUpdate para la sala y le entrega el snapshot actual de
// forma asincrona. Si la lectura inicial falla la suscripcion no queda creada.
func (d *Dispatcher) Subscribe(ctx context.Context, roomID string, onUpdate UpdateFunc, onError ErrorFunc) (Unsubscribe, error) {
	if onUpdate == nil {
		return nil, ErrMissingUpdateHandler
	}
	roomID = strings.TrimSpace(roomID)
	sub := newSubscriber(onUpdate, onError)

	// Registramos antes de leer para no perder cambios entre la lectura
	// inicial y el alta; las versiones descartan snapshots repetidos.
	room, err := d.attach(roomID, sub)
	if err != nil {
		sub.stop()
		return nil, err
	}

	messages, err := d.lister.ListOrdered(ctx, roomID)
	if err != nil {
		d.detach(room, sub)
		return nil, fmt.Errorf("%w: initial snapshot: %w", ErrFeed, err)
	}
	sub.offer(domain.NewSnapshot(roomID, messages))

	var once sync.Once
	return func() {
		once.Do(func() { d.detach(room, sub) })
	}, nil
}

func (d *Dispatcher) attach(roomID string, sub *subscriber) (*roomFeed, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrDispatcherClosed
	}
	room, ok := d.rooms[roomID]
	if !ok {
		room = newRoomFeed(d, roomID)
		d.rooms[roomID] = room
		go room.run()
	}
	room.subs[sub] = struct{}{}
	return room, nil
}

func (d *Dispatcher) detach(room *roomFeed, sub *subscriber) {
	sub.stop()
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(room.subs, sub)
	if len(room.subs) == 0 {
		if d.rooms[room.id] == room {
			delete(d.rooms, room.id)
		}
		room.cancel()
	}
}

// drop saca la sala del registro sin tocar sus suscriptores.
func (d *Dispatcher) drop(room *roomFeed) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rooms[room.id] == room {
		delete(d.rooms, room.id)
	}
}

func (d *Dispatcher) subscribers(room *roomFeed) []*subscriber {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*subscriber, 0, len(room.subs))
	for sub := range room.subs {
		out = append(out, sub)
	}
	return out
}

// SubscriberCount devuelve los suscriptores activos de la sala.
func (d *Dispatcher) SubscriberCount(roomID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	room, ok := d.rooms[roomID]
	if !ok {
		return 0
	}
	return len(room.subs)
}

// RoomCount devuelve cuantas salas tienen un feed activo.
func (d *Dispatcher) RoomCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.rooms)
}

// Close detiene todas las salas y suscripciones.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	rooms := d.rooms
	d.rooms = make(map[string]*roomFeed)
	var subs []*subscriber
	for _, room := range rooms {
		room.cancel()
		for sub := range room.subs {
			subs = append(subs, sub)
		}
		room.subs = make(map[*subscriber]struct{})
	}
	d.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
}

// roomFeed es la goroutine por sala: escucha el notifier, relee la sala y
// reparte el snapshot.
type roomFeed struct {
	d      *Dispatcher
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	subs   map[*subscriber]struct{}
}

func newRoomFeed(d *Dispatcher, roomID string) *roomFeed {
	ctx, cancel := context.WithCancel(context.Background())
	return &roomFeed{
		d:      d,
		id:     roomID,
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[*subscriber]struct{}),
	}
}

func (r *roomFeed) run() {
	logger := r.d.logger.With(zap.String("room_id", r.id))
	changes, err := r.d.notifier.Listen(r.ctx, r.id)
	if err != nil {
		if r.ctx.Err() != nil {
			return
		}
		logger.Warn("room listener failed", zap.Error(err))
		r.fail(err)
		return
	}
	logger.Debug("room feed started")
	defer logger.Debug("room feed stopped")

	// Cubre cambios ocurridos antes de que el listener quedara activo.
	r.refresh(logger)

	for {
		select {
		case <-r.ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				if r.ctx.Err() == nil {
					r.fail(errors.New("listener closed"))
				}
				return
			}
			if change.Err != nil {
				r.fail(change.Err)
				return
			}
			r.refresh(logger)
		}
	}
}

func (r *roomFeed) refresh(logger *zap.Logger) {
	messages, err := r.d.lister.ListOrdered(r.ctx, r.id)
	if err != nil {
		if r.ctx.Err() != nil {
			return
		}
		logger.Warn("room refresh failed", zap.Error(err))
		feedErr := fmt.Errorf("%w: refresh room: %w", ErrFeed, err)
		for _, sub := range r.d.subscribers(r) {
			sub.offerError(feedErr)
		}
		return
	}
	snap := domain.NewSnapshot(r.id, messages)
	for _, sub := range r.d.subscribers(r) {
		sub.offer(snap)
	}
}

// fail avisa a los suscriptores y saca la sala del registro; no reintenta.
// Una suscripcion nueva a la misma sala arranca un listener nuevo.
func (r *roomFeed) fail(cause error) {
	feedErr := fmt.Errorf("%w: live updates stopped: %w", ErrFeed, cause)
	r.d.drop(r)
	for _, sub := range r.d.subscribers(r) {
		sub.offerError(feedErr)
	}
	r.cancel()
}
