package feed

import (
	"sync"

	"direct-chat/internal/domain"
)

type (
	UpdateFunc func(domain.Snapshot)
	ErrorFunc  func(error)
)

// subscriber entrega snapshots en su propia goroutine. El mailbox guarda solo
// el ultimo snapshot pendiente: un consumidor lento puede saltarse versiones
// intermedias pero nunca recibe una version menor a la ya vista.
type subscriber struct {
	onUpdate UpdateFunc
	onError  ErrorFunc

	mu        sync.Mutex
	pending   *domain.Snapshot
	errs      error
	errLast   bool
	version   int64
	seen      bool
	closed    bool
	wake      chan struct{}
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newSubscriber(onUpdate UpdateFunc, onError ErrorFunc) *subscriber {
	s := &subscriber{
		onUpdate: onUpdate,
		onError:  onError,
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

// offer encola el snapshot si es mas nuevo que lo visto o pendiente.
func (s *subscriber) offer(snap domain.Snapshot) bool {
	s.mu.Lock()
	if s.closed || (s.seen && snap.Version <= s.version) {
		s.mu.Unlock()
		return false
	}
	s.pending = &snap
	s.version = snap.Version
	s.seen = true
	s.errLast = false
	s.mu.Unlock()
	s.signal()
	return true
}

func (s *subscriber) offerError(err error) {
	if s.onError == nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.errs = err
	s.errLast = true
	s.mu.Unlock()
	s.signal()
}

func (s *subscriber) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) run() {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			return
		case <-s.wake:
		}
		s.mu.Lock()
		snap, err, errLast := s.pending, s.errs, s.errLast
		s.pending, s.errs = nil, nil
		s.mu.Unlock()

		if errLast {
			s.deliverSnapshot(snap)
			s.deliverError(err)
		} else {
			s.deliverError(err)
			s.deliverSnapshot(snap)
		}
	}
}

func (s *subscriber) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *subscriber) deliverSnapshot(snap *domain.Snapshot) {
	if snap == nil || s.isClosed() {
		return
	}
	s.onUpdate(*snap)
}

func (s *subscriber) deliverError(err error) {
	if err == nil || s.isClosed() {
		return
	}
	s.onError(err)
}

// stop detiene las entregas y espera a la que este en curso. No debe llamarse
// desde dentro de onUpdate u onError.
func (s *subscriber) stop() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.pending, s.errs = nil, nil
		s.mu.Unlock()
		close(s.quit)
		<-s.done
	})
}
