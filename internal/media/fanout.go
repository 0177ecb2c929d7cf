package media

import (
	"sync"

	"github.com/keahilabs/kahawai/internal/logging"
)

var log = logging.DefaultLogger.WithTag("media")

// Fanout distributes encoded stream payloads to a dynamic set of
// subscribers. Each subscriber gets its own buffered channel; slow
// subscribers lose their oldest payload rather than stalling the
// producer.
type Fanout struct {
	// Start is called when the first subscriber is added.
	Start func()

	// Stop is called when the last subscriber is removed.
	Stop func()

	subscribers []chan []byte

	sync.Mutex
}

func (f *Fanout) Subscribe(capacity int) <-chan []byte {
	f.Lock()
	defer f.Unlock()

	if capacity == 0 {
		panic("media.Fanout: subscriber capacity must be nonzero")
	}

	s := make(chan []byte, capacity)
	f.subscribers = append(f.subscribers, s)
	if f.Start != nil && len(f.subscribers) == 1 {
		f.Start()
	}
	return s
}

func (f *Fanout) Unsubscribe(s <-chan []byte) error {
	f.Lock()
	defer f.Unlock()

	// Find and delete s from the subscribers list.
	// See https://github.com/golang/go/wiki/SliceTricks
	for i, subscriber := range f.subscribers {
		if s == subscriber {
			subs := f.subscribers
			close(subs[i])
			subs[len(subs)-1], subs[i] = subs[i], subs[len(subs)-1]
			f.subscribers = subs[:len(subs)-1]
			break
		}
	}

	if f.Stop != nil && len(f.subscribers) == 0 {
		go f.Stop()
	}

	return nil
}

// Write hands p to every subscriber. Callers must not reuse p after
// Write returns; pass a copy if the backing array is recycled.
func (f *Fanout) Write(p []byte) (n int, err error) {
	f.Lock()
	defer f.Unlock()

	for _, subscriber := range f.subscribers {
		select {
		case subscriber <- p:
			// Added slice reference to subscriber
		default:
			// Drop oldest payload, add newest
			<-subscriber
			subscriber <- p

			log.Warn("media.Fanout: subscriber missed a payload")
		}
	}

	return len(p), nil
}

func (f *Fanout) Close() error {
	f.Lock()
	defer f.Unlock()

	if len(f.subscribers) > 0 {
		for _, subscriber := range f.subscribers {
			close(subscriber)
			for len(subscriber) > 0 {
				<-subscriber // Drain
			}
		}
		f.subscribers = nil
	}

	return nil
}
