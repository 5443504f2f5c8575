package chat

import (
	"sync"

	"github.com/matheus3301/handychat/internal/bus"
)

// watcher folds bus events into a single pending-change signal so a slow
// screen redraws once for a burst of updates.
type watcher struct {
	ch    chan struct{}
	unsub func()
	done  chan struct{}
	once  sync.Once
}

func watch(b *bus.Bus, namespace string, match func(bus.Event) bool) *watcher {
	w := &watcher{ch: make(chan struct{}, 1), unsub: func() {}, done: make(chan struct{})}
	if b == nil {
		return w
	}
	events, unsub := b.Subscribe(namespace, 64)
	w.unsub = unsub
	go func() {
		for {
			select {
			case <-w.done:
				return
			case evt := <-events:
				if match != nil && !match(evt) {
					continue
				}
				select {
				case w.ch <- struct{}{}:
				default:
				}
			}
		}
	}()
	return w
}

func (w *watcher) close() {
	w.once.Do(func() {
		w.unsub()
		close(w.done)
	})
}
