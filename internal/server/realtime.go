package server

import (
	"context"
	"sync"
	"time"

	"github.com/inkline-hq/inkline/backend/internal/audit"
)

// ChangeSignal is the wake-up delivered to long-poll waiters when the audit
// recorder appends an event for their document.
type ChangeSignal struct {
	DocumentID string
	Kind       audit.Kind
	Timestamp  time.Time
}

// ChangeDispatcher fans audit append notifications out to waiting pollers,
// keyed by document. It implements audit.Notifier so the recorder can wake
// waiters without knowing about HTTP.
type ChangeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*changeSubscriber
	nextID      int64
	bufferSize  int
}

type changeSubscriber struct {
	id     int64
	stream chan ChangeSignal
}

func NewChangeDispatcher() *ChangeDispatcher {
	return &ChangeDispatcher{
		subscribers: make(map[string]map[int64]*changeSubscriber),
		bufferSize:  16,
	}
}

// NotifyDocumentEvent satisfies audit.Notifier.
func (d *ChangeDispatcher) NotifyDocumentEvent(documentID string, kind audit.Kind, timestamp time.Time) {
	d.publish(ChangeSignal{DocumentID: documentID, Kind: kind, Timestamp: timestamp})
}

// Subscribe registers a waiter for the document. The returned cleanup must be
// called when the waiter is done; cancelling the context also unregisters.
func (d *ChangeDispatcher) Subscribe(ctx context.Context, documentID string) (<-chan ChangeSignal, func()) {
	if documentID == "" {
		ch := make(chan ChangeSignal)
		close(ch)
		return ch, func() {}
	}
	subscriber := &changeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan ChangeSignal, d.bufferSize),
	}
	d.registerSubscriber(documentID, subscriber)
	cleanup := func() {
		d.unregisterSubscriber(documentID, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

func (d *ChangeDispatcher) publish(signal ChangeSignal) {
	if signal.DocumentID == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[signal.DocumentID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*changeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- signal:
		default:
		}
	}
}

func (d *ChangeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *ChangeDispatcher) registerSubscriber(documentID string, subscriber *changeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[documentID]; !ok {
		d.subscribers[documentID] = make(map[int64]*changeSubscriber)
	}
	d.subscribers[documentID][subscriber.id] = subscriber
}

func (d *ChangeDispatcher) unregisterSubscriber(documentID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[documentID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, documentID)
		}
	}
	d.mu.Unlock()
}
