// Package events fans index run results out to in-process subscribers.
package events

import (
	"sync/atomic"
	"time"

	"github.com/starford/vaultlens/internal/index"
)

// Event types.
const (
	TypeIndexUpdated = "index.updated"
	TypeGraphUpdated = "graph.updated"
)

// Event is one message delivered to subscribers.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Broker delivers events to subscribers.
//
// A single loop goroutine owns the subscriber set and the graph throttle
// timestamp. Public methods talk to it over channels, so there are no
// mutexes. A subscriber whose buffer is full misses the event.
type Broker struct {
	graphMin time.Duration

	subscribeCh   chan chan Event
	unsubscribeCh chan chan Event
	publishCh     chan Event
	reportCh      chan *index.Report
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker starts a broker. graph.updated is emitted at most once per
// graphThrottle; zero or less means two seconds.
func NewBroker(graphThrottle time.Duration) *Broker {
	if graphThrottle <= 0 {
		graphThrottle = 2 * time.Second
	}

	b := &Broker{
		graphMin:      graphThrottle,
		subscribeCh:   make(chan chan Event),
		unsubscribeCh: make(chan chan Event),
		publishCh:     make(chan Event, 64),
		reportCh:      make(chan *index.Report, 64),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	subs := make(map[chan Event]struct{})
	var lastGraph time.Time

	broadcast := func(ev Event) {
		for ch := range subs {
			select {
			case ch <- ev:
			default:
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range subs {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			subs[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
			}

		case ev := <-b.publishCh:
			broadcast(ev)

		case rep := <-b.reportCh:
			broadcast(Event{Type: TypeIndexUpdated, Data: rep})
			if !rep.Changed() && rep.LinksResolved == 0 {
				continue
			}
			now := time.Now()
			if now.Sub(lastGraph) >= b.graphMin {
				lastGraph = now
				broadcast(Event{Type: TypeGraphUpdated, Data: map[string]int{"links_broken": rep.LinksBroken}})
			}

		case resp := <-b.countReqCh:
			resp <- len(subs)
		}
	}
}

// Close stops the loop and closes every subscriber channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a subscriber. The channel is closed on Unsubscribe
// or Close.
func (b *Broker) Subscribe() chan Event {
	ch := make(chan Event, 16)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(ch chan Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// SubscriberCount returns the number of subscribers.
func (b *Broker) SubscriberCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends ev to every subscriber.
func (b *Broker) Publish(ev Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- ev:
	case <-b.stopped:
	}
}

// PublishReport announces a finished index run, followed by a throttled
// graph.updated when the run changed notes or links.
func (b *Broker) PublishReport(rep *index.Report) {
	if rep == nil || b.closed.Load() {
		return
	}
	select {
	case b.reportCh <- rep:
	case <-b.stopped:
	}
}
