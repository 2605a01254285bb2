// Package notify is the change notifier described in spec §4.8: each
// commit flushes a deduplicated (class, subject) event list to local
// subscribers, and optionally fans the same list out over an AMQP topic
// exchange per class for remote subscribers attached via open_bus.
//
// Grounded on the teacher's Engine.notifyWatchers: a map of subscriptions
// guarded by a mutex, dispatched with one goroutine per subscriber per
// event so a slow handler never blocks the commit path.
package notify

import (
	"encoding/json"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"github.com/quillgraph/quill/internal/change"
)

// Handler receives one notification. It must not block for long; slow
// handlers only delay their own delivery, never the commit path or other
// subscribers.
type Handler func(classIRI string, subjectID int64, kind change.EventKind)

type subscription struct {
	id      int64
	handler Handler
}

// Bus is the minimal surface of an AMQP channel the notifier publishes on;
// satisfied by *amqp.Channel, kept as an interface so tests don't need a
// broker.
type Bus interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Notifier fans out deduplicated commit events to local subscribers and,
// when a Bus is attached, to remote ones over AMQP.
type Notifier struct {
	mu      sync.RWMutex
	nextID  int64
	byClass map[string][]subscription
	bus     Bus
	log     zerolog.Logger
}

// New returns a Notifier with no subscribers and no bus attached.
func New(log zerolog.Logger) *Notifier {
	return &Notifier{byClass: map[string][]subscription{}, log: log}
}

// AttachBus wires a remote fanout channel, as created by
// Connection.open_bus. Passing nil detaches it.
func (n *Notifier) AttachBus(b Bus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.bus = b
}

// Subscribe registers handler for every event on classIRI, returning an id
// for Unsubscribe.
func (n *Notifier) Subscribe(classIRI string, handler Handler) int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	id := n.nextID
	n.byClass[classIRI] = append(n.byClass[classIRI], subscription{id: id, handler: handler})
	return id
}

// Unsubscribe removes the subscription with the given id, if present.
func (n *Notifier) Unsubscribe(id int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for class, subs := range n.byClass {
		for i, s := range subs {
			if s.id == id {
				n.byClass[class] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Dedup collapses a raw per-write event slice down to at most one event per
// (class, subject), keeping the last write's kind — spec §4.8: "at most
// one event per (class, subject) pair, with the last write's kind."
func Dedup(events []change.Event) []change.Event {
	order := make([]string, 0, len(events))
	byKey := map[string]change.Event{}
	for _, e := range events {
		key := e.ClassIRI + "\x00" + strconv.FormatInt(e.SubjectID, 10)
		if _, seen := byKey[key]; !seen {
			order = append(order, key)
		}
		byKey[key] = e
	}
	out := make([]change.Event, 0, len(order))
	for _, key := range order {
		out = append(out, byKey[key])
	}
	return out
}

// Publish dispatches a deduplicated event list after a commit has durably
// succeeded. Local subscribers for the event's class are called in their
// own goroutine; if a Bus is attached, the same event is marshalled to
// JSON and published on a topic exchange keyed by the class IRI.
func (n *Notifier) Publish(events []change.Event) {
	n.mu.RLock()
	bus := n.bus
	subsSnapshot := make(map[string][]subscription, len(n.byClass))
	for class, subs := range n.byClass {
		subsSnapshot[class] = append([]subscription(nil), subs...)
	}
	n.mu.RUnlock()

	for _, e := range events {
		for _, s := range subsSnapshot[e.ClassIRI] {
			go s.handler(e.ClassIRI, e.SubjectID, e.Kind)
		}
		if bus != nil {
			n.publishRemote(bus, e)
		}
	}
}

type wireEvent struct {
	Class   string `json:"class"`
	Subject int64  `json:"subject"`
	Kind    string `json:"kind"`
}

func (n *Notifier) publishRemote(bus Bus, e change.Event) {
	body, err := json.Marshal(wireEvent{Class: e.ClassIRI, Subject: e.SubjectID, Kind: string(e.Kind)})
	if err != nil {
		n.log.Error().Err(err).Str("class", e.ClassIRI).Msg("marshal notification for bus fanout")
		return
	}
	err = bus.Publish("quill.notify", e.ClassIRI, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		n.log.Warn().Err(err).Str("class", e.ClassIRI).Msg("publish notification to bus")
	}
}
