// Package events publishes tile and domain lifecycle events.
//
// Events are JSON documents published on subjects of the form
// "modelbuilder.tile.<phase>" and "modelbuilder.domain.<stage>". Publishing
// is best effort: a failed publish is logged by the caller and never fails
// the operation that produced the event.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectPrefix is prepended to every subject.
const SubjectPrefix = "modelbuilder"

// Event is a lifecycle notification.
type Event struct {
	Kind   string    `json:"kind"` // "tile" or "domain"
	Name   string    `json:"name"` // tile ID or domain name
	Stage  string    `json:"stage"`
	Error  string    `json:"error,omitempty"`
	Detail any       `json:"detail,omitempty"`
	Time   time.Time `json:"time"`
}

// Subject returns the subject the event is published on.
func (e Event) Subject() string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, e.Kind, e.Stage)
}

// Tile builds a tile event.
func Tile(id, stage string, err error) Event {
	ev := Event{Kind: "tile", Name: id, Stage: stage, Time: time.Now().UTC()}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}

// Domain builds a domain event.
func Domain(name, stage string, detail any) Event {
	return Event{Kind: "domain", Name: name, Stage: stage, Detail: detail, Time: time.Now().UTC()}
}

// Publisher sends events somewhere.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close()
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close()                               {}

// NATS publishes events on a core NATS connection.
type NATS struct {
	conn *nats.Conn
}

// NewNATS connects to the server at url. The connection keeps retrying in
// the background if the server is not yet reachable.
func NewNATS(url string) (*NATS, error) {
	conn, err := nats.Connect(url,
		nats.Name("modelbuilder"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATS{conn: conn}, nil
}

// Publish encodes ev as JSON and publishes it on its subject.
func (p *NATS) Publish(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return p.conn.Publish(ev.Subject(), data)
}

// Close drains and closes the connection.
func (p *NATS) Close() {
	_ = p.conn.Drain()
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Close() {}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Stages returns the stages published for the named tile or domain, in
// order.
func (r *Recorder) Stages(name string) []string {
	var out []string
	for _, ev := range r.Events() {
		if ev.Name == name {
			out = append(out, ev.Stage)
		}
	}
	return out
}
