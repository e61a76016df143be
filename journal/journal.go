// Package journal records what the VM did to render continuations, pass by
// pass, and stores those records.
package journal

import (
	"fmt"

	"github.com/chazu/listvm/vm"
)

// EventKind classifies a reconciliation event.
type EventKind uint8

const (
	EventCreate EventKind = iota + 1
	EventUpdate
	EventMove
	EventTeardown
)

func (k EventKind) String() string {
	switch k {
	case EventCreate:
		return "create"
	case EventUpdate:
		return "update"
	case EventMove:
		return "move"
	case EventTeardown:
		return "teardown"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
}

// Event is one operation on one key of one loop site.
type Event struct {
	Kind EventKind `cbor:"1,keyasint"`
	Site string    `cbor:"2,keyasint"`
	Key  string    `cbor:"3,keyasint"`
}

func (e Event) String() string {
	return fmt.Sprintf("%s %s %q", e.Kind, e.Site, e.Key)
}

// SiteStats is the reconciliation summary of one loop site.
type SiteStats struct {
	Site     string   `cbor:"1,keyasint"`
	Created  int      `cbor:"2,keyasint,omitempty"`
	Updated  int      `cbor:"3,keyasint,omitempty"`
	Moved    int      `cbor:"4,keyasint,omitempty"`
	TornDown int      `cbor:"5,keyasint,omitempty"`
	Keys     []string `cbor:"6,keyasint,omitempty"`
}

// Pass is everything recorded during one render pass.
type Pass struct {
	Seq    int         `cbor:"1,keyasint"`
	Events []Event     `cbor:"2,keyasint,omitempty"`
	Sites  []SiteStats `cbor:"3,keyasint,omitempty"`
	Error  string      `cbor:"4,keyasint,omitempty"` // set when the pass was abandoned
}

// Count returns how many events of kind the pass holds.
func (p *Pass) Count(kind EventKind) int {
	n := 0
	for _, e := range p.Events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Recorder is a vm.Observer that groups events into passes. Events are
// kept in the order the VM issued them; move events are added when their
// loop closes.
type Recorder struct {
	passes []*Pass
	cur    *Pass
}

var _ vm.Observer = (*Recorder)(nil)

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// BeginPass starts collecting a new pass.
func (r *Recorder) BeginPass() {
	r.cur = &Pass{Seq: len(r.passes) + 1}
	r.passes = append(r.passes, r.cur)
}

// EndPass finishes the current pass, noting err if the pass failed.
func (r *Recorder) EndPass(err error) *Pass {
	p := r.pass()
	if err != nil {
		p.Error = err.Error()
	}
	r.cur = nil
	return p
}

// Passes returns every pass recorded so far.
func (r *Recorder) Passes() []*Pass {
	return r.passes
}

func (r *Recorder) pass() *Pass {
	if r.cur == nil {
		r.BeginPass()
	}
	return r.cur
}

func (r *Recorder) add(kind EventKind, site vm.Site, key string) {
	p := r.pass()
	p.Events = append(p.Events, Event{Kind: kind, Site: site.String(), Key: key})
}

func (r *Recorder) OnCreate(site vm.Site, key string)   { r.add(EventCreate, site, key) }
func (r *Recorder) OnUpdate(site vm.Site, key string)   { r.add(EventUpdate, site, key) }
func (r *Recorder) OnTeardown(site vm.Site, key string) { r.add(EventTeardown, site, key) }

func (r *Recorder) OnReconcile(site vm.Site, stats vm.ReconcileStats) {
	for _, key := range stats.MovedKeys {
		r.add(EventMove, site, key)
	}
	p := r.pass()
	p.Sites = append(p.Sites, SiteStats{
		Site:     site.String(),
		Created:  stats.Created,
		Updated:  stats.Updated,
		Moved:    stats.Moved,
		TornDown: stats.TornDown,
		Keys:     append([]string(nil), stats.Keys...),
	})
}
