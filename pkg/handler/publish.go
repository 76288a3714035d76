package handler

import (
	"context"

	"turboprint/pkg/turboprint"
)

// Event is a record together with its rendered line, as pushed to viewers.
type Event struct {
	Record turboprint.Record
	Text   string
}

// Publisher receives events. Publish must not block; slow consumers are
// expected to drop rather than stall the logging call.
type Publisher interface {
	Publish(ev Event)
}

// Publish forwards records to a Publisher, such as the real-time viewer bus.
type Publish struct {
	Base
	pub Publisher
}

func NewPublish(pub Publisher, opts ...Option) *Publish {
	return &Publish{Base: newBase(buildOptions(opts)), pub: pub}
}

func (p *Publish) Handle(_ context.Context, rec turboprint.Record) error {
	if p.pub == nil || !p.Allow(rec) {
		return nil
	}
	p.pub.Publish(Event{Record: rec, Text: p.Format(rec)})
	return nil
}
