// Package handlers implements the concrete pipeline stages of spec.md
// section 4.5: the event cataloger, the certifier handler, and the SQL
// apply handler, each satisfying pipeline.Handler.
package handlers

import (
	"github.com/glycerine/groupcert/pipeline"
)

// CatalogFunc is called once per event the cataloger sees, before it
// forwards. It exists so a host can wire in its own bookkeeping (e.g.
// counters, tracing) without the cataloger needing to know about it.
type CatalogFunc func(ev *pipeline.Event)

// Cataloger is the EVENT_CATALOGER pipeline stage: it records that an
// event passed through -- the teacher's binlog event stream keeps a
// similar head-of-pipeline tally -- and always forwards unchanged.
type Cataloger struct {
	onEvent CatalogFunc
}

// NewCataloger returns a Cataloger. onEvent may be nil.
func NewCataloger(onEvent CatalogFunc) *Cataloger {
	return &Cataloger{onEvent: onEvent}
}

func (c *Cataloger) Role() pipeline.Role { return pipeline.RoleEventCataloger }
func (c *Cataloger) IsUnique() bool      { return true }

func (c *Cataloger) HandleEvent(ev *pipeline.Event, next *pipeline.Chain, cont *pipeline.Continuation) {
	if c.onEvent != nil {
		c.onEvent(ev)
	}
	next.Next(ev, cont)
}

func (c *Cataloger) HandleAction(a pipeline.Action, next *pipeline.Chain) error {
	return next.NextAction(a)
}
