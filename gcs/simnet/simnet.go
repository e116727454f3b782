// Package simnet is the one concrete gcs.Service this module ships: a
// deterministic, single-process broadcast fabric used by tests and by
// cmd/groupcertctl's standalone demo mode.
//
// It is grounded on the teacher's own test-network simulator -- the
// channel-only communication discipline documented at the top of
// simnet_api.go ("must never touch anything internal to simnet (else
// data races); communicate over channels only") and the multi-node
// join/leave/broadcast choreography exercised by tube/synctest.go and
// tube/crosstalk_test.go. simnet here is a much smaller instance of the
// same idea: no simulated clock, no fault injection, just total order
// and deterministic view delivery, which is all the certification
// pipeline's own tests need from a GCS.
package simnet

import (
	"context"
	"fmt"
	"sync"

	"github.com/glycerine/idem"

	"github.com/glycerine/groupcert/gcs"
	"github.com/glycerine/groupcert/groupqueue"
)

// mail is one item destined for a single member's delivery goroutine:
// either a broadcast payload or a freshly installed view. Modeling both
// as the one queue element keeps per-member delivery order consistent
// with the order the Hub decided, the same role ticketpq.go's pqueue
// plays for tube's apply loop.
type mail struct {
	isView bool
	view   gcs.View

	payloadType PayloadType
	payload     []byte
	sender      string
}

// PayloadType is a local alias so this file reads standalone; it is
// always gcs.PayloadType underneath.
type PayloadType = gcs.PayloadType

// Hub is the shared fabric a test wires every simulated node's Service
// through. All Joins against the same Hub see each other's broadcasts
// and view changes. The zero value is not usable; use NewHub.
type Hub struct {
	mu       sync.Mutex
	group    string
	rosters  map[string]*member
	order    []string
	viewSeq  int
}

type member struct {
	uuid string
	host string
	port int
	role gcs.MemberRole
	cb   gcs.Callbacks

	mailbox *groupqueue.Queue[mail]
	halt    *idem.Halter
}

// NewHub returns an empty fabric for one replication group. The group
// name is fixed at Join time, by whichever Service joins first.
func NewHub() *Hub {
	return &Hub{rosters: make(map[string]*member)}
}

// Service is one node's handle onto a Hub: it implements gcs.Service,
// and is what plugin.Controller's OnMessage/OnView/OnExchangedData end
// up being driven by in this module's own tests.
type Service struct {
	hub  *Hub
	uuid string
	host string
	port int
	role gcs.MemberRole

	mu     sync.Mutex
	joined bool
}

// NewService returns a Service bound to uuid, to be Joined against hub.
// host/port/role are carried into the gcs.Member entries this Service
// contributes to every installed view.
func NewService(hub *Hub, uuid, host string, port int, role gcs.MemberRole) *Service {
	return &Service{hub: hub, uuid: uuid, host: host, port: port, role: role}
}

// Join registers cb and installs a new view across every member
// currently in the hub, including the new one. The hub's group is fixed
// by whichever Service joins it first; a later Join with a different
// group name returns an error.
func (s *Service) Join(ctx context.Context, group string, cb gcs.Callbacks) error {
	s.mu.Lock()
	if s.joined {
		s.mu.Unlock()
		return fmt.Errorf("simnet: %s already joined", s.uuid)
	}
	s.joined = true
	s.mu.Unlock()

	h := s.hub
	h.mu.Lock()
	if h.group == "" {
		h.group = group
	} else if h.group != group {
		h.mu.Unlock()
		return fmt.Errorf("simnet: group mismatch: hub has %q, joiner wants %q", h.group, group)
	}
	if _, dup := h.rosters[s.uuid]; dup {
		h.mu.Unlock()
		return fmt.Errorf("simnet: uuid %s already a member", s.uuid)
	}

	m := &member{
		uuid:    s.uuid,
		host:    s.host,
		port:    s.port,
		role:    s.role,
		cb:      cb,
		mailbox: groupqueue.New[mail](),
		halt:    idem.NewHalter(),
	}
	h.rosters[s.uuid] = m
	h.order = append(h.order, s.uuid)
	view := h.buildViewLocked()
	h.mu.Unlock()

	go m.run()
	h.deliverView(view)
	return nil
}

// Leave departs the hub and stops this member's delivery goroutine. A
// fresh view, excluding the departed member, is installed on everyone
// still joined. Idempotent.
func (s *Service) Leave(ctx context.Context) error {
	s.mu.Lock()
	if !s.joined {
		s.mu.Unlock()
		return nil
	}
	s.joined = false
	s.mu.Unlock()

	h := s.hub
	h.mu.Lock()
	m, ok := h.rosters[s.uuid]
	if !ok {
		h.mu.Unlock()
		return nil
	}
	delete(h.rosters, s.uuid)
	for i, u := range h.order {
		if u == s.uuid {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	view := h.buildViewLocked()
	h.mu.Unlock()

	m.mailbox.Close()
	m.halt.ReqStop.Close()
	<-m.halt.Done.Chan

	h.deliverView(view)
	return nil
}

// Broadcast totally orders payload against the hub's mutex and fans it
// out to every member's mailbox, including the sender's own -- mirroring
// gcs.Service.Broadcast's documented self-delivery.
func (s *Service) Broadcast(ctx context.Context, payloadType gcs.PayloadType, payload []byte) error {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rosters[s.uuid]; !ok {
		return fmt.Errorf("simnet: %s broadcast after leaving", s.uuid)
	}
	// Held for the whole fan-out, not just the roster read: two
	// concurrent broadcasts pushing into the same mailboxes in different
	// relative order would give each member a different total order.
	item := mail{payloadType: payloadType, payload: payload, sender: s.uuid}
	for _, u := range h.order {
		h.rosters[u].mailbox.Push(item)
	}
	return nil
}

// CurrentView returns the hub's most recently installed view, with
// LocalIdx set to this Service's own entry (-1 if it is not a member).
func (s *Service) CurrentView() (gcs.View, bool) {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.rosters) == 0 {
		return gcs.View{}, false
	}
	v := gcs.View{ID: fmt.Sprintf("%s-v%d", h.group, h.viewSeq), LocalIdx: -1}
	for i, u := range h.order {
		m := h.rosters[u]
		if u == s.uuid {
			v.LocalIdx = i
		}
		v.Members = append(v.Members, gcs.Member{UUID: m.uuid, Host: m.host, Port: m.port, Role: m.role})
	}
	return v, true
}

// buildViewLocked assembles the current membership list in join order.
// h.mu must be held.
func (h *Hub) buildViewLocked() gcs.View {
	h.viewSeq++
	v := gcs.View{ID: fmt.Sprintf("%s-v%d", h.group, h.viewSeq)}
	for _, u := range h.order {
		m := h.rosters[u]
		v.Members = append(v.Members, gcs.Member{UUID: m.uuid, Host: m.host, Port: m.port, Role: m.role})
	}
	return v
}

// deliverView pushes view to every currently joined member, tagging
// each recipient's LocalIdx so Controller.OnView's view.Local() resolves
// correctly -- every joined member sees the same Members slice but a
// different LocalIdx.
func (h *Hub) deliverView(view gcs.View) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, u := range h.order {
		local := view
		local.LocalIdx = i
		h.rosters[u].mailbox.Push(mail{isView: true, view: local})
	}
}

// run is m's delivery goroutine: it drains the mailbox strictly in
// arrival order and invokes the registered Callbacks, the same
// single-consumer discipline applier.run uses against its own queue.
func (m *member) run() {
	defer m.halt.Done.Close()
	for {
		item, ok := m.mailbox.Pop()
		if !ok {
			return
		}
		if item.isView {
			m.cb.OnView(item.view)
			continue
		}
		m.cb.OnMessage(item.payloadType, item.payload, item.sender)
	}
}
