package pipeline

import (
	"testing"

	cv "github.com/glycerine/goconvey/convey"
)

// passHandler always forwards.
type passHandler struct {
	role   Role
	unique bool
	seen   *[]Role
}

func (h *passHandler) Role() Role     { return h.role }
func (h *passHandler) IsUnique() bool { return h.unique }
func (h *passHandler) HandleEvent(ev *Event, next *Chain, cont *Continuation) {
	*h.seen = append(*h.seen, h.role)
	next.Next(ev, cont)
}
func (h *passHandler) HandleAction(a Action, next *Chain) error {
	return next.NextAction(a)
}

// stopHandler ends the traversal locally.
type stopHandler struct {
	role   Role
	result Result
}

func (h *stopHandler) Role() Role     { return h.role }
func (h *stopHandler) IsUnique() bool { return true }
func (h *stopHandler) HandleEvent(ev *Event, next *Chain, cont *Continuation) {
	cont.Signal(h.result)
}
func (h *stopHandler) HandleAction(a Action, next *Chain) error { return nil }

func Test000_duplicate_unique_role_is_fatal(t *testing.T) {
	cv.Convey("constructing a pipeline with two unique handlers of the same role fails", t, func() {
		var seen []Role
		a := &passHandler{role: RoleEventCataloger, unique: true, seen: &seen}
		b := &passHandler{role: RoleEventCataloger, unique: true, seen: &seen}
		_, err := New("dup", a, b)
		cv.So(err, cv.ShouldNotBeNil)
	})
}

func Test001_non_unique_duplicate_roles_are_fine(t *testing.T) {
	cv.Convey("non-unique handlers may repeat a role", t, func() {
		var seen []Role
		a := &passHandler{role: RoleEventCataloger, unique: false, seen: &seen}
		b := &passHandler{role: RoleEventCataloger, unique: false, seen: &seen}
		_, err := New("ok", a, b)
		cv.So(err, cv.ShouldBeNil)
	})
}

func Test002_events_forward_in_order(t *testing.T) {
	cv.Convey("an event traverses handlers head to tail until one stops it", t, func() {
		var seen []Role
		a := &passHandler{role: RoleEventCataloger, unique: true, seen: &seen}
		b := &stopHandler{role: RoleCertifier, result: Result{}}
		p, err := New("chain", a, b)
		cv.So(err, cv.ShouldBeNil)

		cont := p.Inject(&Event{Kind: KindPassthrough})
		res := cont.Wait()
		cv.So(res.Err, cv.ShouldBeNil)
		cv.So(seen, cv.ShouldResemble, []Role{RoleEventCataloger})
	})
}

func Test003_falling_off_the_end_signals_done(t *testing.T) {
	cv.Convey("an event with no interested handler still completes", t, func() {
		var seen []Role
		a := &passHandler{role: RoleEventCataloger, unique: true, seen: &seen}
		p, err := New("tail", a)
		cv.So(err, cv.ShouldBeNil)

		cont := p.Inject(&Event{Kind: KindPassthrough})
		res := cont.Wait()
		cv.So(res.Err, cv.ShouldBeNil)
	})
}

func Test004_exactly_one_signal_per_traversal(t *testing.T) {
	cv.Convey("wait observes the first and only signal", t, func() {
		want := Result{Dropped: true}
		h := &stopHandler{role: RoleCertifier, result: want}
		p, err := New("single", h)
		cv.So(err, cv.ShouldBeNil)

		cont := p.Inject(&Event{Kind: KindTransactionContext})
		cv.So(cont.Wait().Dropped, cv.ShouldBeTrue)
		// waiting again must still observe the same delivered result.
		cv.So(cont.Wait().Dropped, cv.ShouldBeTrue)
	})
}
