package simnet

import (
	"context"
	"sync"
	"testing"
	"time"

	cv "github.com/glycerine/goconvey/convey"

	"github.com/glycerine/groupcert/gcs"
)

type recorder struct {
	mu       sync.Mutex
	views    []gcs.View
	messages []string
}

func (r *recorder) OnMessage(pt gcs.PayloadType, payload []byte, sender string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, sender+":"+string(payload))
}
func (r *recorder) OnView(v gcs.View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = append(r.views, v)
}
func (r *recorder) OnExchangedData(map[string][]byte) {}

func (r *recorder) lastView() (gcs.View, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.views) == 0 {
		return gcs.View{}, false
	}
	return r.views[len(r.views)-1], true
}

func (r *recorder) messageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func Test000_join_installs_a_view_on_every_member(t *testing.T) {
	cv.Convey("joining a second member installs a fresh view on both", t, func() {
		hub := NewHub()
		recA, recB := &recorder{}, &recorder{}
		a := NewService(hub, "A", "h1", 1, gcs.RolePrimary)
		b := NewService(hub, "B", "h2", 2, gcs.RoleSecondary)

		cv.So(a.Join(context.Background(), "g1", recA), cv.ShouldBeNil)
		cv.So(b.Join(context.Background(), "g1", recB), cv.ShouldBeNil)

		time.Sleep(20 * time.Millisecond)
		va, ok := recA.lastView()
		cv.So(ok, cv.ShouldBeTrue)
		cv.So(len(va.Members), cv.ShouldEqual, 2)
		vb, ok := recB.lastView()
		cv.So(ok, cv.ShouldBeTrue)
		cv.So(len(vb.Members), cv.ShouldEqual, 2)
	})
}

func Test001_broadcast_delivers_to_every_member_including_sender(t *testing.T) {
	cv.Convey("a broadcast from A is delivered to both A and B", t, func() {
		hub := NewHub()
		recA, recB := &recorder{}, &recorder{}
		a := NewService(hub, "A", "h1", 1, gcs.RolePrimary)
		b := NewService(hub, "B", "h2", 2, gcs.RoleSecondary)
		cv.So(a.Join(context.Background(), "g1", recA), cv.ShouldBeNil)
		cv.So(b.Join(context.Background(), "g1", recB), cv.ShouldBeNil)

		cv.So(a.Broadcast(context.Background(), gcs.PayloadTransaction, []byte("x")), cv.ShouldBeNil)

		time.Sleep(20 * time.Millisecond)
		cv.So(recA.messageCount(), cv.ShouldEqual, 1)
		cv.So(recB.messageCount(), cv.ShouldEqual, 1)
	})
}

func Test002_leave_installs_a_view_without_the_departed_member(t *testing.T) {
	cv.Convey("B leaving drops it from A's next view", t, func() {
		hub := NewHub()
		recA, recB := &recorder{}, &recorder{}
		a := NewService(hub, "A", "h1", 1, gcs.RolePrimary)
		b := NewService(hub, "B", "h2", 2, gcs.RoleSecondary)
		cv.So(a.Join(context.Background(), "g1", recA), cv.ShouldBeNil)
		cv.So(b.Join(context.Background(), "g1", recB), cv.ShouldBeNil)

		cv.So(b.Leave(context.Background()), cv.ShouldBeNil)
		time.Sleep(20 * time.Millisecond)

		va, ok := recA.lastView()
		cv.So(ok, cv.ShouldBeTrue)
		cv.So(len(va.Members), cv.ShouldEqual, 1)
		cv.So(va.Members[0].UUID, cv.ShouldEqual, "A")

		cv.So(b.Leave(context.Background()), cv.ShouldBeNil)
	})
}

func Test003_current_view_reflects_local_index(t *testing.T) {
	cv.Convey("CurrentView resolves Local() to the caller's own membership entry", t, func() {
		hub := NewHub()
		recA, recB := &recorder{}, &recorder{}
		a := NewService(hub, "A", "h1", 1, gcs.RolePrimary)
		b := NewService(hub, "B", "h2", 2, gcs.RoleSecondary)
		cv.So(a.Join(context.Background(), "g1", recA), cv.ShouldBeNil)
		cv.So(b.Join(context.Background(), "g1", recB), cv.ShouldBeNil)

		view, ok := b.CurrentView()
		cv.So(ok, cv.ShouldBeTrue)
		cv.So(len(view.Members), cv.ShouldEqual, 2)
		local, ok := view.Local()
		cv.So(ok, cv.ShouldBeTrue)
		cv.So(local.UUID, cv.ShouldEqual, "B")
	})
}

func Test004_broadcast_after_leave_is_an_error(t *testing.T) {
	cv.Convey("a departed member cannot broadcast", t, func() {
		hub := NewHub()
		rec := &recorder{}
		a := NewService(hub, "A", "h1", 1, gcs.RolePrimary)
		cv.So(a.Join(context.Background(), "g1", rec), cv.ShouldBeNil)
		cv.So(a.Leave(context.Background()), cv.ShouldBeNil)

		err := a.Broadcast(context.Background(), gcs.PayloadTransaction, []byte("x"))
		cv.So(err, cv.ShouldNotBeNil)
	})
}
