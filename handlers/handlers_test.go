package handlers

import (
	"context"
	"sync"
	"testing"

	cv "github.com/glycerine/goconvey/convey"

	"github.com/glycerine/groupcert/certifier"
	"github.com/glycerine/groupcert/engine"
	"github.com/glycerine/groupcert/latch"
	"github.com/glycerine/groupcert/pipeline"
)

type fakeHost struct {
	engine.Host
	mu      sync.Mutex
	applied []engine.GID
	failOn  engine.GID
}

func (f *fakeHost) ApplyTransaction(ctx context.Context, gid engine.GID, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if gid == f.failOn {
		return context.DeadlineExceeded
	}
	f.applied = append(f.applied, gid)
	return nil
}

func buildPipeline(t *testing.T, localUUID string, host *fakeHost) (*pipeline.Pipeline, *certifier.Certifier, *latch.Latch) {
	cert := certifier.New()
	cert.Init(0, 0, "cluster-1")
	l := latch.New()
	var seen []pipeline.Role
	cat := NewCataloger(func(ev *pipeline.Event) { seen = append(seen, pipeline.RoleEventCataloger) })
	ch := NewCertifierHandler(localUUID, cert, l)
	sa := NewSQLApplyHandler(host, nil)
	pl, err := pipeline.New("test", cat, ch, sa)
	if err != nil {
		t.Fatal(err)
	}
	return pl, cert, l
}

func Test000_local_origin_ends_at_certifier_stage(t *testing.T) {
	cv.Convey("a local-origin transaction never reaches the apply handler", t, func() {
		host := &fakeHost{}
		pl, _, l := buildPipeline(t, "A", host)

		ticket, err := l.Register(42)
		cv.So(err, cv.ShouldBeNil)

		txn := &engine.TransactionEvent{OriginUUID: "A", ThreadID: 42, SnapshotVersion: 0, WriteSet: nil}
		cont := pl.Inject(&pipeline.Event{Kind: pipeline.KindTransactionContext, Txn: txn})
		res := cont.Wait()
		cv.So(res.Err, cv.ShouldBeNil)

		outcome := ticket.Wait()
		cv.So(outcome.Committed(), cv.ShouldBeTrue)
		cv.So(len(host.applied), cv.ShouldEqual, 0)
	})
}

func Test001_remote_positive_flows_through_to_apply(t *testing.T) {
	cv.Convey("a remote-origin positively certified transaction is applied", t, func() {
		host := &fakeHost{}
		pl, _, _ := buildPipeline(t, "A", host)

		txn := &engine.TransactionEvent{OriginUUID: "B", ThreadID: 7, Body: []byte("payload")}
		cont := pl.Inject(&pipeline.Event{Kind: pipeline.KindTransactionContext, Txn: txn})
		cv.So(cont.Wait().Err, cv.ShouldBeNil)

		cont2 := pl.Inject(&pipeline.Event{Kind: pipeline.KindGIDLog})
		cv.So(cont2.Wait().Err, cv.ShouldBeNil)

		cv.So(len(host.applied), cv.ShouldEqual, 1)
		cv.So(host.applied[0].ClusterSID, cv.ShouldEqual, "cluster-1")
		cv.So(host.applied[0].GNO, cv.ShouldEqual, 1)
	})
}

func Test002_remote_negative_is_dropped_silently(t *testing.T) {
	cv.Convey("a remote transaction that conflicts is dropped before reaching apply", t, func() {
		host := &fakeHost{}
		pl, cert, _ := buildPipeline(t, "A", host)

		item := engine.WriteSetItem("row-1")
		_, err := cert.Certify(0, []engine.WriteSetItem{item})
		cv.So(err, cv.ShouldBeNil)

		txn := &engine.TransactionEvent{OriginUUID: "B", ThreadID: 9, SnapshotVersion: -1, WriteSet: []engine.WriteSetItem{item}}
		cont := pl.Inject(&pipeline.Event{Kind: pipeline.KindTransactionContext, Txn: txn})
		res := cont.Wait()
		cv.So(res.Dropped, cv.ShouldBeTrue)
		cv.So(len(host.applied), cv.ShouldEqual, 0)
	})
}

func Test003_view_change_attaches_certification_snapshot(t *testing.T) {
	cv.Convey("a VIEW_CHANGE event carries a certification snapshot when it reaches the tail", t, func() {
		host := &fakeHost{}
		pl, _, _ := buildPipeline(t, "A", host)

		ev := &pipeline.Event{Kind: pipeline.KindViewChange, ViewID: "v1"}
		cont := pl.Inject(ev)
		cv.So(cont.Wait().Err, cv.ShouldBeNil)
		cv.So(ev.CertSnapshot, cv.ShouldNotBeNil)
		cv.So(ev.CertSnapshot.NextSeqno, cv.ShouldEqual, 1)
	})
}

func Test004_apply_failure_surfaces_as_error(t *testing.T) {
	cv.Convey("an apply-time error propagates back through the continuation", t, func() {
		failGID := engine.GID{ClusterSID: "cluster-1", GNO: 1}
		host := &fakeHost{failOn: failGID}
		pl, _, _ := buildPipeline(t, "A", host)

		txn := &engine.TransactionEvent{OriginUUID: "B", ThreadID: 11, Body: []byte("x")}
		cont := pl.Inject(&pipeline.Event{Kind: pipeline.KindTransactionContext, Txn: txn})
		cv.So(cont.Wait().Err, cv.ShouldBeNil)

		cont2 := pl.Inject(&pipeline.Event{Kind: pipeline.KindGIDLog})
		cv.So(cont2.Wait().Err, cv.ShouldNotBeNil)
	})
}
