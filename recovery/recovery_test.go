package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	cv "github.com/glycerine/goconvey/convey"

	"github.com/glycerine/groupcert/applier"
	"github.com/glycerine/groupcert/certdb"
	"github.com/glycerine/groupcert/engine"
	"github.com/glycerine/groupcert/gcs"
	"github.com/glycerine/groupcert/member"
	"github.com/glycerine/groupcert/pipeline"
)

type passHandler struct{}

func (passHandler) Role() pipeline.Role { return pipeline.RoleApplier }
func (passHandler) IsUnique() bool      { return true }
func (passHandler) HandleEvent(ev *pipeline.Event, next *pipeline.Chain, cont *pipeline.Continuation) {
	next.Next(ev, cont)
}
func (passHandler) HandleAction(a pipeline.Action, next *pipeline.Chain) error {
	return next.NextAction(a)
}

func newTestApplier(t *testing.T) *applier.Applier {
	pl, err := pipeline.New("test", passHandler{})
	if err != nil {
		t.Fatal(err)
	}
	a := applier.New(pl)
	a.Start()
	return a
}

type fakeHost struct {
	engine.Host
	mu        sync.Mutex
	connected int
	failHosts map[string]bool
}

func (f *fakeHost) InitializeRepositories(ctx context.Context, name string, index int) error {
	return nil
}
func (f *fakeHost) InitializeConnectionParameters(ctx context.Context, host string, port int, user, password string, ssl bool, hb float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failHosts[host] {
		return errConnFail
	}
	f.connected++
	return nil
}
func (f *fakeHost) InitializeViewIDUntilCondition(ctx context.Context, viewID string) error {
	return nil
}
func (f *fakeHost) StartReplicationThreads(ctx context.Context, mask int, wait bool) error {
	return nil
}

var errConnFail = errors.New("connect failed")

type fakeSvc struct {
	gcs.Service
	mu         sync.Mutex
	broadcasts int
	lastUUID   string
	left       bool
}

func (f *fakeSvc) Broadcast(ctx context.Context, pt gcs.PayloadType, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts++
	uuid, err := DecodeRecoveryEnd(payload)
	if err == nil {
		f.lastUUID = uuid
	}
	return nil
}

func (f *fakeSvc) Leave(ctx context.Context) error {
	f.mu.Lock()
	f.left = true
	f.mu.Unlock()
	return nil
}

type fakeInstaller struct {
	mu   sync.Mutex
	snap certdb.Snapshot
	n    int
}

func (f *fakeInstaller) SetCertificationInfo(s certdb.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = s
	f.n++
}

func newRegistry(local string, members ...gcs.Member) *member.Registry {
	r := member.New(local)
	r.InstallView(gcs.View{ID: "v1", Members: members})
	return r
}

func Test000_happy_path_reaches_online(t *testing.T) {
	cv.Convey("a full recovery cycle installs the snapshot and announces online", t, func() {
		a := newTestApplier(t)
		reg := newRegistry("C", gcs.Member{UUID: "A"}, gcs.Member{UUID: "B"}, gcs.Member{UUID: "C"})
		reg.SetStatus("A", member.StatusOnline)
		inst := &fakeInstaller{}
		svc := &fakeSvc{}
		host := &fakeHost{failHosts: map[string]bool{}}

		rec := New(Config{LocalUUID: "C", DrainPollInterval: 5 * time.Millisecond}, a, reg, inst, svc, host)

		errCh := make(chan error, 1)
		go func() { errCh <- rec.Run(context.Background(), "v2") }()

		time.Sleep(20 * time.Millisecond)
		cv.So(rec.State(), cv.ShouldEqual, StateStreaming)
		rec.DeliverSnapshot(certdb.Snapshot{NextSeqno: 5})

		err := <-errCh
		cv.So(err, cv.ShouldBeNil)
		cv.So(rec.State(), cv.ShouldEqual, StateIdle)
		cv.So(inst.n, cv.ShouldEqual, 1)
		cv.So(svc.broadcasts, cv.ShouldEqual, 1)
		cv.So(svc.lastUUID, cv.ShouldEqual, "C")
		cv.So(reg.StatusOf("C"), cv.ShouldEqual, member.StatusOnline)
	})
}

func Test001_no_eligible_donor_aborts(t *testing.T) {
	cv.Convey("recovery aborts and leaves the group when no donor qualifies", t, func() {
		a := newTestApplier(t)
		reg := newRegistry("C", gcs.Member{UUID: "C"})
		inst := &fakeInstaller{}
		svc := &fakeSvc{}
		host := &fakeHost{}

		rec := New(Config{LocalUUID: "C"}, a, reg, inst, svc, host)
		err := rec.Run(context.Background(), "v2")
		cv.So(err, cv.ShouldNotBeNil)
		cv.So(rec.State(), cv.ShouldEqual, StateAbort)
		cv.So(svc.left, cv.ShouldBeTrue)
	})
}

func Test002_recovery_end_wire_format_round_trips(t *testing.T) {
	cv.Convey("EncodeRecoveryEnd/DecodeRecoveryEnd round-trip a uuid", t, func() {
		msg := EncodeRecoveryEnd("joiner-uuid-1234")
		got, err := DecodeRecoveryEnd(msg)
		cv.So(err, cv.ShouldBeNil)
		cv.So(got, cv.ShouldEqual, "joiner-uuid-1234")
	})
}

func Test003_donor_leaving_triggers_failover(t *testing.T) {
	cv.Convey("a donor leaving mid-stream routes back through select-donor", t, func() {
		a := newTestApplier(t)
		reg := newRegistry("C", gcs.Member{UUID: "A"}, gcs.Member{UUID: "B"}, gcs.Member{UUID: "C"})
		reg.SetStatus("A", member.StatusOnline)
		reg.SetStatus("B", member.StatusOnline)
		inst := &fakeInstaller{}
		svc := &fakeSvc{}
		host := &fakeHost{failHosts: map[string]bool{}}

		rec := New(Config{LocalUUID: "C", DrainPollInterval: 5 * time.Millisecond}, a, reg, inst, svc, host)

		errCh := make(chan error, 1)
		go func() { errCh <- rec.Run(context.Background(), "v2") }()

		time.Sleep(15 * time.Millisecond)
		cv.So(rec.State(), cv.ShouldEqual, StateStreaming)
		firstDonor := rec.CurrentDonor()
		rec.DonorLeft(firstDonor)

		time.Sleep(15 * time.Millisecond)
		cv.So(rec.State(), cv.ShouldEqual, StateStreaming)
		cv.So(rec.CurrentDonor(), cv.ShouldNotEqual, firstDonor)

		rec.DeliverSnapshot(certdb.Snapshot{NextSeqno: 1})
		err := <-errCh
		cv.So(err, cv.ShouldBeNil)
	})
}
