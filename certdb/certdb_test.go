package certdb

import (
	"testing"

	cv "github.com/glycerine/goconvey/convey"

	"github.com/glycerine/groupcert/engine"
)

func Test000_get_set_roundtrip(t *testing.T) {
	cv.Convey("set then get returns the stored gno", t, func() {
		d := New()
		fp := FingerprintOf(engine.WriteSetItem("x"))
		_, ok := d.Get(fp)
		cv.So(ok, cv.ShouldBeFalse)

		d.Set(fp, 1)
		gno, ok := d.Get(fp)
		cv.So(ok, cv.ShouldBeTrue)
		cv.So(gno, cv.ShouldEqual, 1)
		cv.So(d.Len(), cv.ShouldEqual, 1)
	})
}

func Test001_fingerprint_is_content_addressed(t *testing.T) {
	cv.Convey("identical bytes hash identically, different bytes differ", t, func() {
		a := FingerprintOf(engine.WriteSetItem("x"))
		b := FingerprintOf(engine.WriteSetItem("x"))
		c := FingerprintOf(engine.WriteSetItem("y"))
		cv.So(a, cv.ShouldResemble, b)
		cv.So(a, cv.ShouldNotResemble, c)
	})
}

func Test002_garbage_collect_removes_stable_entries(t *testing.T) {
	cv.Convey("gc removes only entries whose gno is reported stable", t, func() {
		d := New()
		fpX := FingerprintOf(engine.WriteSetItem("x"))
		fpY := FingerprintOf(engine.WriteSetItem("y"))
		d.Set(fpX, 2)
		d.Set(fpY, 5)

		stable := map[int64]bool{2: true}
		removed := d.GarbageCollect(func(gno int64) bool { return stable[gno] })
		cv.So(removed, cv.ShouldEqual, 1)
		_, ok := d.Get(fpX)
		cv.So(ok, cv.ShouldBeFalse)
		gno, ok := d.Get(fpY)
		cv.So(ok, cv.ShouldBeTrue)
		cv.So(gno, cv.ShouldEqual, 5)
	})
}

func Test003_export_install_roundtrip(t *testing.T) {
	cv.Convey("encode then decode yields an identical mapping", t, func() {
		d := New()
		fp := FingerprintOf(engine.WriteSetItem("x"))
		d.Set(fp, 9)

		snap := d.Export(10)
		by, err := snap.Encode()
		cv.So(err, cv.ShouldBeNil)

		decoded, err := Decode(by)
		cv.So(err, cv.ShouldBeNil)
		cv.So(decoded.NextSeqno, cv.ShouldEqual, 10)

		d2 := New()
		d2.Install(decoded)
		gno, ok := d2.Get(fp)
		cv.So(ok, cv.ShouldBeTrue)
		cv.So(gno, cv.ShouldEqual, 9)
		cv.So(d2.Len(), cv.ShouldEqual, d.Len())
	})
}

func Test004_persisted_roundtrip(t *testing.T) {
	cv.Convey("EncodePersisted/DecodePersisted survive a zstd round trip", t, func() {
		d := New()
		fp := FingerprintOf(engine.WriteSetItem("x"))
		d.Set(fp, 9)
		snap := d.Export(10)

		compressed, err := EncodePersisted(snap)
		cv.So(err, cv.ShouldBeNil)
		cv.So(len(compressed), cv.ShouldBeGreaterThan, 0)

		decoded, err := DecodePersisted(compressed)
		cv.So(err, cv.ShouldBeNil)
		cv.So(decoded.NextSeqno, cv.ShouldEqual, 10)

		d2 := New()
		d2.Install(decoded)
		gno, ok := d2.Get(fp)
		cv.So(ok, cv.ShouldBeTrue)
		cv.So(gno, cv.ShouldEqual, 9)
	})
}
