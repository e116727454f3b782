package groupqueue

import (
	"testing"
	"time"

	cv "github.com/glycerine/goconvey/convey"
)

func Test000_push_pop_order(t *testing.T) {
	cv.Convey("push then pop preserves FIFO order", t, func() {
		q := New[int]()
		for i := 0; i < 5; i++ {
			q.Push(i)
		}
		cv.So(q.Size(), cv.ShouldEqual, 5)
		for i := 0; i < 5; i++ {
			v, ok := q.Pop()
			cv.So(ok, cv.ShouldBeTrue)
			cv.So(v, cv.ShouldEqual, i)
		}
		cv.So(q.Empty(), cv.ShouldBeTrue)
	})
}

func Test001_pop_blocks_until_push(t *testing.T) {
	cv.Convey("pop on an empty queue blocks until a push arrives", t, func() {
		q := New[string]()
		done := make(chan string, 1)
		go func() {
			v, ok := q.Pop()
			if ok {
				done <- v
			} else {
				done <- ""
			}
		}()

		select {
		case <-done:
			t.Fatal("pop returned before any push")
		case <-time.After(20 * time.Millisecond):
		}

		q.Push("SENTINEL")
		select {
		case v := <-done:
			cv.So(v, cv.ShouldEqual, "SENTINEL")
		case <-time.After(time.Second):
			t.Fatal("pop never unblocked after push")
		}
	})
}

func Test002_close_unblocks_pop(t *testing.T) {
	cv.Convey("closing the queue unblocks a pending pop", t, func() {
		q := New[int]()
		done := make(chan bool, 1)
		go func() {
			_, ok := q.Pop()
			done <- ok
		}()
		time.Sleep(10 * time.Millisecond)
		q.Close()
		select {
		case ok := <-done:
			cv.So(ok, cv.ShouldBeFalse)
		case <-time.After(time.Second):
			t.Fatal("pop never unblocked after close")
		}
	})
}

func Test003_close_drains_queued_items_first(t *testing.T) {
	cv.Convey("queued items survive a close and are popped before ok=false", t, func() {
		q := New[int]()
		q.Push(1)
		q.Push(2)
		q.Close()

		v, ok := q.Pop()
		cv.So(ok, cv.ShouldBeTrue)
		cv.So(v, cv.ShouldEqual, 1)

		v, ok = q.Pop()
		cv.So(ok, cv.ShouldBeTrue)
		cv.So(v, cv.ShouldEqual, 2)

		_, ok = q.Pop()
		cv.So(ok, cv.ShouldBeFalse)
	})
}
