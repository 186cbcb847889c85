package device

import (
	"testing"
	"time"
)

type countingWaker struct {
	woken chan struct{}
}

func newCountingWaker() *countingWaker { return &countingWaker{woken: make(chan struct{}, 8)} }
func (w *countingWaker) Wake()         { w.woken <- struct{}{} }

func TestStartStopJoinsCleanly(t *testing.T) {
	var w Worker
	started := make(chan struct{})
	w.Start(func(stop <-chan struct{}) {
		close(started)
		<-stop
	})
	<-started
	if !w.Stop(nil) {
		t.Fatal("expected clean join within grace period")
	}
}

func TestStopWakesBlockedWorker(t *testing.T) {
	var w Worker
	waker := newCountingWaker()
	started := make(chan struct{})
	w.Start(func(stop <-chan struct{}) {
		close(started)
		<-stop
	})
	<-started
	if !w.Stop(waker) {
		t.Fatal("expected clean join")
	}
	select {
	case <-waker.woken:
	default:
		t.Fatal("Stop should have called Wake on the provided waker")
	}
}

func TestStopOnNeverStartedWorkerIsSafe(t *testing.T) {
	var w Worker
	if !w.Stop(nil) {
		t.Fatal("Stop on a never-started Worker should report success immediately")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	var w Worker
	started := make(chan struct{})
	w.Start(func(stop <-chan struct{}) {
		close(started)
		<-stop
	})
	<-started
	if !w.Stop(nil) {
		t.Fatal("first Stop should join cleanly")
	}
	if !w.Stop(nil) {
		t.Fatal("second Stop call must not block or fail")
	}
}

func TestStopTimesOutOnHungWorker(t *testing.T) {
	orig := stopGrace
	stopGrace = 50 * time.Millisecond
	defer func() { stopGrace = orig }()

	var w Worker
	started := make(chan struct{})
	release := make(chan struct{})
	w.Start(func(stop <-chan struct{}) {
		close(started)
		<-release // never closed during this test, ignores stop
	})
	<-started
	if w.Stop(nil) {
		t.Fatal("expected Stop to report a timed-out join")
	}
	close(release)
}
