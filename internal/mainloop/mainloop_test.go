package mainloop

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestTimerFiresAndReschedules(t *testing.T) {
	l := New(2 * time.Millisecond)
	var count int32

	l.AddTimer(0, 5*time.Millisecond, nil, func(any) bool {
		n := atomic.AddInt32(&count, 1)
		return n < 3
	})

	done := make(chan ExitCode, 1)
	go func() { done <- l.Run() }()

	time.Sleep(40 * time.Millisecond)
	l.Quit(ExitGeneral)

	code := <-done
	if code != ExitGeneral {
		t.Fatalf("exit code = %v, want ExitGeneral", code)
	}
	if atomic.LoadInt32(&count) != 3 {
		t.Fatalf("timer fired %d times, want 3", count)
	}
}

func TestPostedWorkRunsOnLoop(t *testing.T) {
	l := New(2 * time.Millisecond)
	result := make(chan int, 1)

	l.PostWork(func(arg any) { result <- arg.(int) * 2 }, 21)

	done := make(chan ExitCode, 1)
	go func() { done <- l.Run() }()

	select {
	case v := <-result:
		if v != 42 {
			t.Fatalf("got %d, want 42", v)
		}
	case <-time.After(time.Second):
		t.Fatal("posted work never ran")
	}
	l.Quit(ExitNone)
	<-done
}

func TestWaitForWorkDrainBlocksUntilQueueProcessed(t *testing.T) {
	l := New(2 * time.Millisecond)
	var ran int32
	l.PostWork(func(any) { atomic.StoreInt32(&ran, 1) }, nil)

	done := make(chan ExitCode, 1)
	go func() { done <- l.Run() }()

	l.WaitForWorkDrain()
	if atomic.LoadInt32(&ran) != 1 {
		t.Fatalf("expected posted work to have run before WaitForWorkDrain returned")
	}
	l.Quit(ExitNone)
	<-done
}

func TestQuitIsIdempotentToFirstExitCode(t *testing.T) {
	l := New(2 * time.Millisecond)
	done := make(chan ExitCode, 1)
	go func() { done <- l.Run() }()

	l.Quit(ExitRecycle)
	l.Quit(ExitGeneral)

	if code := <-done; code != ExitRecycle {
		t.Fatalf("exit code = %v, want ExitRecycle (first Quit wins)", code)
	}
}
