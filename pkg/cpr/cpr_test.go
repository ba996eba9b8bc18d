package cpr_test

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/arzzra/callcontrol/pkg/cpr"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNilHandles(t *testing.T) {
	var m *cpr.Mutex
	var s *cpr.Signal
	var q *cpr.MsgQueue
	var th *cpr.Thread

	assert.ErrorIs(t, m.Lock(), cpr.ErrNilHandle)
	assert.ErrorIs(t, m.Unlock(), cpr.ErrNilHandle)
	assert.ErrorIs(t, m.Destroy(), cpr.ErrNilHandle)
	assert.ErrorIs(t, s.Signal(), cpr.ErrNilHandle)
	assert.ErrorIs(t, s.Destroy(), cpr.ErrNilHandle)
	assert.Zero(t, s.Waiters())
	assert.ErrorIs(t, cpr.TimedWait(nil, cpr.NewSignal("s"), time.Millisecond), cpr.ErrNilHandle)
	assert.ErrorIs(t, cpr.TimedWait(cpr.NewMutex("m"), nil, time.Millisecond), cpr.ErrNilHandle)
	assert.ErrorIs(t, q.Send(1, nil), cpr.ErrNilHandle)
	_, err := q.Receive(false)
	assert.ErrorIs(t, err, cpr.ErrNilHandle)
	assert.ErrorIs(t, q.Close(), cpr.ErrNilHandle)
	assert.ErrorIs(t, th.Destroy(time.Millisecond), cpr.ErrNilHandle)
	assert.Nil(t, th.Queue())

	_, err = cpr.CreateThread("nil-entry", nil, nil)
	assert.ErrorIs(t, err, cpr.ErrNilHandle)
}

func TestMutexMisuse(t *testing.T) {
	m := cpr.NewMutex("misuse")
	assert.ErrorIs(t, m.Unlock(), cpr.ErrNotLocked)

	require.NoError(t, m.Lock())
	assert.ErrorIs(t, m.Destroy(), cpr.ErrLocked)
	require.NoError(t, m.Unlock())

	require.NoError(t, m.Destroy())
	assert.ErrorIs(t, m.Lock(), cpr.ErrDestroyed)
	assert.ErrorIs(t, m.Destroy(), cpr.ErrDestroyed)
}

func TestMutexExclusion(t *testing.T) {
	m := cpr.NewMutex("counter")
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				_ = m.Lock()
				counter++
				_ = m.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 8000, counter)
}

func TestTimedWaitZeroTimeout(t *testing.T) {
	m := cpr.NewMutex("zero")
	s := cpr.NewSignal("zero")
	require.NoError(t, m.Lock())

	start := time.Now()
	err := cpr.TimedWait(m, s, 0)
	assert.ErrorIs(t, err, cpr.ErrTimeout)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Zero(t, s.Waiters())

	// мьютекс снова захвачен вызывающим
	assert.NoError(t, m.Unlock())
}

func TestTimedWaitRequiresLockedMutex(t *testing.T) {
	m := cpr.NewMutex("unlocked")
	s := cpr.NewSignal("unlocked")
	assert.ErrorIs(t, cpr.TimedWait(m, s, time.Millisecond), cpr.ErrNotLocked)
	assert.Zero(t, s.Waiters())
}

func TestTimedWaitWakesOnSignal(t *testing.T) {
	m := cpr.NewMutex("wake")
	s := cpr.NewSignal("wake")
	done := make(chan error, 1)

	go func() {
		_ = m.Lock()
		done <- cpr.TimedWait(m, s, 5*time.Second)
		_ = m.Unlock()
	}()

	require.Eventually(t, func() bool { return s.Waiters() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, m.Lock())
	require.NoError(t, s.Signal())
	require.NoError(t, m.Unlock())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ожидающий не проснулся")
	}
}

func TestSignalIsNotLatched(t *testing.T) {
	m := cpr.NewMutex("latch")
	s := cpr.NewSignal("latch")

	require.NoError(t, s.Signal())

	require.NoError(t, m.Lock())
	err := cpr.TimedWait(m, s, 20*time.Millisecond)
	require.NoError(t, m.Unlock())
	assert.ErrorIs(t, err, cpr.ErrTimeout)
}

func TestSignalWakesOneWaiter(t *testing.T) {
	m := cpr.NewMutex("one")
	s := cpr.NewSignal("one")

	var woke, timedOut atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Lock()
			err := cpr.TimedWait(m, s, 300*time.Millisecond)
			_ = m.Unlock()
			if err == nil {
				woke.Add(1)
			} else {
				timedOut.Add(1)
			}
		}()
	}

	require.Eventually(t, func() bool { return s.Waiters() == 2 }, time.Second, time.Millisecond)
	require.NoError(t, s.Signal())
	wg.Wait()

	assert.Equal(t, int32(1), woke.Load())
	assert.Equal(t, int32(1), timedOut.Load())
}

func TestSignalDestroyWithWaiters(t *testing.T) {
	m := cpr.NewMutex("busy")
	s := cpr.NewSignal("busy")
	done := make(chan struct{})

	go func() {
		defer close(done)
		_ = m.Lock()
		_ = cpr.TimedWait(m, s, 2*time.Second)
		_ = m.Unlock()
	}()

	require.Eventually(t, func() bool { return s.Waiters() == 1 }, time.Second, time.Millisecond)
	assert.ErrorIs(t, s.Destroy(), cpr.ErrBusy)
	require.NoError(t, s.Signal())
	<-done

	require.NoError(t, s.Destroy())
	assert.ErrorIs(t, s.Signal(), cpr.ErrDestroyed)
}

func TestQueueRequiresThread(t *testing.T) {
	q := cpr.NewMsgQueue("orphan", 4)
	assert.ErrorIs(t, q.Send("x", nil), cpr.ErrNoThread)
	assert.ErrorIs(t, q.SetThread(nil), cpr.ErrNilHandle)
}

func TestQueueFIFOAndFull(t *testing.T) {
	th, err := cpr.CreateThread("sink", func(t *cpr.Thread, _ any) {
		<-t.Queue().Done()
	}, nil)
	require.NoError(t, err)
	defer th.Destroy(time.Second)

	q := cpr.NewMsgQueue("fifo", 2)
	require.NoError(t, q.SetThread(th))

	require.NoError(t, q.Send(1, "a"))
	require.NoError(t, q.Send(2, "b"))
	assert.ErrorIs(t, q.Send(3, "c"), cpr.ErrQueueFull)
	assert.Equal(t, 2, q.Len())

	env, err := q.Receive(false)
	require.NoError(t, err)
	assert.Equal(t, 1, env.Msg)
	assert.Equal(t, "a", env.Usr)
	env.Release()

	env, err = q.Receive(true)
	require.NoError(t, err)
	assert.Equal(t, 2, env.Msg)
	env.Release()

	_, err = q.Receive(false)
	assert.ErrorIs(t, err, cpr.ErrEmpty)

	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Send(4, nil), cpr.ErrClosed)
	_, err = q.Receive(true)
	assert.ErrorIs(t, err, cpr.ErrClosed)
}

func TestEnvelopeReleaseNil(t *testing.T) {
	var env *cpr.Envelope
	assert.NotPanics(t, env.Release)
}

func TestCreateThreadIsReadyOnReturn(t *testing.T) {
	var insideTID atomic.Int64
	got := make(chan any, 4)

	th, err := cpr.CreateThread("worker", func(t *cpr.Thread, data any) {
		insideTID.Store(cpr.CurrentOSThreadID())
		got <- data
		for {
			env, err := t.Queue().Receive(true)
			if err != nil {
				return
			}
			got <- env.Msg
			env.Release()
		}
	}, "started")
	require.NoError(t, err)

	// сообщение, отправленное сразу после создания, не теряется
	require.NoError(t, th.Queue().Send("hello", nil))

	assert.Equal(t, "started", <-got)
	assert.Equal(t, "hello", <-got)
	assert.Equal(t, th, th.Queue().Thread())
	assert.Equal(t, "worker", th.Name())

	if runtime.GOOS == "linux" || runtime.GOOS == "windows" {
		assert.NotZero(t, th.OSThreadID())
		assert.Equal(t, th.OSThreadID(), insideTID.Load())
	}

	require.NoError(t, th.Destroy(time.Second))
	// повторный Destroy для завершенного потока не блокируется
	assert.NoError(t, th.Destroy(0))
}

func TestDestroyBoundedJoin(t *testing.T) {
	release := make(chan struct{})
	th, err := cpr.CreateThread("stuck", func(*cpr.Thread, any) {
		<-release
	}, nil)
	require.NoError(t, err)

	start := time.Now()
	assert.ErrorIs(t, th.Destroy(30*time.Millisecond), cpr.ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)

	close(release)
	select {
	case <-th.Exited():
	case <-time.After(time.Second):
		t.Fatal("поток не завершился")
	}
	assert.NoError(t, th.Destroy(time.Second))
}
