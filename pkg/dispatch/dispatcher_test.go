package dispatch_test

import (
	"runtime"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"

	"github.com/arzzra/callcontrol/pkg/cpr"
	"github.com/arzzra/callcontrol/pkg/dispatch"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recorder собирает события и поток, на котором они доставлены
type recorder struct {
	mu      sync.Mutex
	events  []dispatch.Event
	threads []int64
}

func (r *recorder) OnEvent(ev dispatch.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.threads = append(r.threads, cpr.CurrentOSThreadID())
	r.mu.Unlock()
}

func (r *recorder) snapshot() ([]dispatch.Event, []int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]dispatch.Event(nil), r.events...), append([]int64(nil), r.threads...)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type DispatcherSuite struct {
	suite.Suite
	d   *dispatch.Dispatcher
	rec *recorder
}

func (s *DispatcherSuite) SetupTest() {
	d, err := dispatch.New()
	s.Require().NoError(err)
	s.d = d
	s.rec = &recorder{}
	s.Require().NoError(d.SetObserver(s.rec))
}

func (s *DispatcherSuite) TearDownTest() {
	s.NoError(s.d.Close())
}

func (s *DispatcherSuite) waitFor(n int) {
	s.Require().Eventually(func() bool { return s.rec.count() >= n }, 2*time.Second, time.Millisecond)
}

func (s *DispatcherSuite) TestObserverRunsOnDispatcherThread() {
	s.Require().NoError(s.d.Dispatch("registered", ""))
	s.waitFor(1)

	events, threads := s.rec.snapshot()
	s.Equal("registered", events[0].Name)
	if runtime.GOOS == "linux" || runtime.GOOS == "windows" {
		s.NotZero(s.d.ThreadID())
		s.Equal(s.d.ThreadID(), threads[0])
		s.NotEqual(cpr.CurrentOSThreadID(), threads[0])
	}
}

func (s *DispatcherSuite) TestFIFOUnderConcurrentDispatch() {
	const n = 1000
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			_ = s.d.Dispatch("engine", strconv.Itoa(i))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			_ = s.d.Dispatch("app", strconv.Itoa(i))
		}
	}()
	wg.Wait()
	s.waitFor(2 * n)

	events, _ := s.rec.snapshot()
	next := map[string]int{}
	for _, ev := range events {
		s.Equal(strconv.Itoa(next[ev.Name]), ev.Arg, "источник %s", ev.Name)
		next[ev.Name]++
	}
	s.Equal(n, next["engine"])
	s.Equal(n, next["app"])
}

func (s *DispatcherSuite) TestTruncation() {
	longName := strings.Repeat("n", 300)
	longArg := strings.Repeat("я", 200) // 400 байт

	s.Require().NoError(s.d.Dispatch(longName, longArg))
	s.waitFor(1)

	events, _ := s.rec.snapshot()
	s.Len(events[0].Name, dispatch.DefaultMaxNameLen)
	s.LessOrEqual(len(events[0].Arg), dispatch.DefaultMaxArgLen)
	s.True(utf8.ValidString(events[0].Arg), "усечение не должно разрывать символ")
	s.Equal(dispatch.DefaultMaxArgLen, len(events[0].Arg))
}

func (s *DispatcherSuite) TestSingleObserver() {
	s.ErrorIs(s.d.SetObserver(&recorder{}), dispatch.ErrObserverAlreadySet)
	s.ErrorIs(s.d.SetObserver(nil), dispatch.ErrNilObserver)

	s.d.RemoveObserver()
	other := &recorder{}
	s.Require().NoError(s.d.SetObserver(other))

	s.Require().NoError(s.d.Dispatch("call-connected", ""))
	s.Require().Eventually(func() bool { return other.count() == 1 }, time.Second, time.Millisecond)
	s.Zero(s.rec.count())
}

func (s *DispatcherSuite) TestDispatchAfterClose() {
	s.Require().NoError(s.d.Close())
	s.ErrorIs(s.d.Dispatch("late", ""), dispatch.ErrClosed)
	time.Sleep(10 * time.Millisecond)
	s.Zero(s.rec.count())
}

func TestDispatcherSuite(t *testing.T) {
	suite.Run(t, new(DispatcherSuite))
}

func TestCustomLimits(t *testing.T) {
	d, err := dispatch.New(dispatch.WithLimits(4, 2))
	require.NoError(t, err)
	defer d.Close()

	got := make(chan dispatch.Event, 1)
	require.NoError(t, d.SetObserver(dispatch.ObserverFunc(func(ev dispatch.Event) { got <- ev })))
	require.NoError(t, d.Dispatch("error-long", "abc"))

	ev := <-got
	assert.Equal(t, "erro", ev.Name)
	assert.Equal(t, "ab", ev.Arg)
}

func TestQueueOverflowKeepsOrder(t *testing.T) {
	d, err := dispatch.New(dispatch.WithQueueDepth(1))
	require.NoError(t, err)

	block := make(chan struct{})
	entered := make(chan struct{}, 1)
	var mu sync.Mutex
	var got []string
	require.NoError(t, d.SetObserver(dispatch.ObserverFunc(func(ev dispatch.Event) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-block
		mu.Lock()
		got = append(got, ev.Name)
		mu.Unlock()
	})))

	require.NoError(t, d.Dispatch("first", ""))
	<-entered
	require.NoError(t, d.Dispatch("second", ""))
	require.NoError(t, d.Dispatch("third", ""), "переполнение очереди не теряет событие")
	assert.Equal(t, 2, d.Pending())

	close(block)
	require.Eventually(t, func() bool { return d.Pending() == 0 }, time.Second, time.Millisecond)
	require.NoError(t, d.Close())
	assert.Equal(t, []string{"first", "second", "third"}, got)
}

func TestSlowObserverAtDefaultDepth(t *testing.T) {
	const n = dispatch.DefaultQueueDepth + 44
	d, err := dispatch.New()
	require.NoError(t, err)
	defer d.Close()

	gate := make(chan struct{})
	rec := &recorder{}
	require.NoError(t, d.SetObserver(dispatch.ObserverFunc(func(ev dispatch.Event) {
		<-gate
		rec.OnEvent(ev)
	})))

	for i := 0; i < n; i++ {
		require.NoError(t, d.Dispatch("connection-status", strconv.Itoa(i)))
	}
	close(gate)

	require.Eventually(t, func() bool { return rec.count() == n }, 5*time.Second, time.Millisecond)
	events, _ := rec.snapshot()
	for i, ev := range events {
		assert.Equal(t, strconv.Itoa(i), ev.Arg)
	}
	assert.Zero(t, d.Pending())
}

func TestEventsWithoutObserverAreDropped(t *testing.T) {
	d, err := dispatch.New()
	require.NoError(t, err)
	require.NoError(t, d.Dispatch("nobody", ""))
	require.Eventually(t, func() bool { return d.Pending() == 0 }, time.Second, time.Millisecond)
	require.NoError(t, d.Close())
}

func TestCloseFromObserver(t *testing.T) {
	d, err := dispatch.New()
	require.NoError(t, err)

	closed := make(chan error, 1)
	require.NoError(t, d.SetObserver(dispatch.ObserverFunc(func(dispatch.Event) {
		closed <- d.Close()
	})))
	require.NoError(t, d.Dispatch("bye", ""))

	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close из наблюдателя заблокировался")
	}
	assert.ErrorIs(t, d.Dispatch("late", ""), dispatch.ErrClosed)
}

func TestObserverPanicDoesNotStopDelivery(t *testing.T) {
	d, err := dispatch.New()
	require.NoError(t, err)
	defer d.Close()

	got := make(chan string, 2)
	require.NoError(t, d.SetObserver(dispatch.ObserverFunc(func(ev dispatch.Event) {
		if ev.Name == "boom" {
			panic("observer failure")
		}
		got <- ev.Name
	})))
	require.NoError(t, d.Dispatch("boom", ""))
	require.NoError(t, d.Dispatch("after", ""))

	select {
	case name := <-got:
		assert.Equal(t, "after", name)
	case <-time.After(2 * time.Second):
		t.Fatal("доставка остановилась после паники")
	}
}
