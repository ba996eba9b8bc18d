package session_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/arzzra/callcontrol/pkg/ccapi/mockEngine"
	"github.com/arzzra/callcontrol/pkg/dispatch"
	"github.com/arzzra/callcontrol/pkg/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testIP = "192.0.2.10"

// events наблюдатель, запоминающий все события
type events struct {
	mu  sync.Mutex
	all []dispatch.Event
}

func (e *events) OnEvent(ev dispatch.Event) {
	e.mu.Lock()
	e.all = append(e.all, ev)
	e.mu.Unlock()
}

func (e *events) list() []dispatch.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]dispatch.Event(nil), e.all...)
}

func (e *events) count(name, arg string) int {
	n := 0
	for _, ev := range e.list() {
		if ev.Name == name && ev.Arg == arg {
			n++
		}
	}
	return n
}

func (e *events) names() []string {
	var out []string
	for _, ev := range e.list() {
		out = append(out, ev.Name)
	}
	return out
}

// flush дожидается доставки всех событий, поставленных в очередь до вызова.
func flush(t *testing.T, c *session.Controller, e *events) {
	t.Helper()
	const marker = "test-flush"
	before := e.count(marker, "")
	require.NoError(t, c.Dispatcher().Dispatch(marker, ""))
	require.Eventually(t, func() bool { return e.count(marker, "") > before }, 2*time.Second, time.Millisecond)
}

func newController(t *testing.T) (*session.Controller, *mockEngine.Engine, *events) {
	t.Helper()
	eng := mockEngine.New()
	c, err := session.New(eng.Factory(), session.WithLocalIP(func() string { return testIP }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	obs := &events{}
	require.NoError(t, c.SetObserver(obs))
	return c, eng, obs
}

var alice = session.Registration{Device: "devA", User: "alice", Password: "pw", Domain: "proxy1"}
