package sipengine

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/callcontrol/pkg/ccapi"
	"github.com/arzzra/callcontrol/pkg/dtmf"
)

type callEvent struct {
	call  ccapi.Call
	state ccapi.CallState
}

// recorder наблюдатель, который складывает уведомления в каналы.
type recorder struct {
	ccapi.NopObserver

	calls  chan callEvent
	status chan ccapi.ConnectionStatus
	auth   chan ccapi.AuthStatus
}

func newRecorder() *recorder {
	return &recorder{
		calls:  make(chan callEvent, 128),
		status: make(chan ccapi.ConnectionStatus, 32),
		auth:   make(chan ccapi.AuthStatus, 32),
	}
}

func (r *recorder) OnCallEvent(ev ccapi.CallEventType, call ccapi.Call, info *ccapi.CallInfo) {
	r.calls <- callEvent{call: call, state: info.State}
}

func (r *recorder) OnConnectionStatusChange(s ccapi.ConnectionStatus) { r.status <- s }

func (r *recorder) OnAuthenticationStatusChange(s ccapi.AuthStatus) { r.auth <- s }

// waitState ждет состояние want, пропуская промежуточные.
func (r *recorder) waitState(t *testing.T, want ccapi.CallState) ccapi.Call {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-r.calls:
			if ev.state == want {
				return ev.call
			}
		case <-timeout:
			t.Fatalf("не дождались состояния %s", want)
			return nil
		}
	}
}

func (r *recorder) waitStatus(t *testing.T, want ccapi.ConnectionStatus) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case s := <-r.status:
			if s == want {
				return
			}
		case <-timeout:
			t.Fatalf("не дождались статуса %s", want)
		}
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	port := pc.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, pc.Close())
	return port
}

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.ListenHost = "127.0.0.1"
	cfg.LocalPort = freePort(t)
	cfg.RegisterTimeout = 2 * time.Second
	cfg.RetryInterval = 200 * time.Millisecond
	return cfg
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *recorder) {
	t.Helper()
	e, err := New(cfg)
	require.NoError(t, err)
	e.SetLocalAddress("127.0.0.1")
	rec := newRecorder()
	e.SetObserver(rec)
	t.Cleanup(func() { _ = e.Close() })
	return e, rec
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	mutate := []func(*Config){
		func(c *Config) { c.Transport = "sctp" },
		func(c *Config) { c.LocalPort = 70000 },
		func(c *Config) { c.RemotePort = 0 },
		func(c *Config) { c.Expires = 0 },
		func(c *Config) { c.RefreshRatio = 1 },
		func(c *Config) { c.Codecs = nil },
		func(c *Config) { c.DTMFMode = "inband" },
		func(c *Config) { c.DTMFPayloadType = 8 },
	}
	for i, m := range mutate {
		cfg := DefaultConfig()
		m(&cfg)
		assert.Error(t, cfg.Validate(), "случай %d", i)
	}

	_, err := New(Config{})
	assert.Error(t, err)
}

func TestProperties(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig())

	assert.Equal(t, "5060", e.Property(ccapi.PropertyLocalVoipPort))
	assert.Equal(t, "udp", e.Property(ccapi.PropertyTransport))
	assert.Equal(t, "callcontrol/"+Version, e.Property(ccapi.PropertyVersion))

	require.NoError(t, e.SetProperty(ccapi.PropertyRemoteVoipPort, "5070"))
	assert.Equal(t, "5070", e.Property(ccapi.PropertyRemoteVoipPort))
	require.NoError(t, e.SetProperty(ccapi.PropertyTransport, "TCP"))
	assert.Equal(t, "tcp", e.Property(ccapi.PropertyTransport))

	assert.Error(t, e.SetProperty(ccapi.PropertyVersion, "2"))
	assert.Error(t, e.SetProperty(ccapi.PropertyLocalVoipPort, "port"))
	assert.Error(t, e.SetProperty(ccapi.PropertyTransport, "sctp"))
}

func TestIdleEngine(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig())
	assert.Equal(t, ccapi.StatusIdle, e.ConnectionStatus())
	assert.Nil(t, e.ActiveDevice())
	assert.NoError(t, e.Disconnect(context.Background()))

	eng, err := Factory(DefaultConfig())()
	require.NoError(t, err)
	assert.NoError(t, eng.Close())

	_, err = Factory(Config{})()
	assert.Error(t, err)
}

func TestStartTwiceAndClose(t *testing.T) {
	e, _ := newTestEngine(t, testConfig(t))
	ctx := context.Background()

	require.NoError(t, e.StartP2P(ctx, "alice"))
	assert.ErrorIs(t, e.StartP2P(ctx, "alice"), ErrStarted)
	require.NotNil(t, e.ActiveDevice())
	assert.Equal(t, "alice", e.ActiveDevice().Name())

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	assert.Nil(t, e.ActiveDevice())
	assert.ErrorIs(t, e.StartP2P(ctx, "alice"), ErrClosed)
}

func TestCallStateMachine(t *testing.T) {
	e, rec := newTestEngine(t, DefaultConfig())
	dev := newDevice(e, "dev")
	c := dev.add(false)

	c.fire(evDial, evProceed, evRingOut, evConnect)
	for _, want := range []ccapi.CallState{ccapi.StateDialing, ccapi.StateProceed, ccapi.StateRingOut, ccapi.StateConnected} {
		ev := <-rec.calls
		assert.Equal(t, want, ev.state)
		assert.Equal(t, c.Handle(), ev.call.Handle())
	}

	c.fire(evRingIn)
	assert.Empty(t, rec.calls, "недопустимый переход пропускается")
	assert.True(t, c.Info().HasCapability(ccapi.CanHold))

	c.fire(evHold, evResume, evConnect, evRemHold, evConnect)
	for _, want := range []ccapi.CallState{ccapi.StateHold, ccapi.StateResume, ccapi.StateConnected, ccapi.StateRemHold, ccapi.StateConnected} {
		assert.Equal(t, want, (<-rec.calls).state)
	}

	c.fire(evRemHold, evHold)
	assert.Equal(t, ccapi.StateRemHold, (<-rec.calls).state)
	assert.True(t, c.Info().HasCapability(ccapi.CanHold))
	assert.Equal(t, ccapi.StateHold, (<-rec.calls).state, "удержание из REMHOLD")

	require.Len(t, dev.Info().Calls, 1)
	c.fire(evHangup)
	assert.Equal(t, ccapi.StateOnHook, (<-rec.calls).state)
	assert.Empty(t, dev.Info().Calls, "завершенный вызов удаляется из устройства")
}

func TestBusyAndReorder(t *testing.T) {
	e, rec := newTestEngine(t, DefaultConfig())
	dev := newDevice(e, "dev")

	busy := dev.add(false)
	busy.fire(evDial, evBusy, evHangup)
	reorder := dev.add(false)
	reorder.fire(evDial, evProceed, evReorder, evHangup)

	var got []ccapi.CallState
	for len(rec.calls) > 0 {
		got = append(got, (<-rec.calls).state)
	}
	assert.Equal(t, []ccapi.CallState{
		ccapi.StateDialing, ccapi.StateBusy, ccapi.StateOnHook,
		ccapi.StateDialing, ccapi.StateProceed, ccapi.StateReorder, ccapi.StateOnHook,
	}, got)
	assert.NotEqual(t, busy.Handle(), reorder.Handle())
}

func TestConcurrentHangupNotifiesOnce(t *testing.T) {
	e, rec := newTestEngine(t, DefaultConfig())
	c := newDevice(e, "dev").add(false)
	c.fire(evDial, evConnect)
	<-rec.calls
	<-rec.calls

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.fire(evHangup)
		}()
	}
	wg.Wait()
	assert.Equal(t, ccapi.StateOnHook, (<-rec.calls).state)
	assert.Empty(t, rec.calls, "ONHOOK сообщается один раз")
}

func TestCallOperationsNeedDialog(t *testing.T) {
	e, _ := newTestEngine(t, testConfig(t))
	ctx := context.Background()

	dev := newDevice(e, "dev")
	c := dev.add(false)
	assert.Error(t, c.Answer(ctx, ccapi.DirectionSendRecv), "исходящий вызов нельзя принять")
	assert.Error(t, c.Hold(ctx))
	assert.Error(t, c.SendDigit(ctx, dtmf.Digit1))
	assert.Error(t, c.SendDigit(ctx, dtmf.Invalid))
	assert.ErrorIs(t, c.Originate(ctx, "bob", ccapi.DirectionInactive), ErrNotStarted)

	_, err := dev.CreateCall()
	assert.ErrorIs(t, err, ErrNotStarted)
}
