package session_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/suite"

	"github.com/arzzra/callcontrol/pkg/ccapi"
	"github.com/arzzra/callcontrol/pkg/ccapi/mockEngine"
	"github.com/arzzra/callcontrol/pkg/dispatch"
	"github.com/arzzra/callcontrol/pkg/session"
)

// CallFlowSuite проходит полный цикл: регистрация, исходящий вызов,
// соединение и завершение.
type CallFlowSuite struct {
	suite.Suite
	ctx context.Context
	c   *session.Controller
	eng *mockEngine.Engine
	obs *events
}

func (s *CallFlowSuite) SetupTest() {
	s.ctx = context.Background()
	s.c, s.eng, s.obs = newController(s.T())
}

func (s *CallFlowSuite) delivered() []dispatch.Event {
	flush(s.T(), s.c, s.obs)
	var out []dispatch.Event
	for _, ev := range s.obs.list() {
		if ev.Name != "test-flush" {
			out = append(out, dispatch.Event{Name: ev.Name, Arg: ev.Arg})
		}
	}
	return out
}

func (s *CallFlowSuite) TestRegisterPlaceConnectEnd() {
	s.Require().NoError(s.c.Register(s.ctx, alice))
	s.eng.SetConnectionStatus(ccapi.StatusReady)

	s.Require().NoError(s.c.PlaceCall(s.ctx, "5551234"))
	s.True(s.c.CallInProgress())
	call := s.eng.Device().Calls()[0]

	s.eng.SetCallState(call, ccapi.StateRingOut)
	s.eng.SetCallState(call, ccapi.StateConnected)

	s.Require().NoError(s.c.EndCall(s.ctx))
	s.Equal(1, call.Stats().Ends)

	s.eng.SetCallState(call, ccapi.StateOnHook)
	s.False(s.c.CallInProgress())
	s.Empty(s.eng.Device().Calls())

	want := []dispatch.Event{
		{Name: "registered"},
		{Name: session.EventCallConnected},
		{Name: session.EventCallTerminated},
	}
	if diff := cmp.Diff(want, s.delivered(), cmp.AllowUnexported(dispatch.Event{})); diff != "" {
		s.Failf("неожиданные события", "(-want +got):\n%s", diff)
	}
}

func (s *CallFlowSuite) TestIncomingAnswerRemoteHangup() {
	s.Require().NoError(s.c.Register(s.ctx, alice))
	s.eng.SetConnectionStatus(ccapi.StatusRegistering)
	s.eng.SetConnectionStatus(ccapi.StatusReady)

	call := s.eng.AddIncomingCall("Carol", "5557777")
	s.Require().NoError(s.c.AnswerCall(s.ctx))
	s.eng.SetCallState(call, ccapi.StateConnected)

	s.Require().NoError(s.c.SendDigits(s.ctx, "42"))
	s.Len(call.Stats().Digits, 2)

	s.eng.SetCallState(call, ccapi.StateOnHook)
	s.False(s.c.CallInProgress())
	s.ErrorIs(s.c.EndCall(s.ctx), session.ErrNoCallInProgress)

	want := []dispatch.Event{
		{Name: "registering"},
		{Name: "registered"},
		{Name: session.EventIncomingCall},
		{Name: session.EventCallConnected},
		{Name: session.EventCallTerminated},
		{Name: session.EventError, Arg: session.ReasonNoCallInProgress},
	}
	if diff := cmp.Diff(want, s.delivered(), cmp.AllowUnexported(dispatch.Event{})); diff != "" {
		s.Failf("неожиданные события", "(-want +got):\n%s", diff)
	}
	s.Equal("Carol", s.c.LastCaller())
}

func (s *CallFlowSuite) TestRegistrationFailure() {
	s.Require().NoError(s.c.Register(s.ctx, alice))
	s.eng.SetConnectionStatus(ccapi.StatusRegistering)
	s.eng.SetConnectionStatus(ccapi.StatusFailed)

	sess, ok := s.c.Session()
	s.Require().True(ok)
	s.False(sess.Registered)

	s.Require().NoError(s.c.Unregister(s.ctx))
	s.Equal(1, s.eng.Counts().Disconnect)
}

func TestCallFlowSuite(t *testing.T) {
	suite.Run(t, new(CallFlowSuite))
}
