package ccapi_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/arzzra/callcontrol/pkg/ccapi"
)

var allStates = []ccapi.CallState{
	ccapi.StateOffHook, ccapi.StateOnHook, ccapi.StateRingOut, ccapi.StateRingIn,
	ccapi.StateProceed, ccapi.StateConnected, ccapi.StateHold, ccapi.StateRemHold,
	ccapi.StateResume, ccapi.StateBusy, ccapi.StateReorder, ccapi.StateConference,
	ccapi.StateDialing, ccapi.StateRemInUse, ccapi.StateHoldRevert, ccapi.StateWhisper,
	ccapi.StatePreservation, ccapi.StateWaitingForDigits,
}

func TestOnHookHasNoCapabilities(t *testing.T) {
	assert.True(t, ccapi.CapabilitiesFor(ccapi.StateOnHook).Empty())
	for c := ccapi.CanAnswer; c <= ccapi.CanUpdateVideo; c++ {
		assert.False(t, ccapi.CapabilitiesFor(ccapi.StateOnHook).Has(c), c.String())
	}
}

func TestCapabilityTable(t *testing.T) {
	got := map[string]string{}
	for _, st := range []ccapi.CallState{ccapi.StateRingIn, ccapi.StateConnected, ccapi.StateHold, ccapi.StateDialing} {
		got[st.String()] = ccapi.CapabilitiesFor(st).String()
	}
	want := map[string]string{
		"RINGIN":    "{answer,end}",
		"CONNECTED": "{end,hold,send-digit,update-video}",
		"HOLD":      "{end,resume}",
		"DIALING":   "{end,send-digit}",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("возможности отличаются (-want +got):\n%s", diff)
	}
}

func TestOnlyRingingCallsCanBeAnswered(t *testing.T) {
	for _, st := range allStates {
		can := ccapi.CapabilitiesFor(st).Has(ccapi.CanAnswer)
		want := st == ccapi.StateRingIn || st == ccapi.StateHoldRevert
		assert.Equal(t, want, can, st.String())
	}
}

func TestCallStateNames(t *testing.T) {
	for _, st := range allStates {
		parsed, ok := ccapi.ParseCallState(st.String())
		assert.True(t, ok, st.String())
		assert.Equal(t, st, parsed)
	}
	assert.Equal(t, "UNKNOWN", ccapi.CallState(99).String())
	_, ok := ccapi.ParseCallState("bogus")
	assert.False(t, ok)
}

func TestConnectionStatusTokens(t *testing.T) {
	assert.Equal(t, "no-registrar", ccapi.StatusIdle.Token())
	assert.Equal(t, "registering", ccapi.StatusRegistering.Token())
	assert.Equal(t, "registered", ccapi.StatusReady.Token())
	assert.Equal(t, "registration-failed", ccapi.StatusFailed.Token())
}

func TestParseDirection(t *testing.T) {
	cases := map[string]ccapi.Direction{
		"true":     ccapi.DirectionSendRecv,
		"SendRecv": ccapi.DirectionSendRecv,
		"false":    ccapi.DirectionInactive,
		"sendonly": ccapi.DirectionSendOnly,
		"recvonly": ccapi.DirectionRecvOnly,
	}
	for in, want := range cases {
		got, ok := ccapi.ParseDirection(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ccapi.ParseDirection("maybe")
	assert.False(t, ok)
}

func TestParsePropertyKey(t *testing.T) {
	k, ok := ccapi.ParsePropertyKey("LocalVoipPort")
	assert.True(t, ok)
	assert.Equal(t, ccapi.PropertyLocalVoipPort, k)

	_, ok = ccapi.ParsePropertyKey("video")
	assert.False(t, ok, "video хранится на стороне контроллера")
}

func TestCallInfoHasCapabilityNilSafe(t *testing.T) {
	var info *ccapi.CallInfo
	assert.False(t, info.HasCapability(ccapi.CanEnd))
}
