package sipengine

import (
	"strings"
	"testing"

	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDialog() *dialog {
	return &dialog{
		callID:    "call-1",
		local:     sip.Uri{Scheme: "sip", User: "alice", Host: "example.test"},
		remote:    sip.Uri{Scheme: "sip", User: "bob", Host: "example.test"},
		localTag:  "ltag",
		remoteTag: "rtag",
		target:    sip.Uri{Scheme: "sip", User: "bob", Host: "198.51.100.7", Port: 5062},
	}
}

func TestDialogRequest(t *testing.T) {
	d := testDialog()
	contact := sip.Uri{Scheme: "sip", User: "alice", Host: "192.0.2.10", Port: 5060}

	bye := d.request(sip.BYE, contact)
	assert.Equal(t, sip.BYE, bye.Method)
	assert.Equal(t, "198.51.100.7", bye.Recipient.Host)
	assert.Equal(t, "ltag", tagOf(bye.From().Params))
	assert.Equal(t, "rtag", tagOf(bye.To().Params))
	assert.Equal(t, "call-1", string(*bye.CallID()))
	assert.Equal(t, uint32(1), bye.CSeq().SeqNo)
	require.NotNil(t, bye.Contact())

	info := d.request(sip.INFO, contact)
	assert.Equal(t, uint32(2), info.CSeq().SeqNo, "CSeq растет внутри диалога")

	ack := d.ack(1)
	assert.Equal(t, uint32(1), ack.CSeq().SeqNo)
	assert.Equal(t, sip.ACK, ack.CSeq().MethodName)
	assert.Nil(t, ack.Contact())
}

func TestBuildCancelMatchesInvite(t *testing.T) {
	d := testDialog()
	d.remoteTag = ""
	invite := d.request(sip.INVITE, sip.Uri{Scheme: "sip", Host: "192.0.2.10"})
	invite.AppendHeader(sip.NewHeader("Via", "SIP/2.0/UDP 192.0.2.10:5060;branch=z9hG4bK-1"))
	invite.SetDestination("198.51.100.1:5060")

	cancel := buildCancel(invite)
	assert.Equal(t, sip.CANCEL, cancel.Method)
	assert.Equal(t, invite.CSeq().SeqNo, cancel.CSeq().SeqNo)
	assert.Equal(t, sip.CANCEL, cancel.CSeq().MethodName)
	assert.Equal(t, string(*invite.CallID()), string(*cancel.CallID()))
	assert.Equal(t, "198.51.100.1:5060", cancel.Destination())
	require.NotNil(t, cancel.GetHeader("Via"))
	assert.Contains(t, cancel.GetHeader("Via").Value(), "z9hG4bK-1")
}

func challengeResponse(req *sip.Request, code int, header string) *sip.Response {
	res := sip.NewResponseFromRequest(req, code, "Auth", nil)
	res.AppendHeader(sip.NewHeader(header, `Digest realm="test", nonce="abc123", algorithm=MD5, qop="auth"`))
	return res
}

func TestAuthorize(t *testing.T) {
	d := testDialog()
	req := d.request(sip.REGISTER, sip.Uri{Scheme: "sip", Host: "192.0.2.10"})

	name, value, err := authorize(req, challengeResponse(req, sip.StatusUnauthorized, "WWW-Authenticate"), "alice", "secret")
	require.NoError(t, err)
	assert.Equal(t, "Authorization", name)
	assert.True(t, strings.HasPrefix(value, "Digest "))
	assert.Contains(t, value, `username="alice"`)
	assert.Contains(t, value, `realm="test"`)
	assert.Contains(t, value, `nonce="abc123"`)

	name, _, err = authorize(req, challengeResponse(req, sip.StatusProxyAuthRequired, "Proxy-Authenticate"), "alice", "secret")
	require.NoError(t, err)
	assert.Equal(t, "Proxy-Authorization", name)

	_, _, err = authorize(req, sip.NewResponseFromRequest(req, sip.StatusUnauthorized, "Unauthorized", nil), "alice", "secret")
	assert.Error(t, err, "нет challenge")

	_, _, err = authorize(req, challengeResponse(req, sip.StatusUnauthorized, "WWW-Authenticate"), "", "secret")
	assert.Error(t, err, "нет пользователя")
}

func TestExpiresOf(t *testing.T) {
	req := testDialog().request(sip.REGISTER, sip.Uri{Scheme: "sip", Host: "192.0.2.10"})

	res := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	_, ok := expiresOf(res)
	assert.False(t, ok)

	res.AppendHeader(sip.NewHeader("Expires", "120"))
	secs, ok := expiresOf(res)
	assert.True(t, ok)
	assert.Equal(t, 120, secs)
}
