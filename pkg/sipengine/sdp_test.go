package sipengine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/callcontrol/pkg/ccapi"
)

func testMedia() mediaParams {
	return mediaParams{
		sessionID: newSessionID(),
		version:   1,
		ip:        "192.0.2.10",
		port:      40000,
		codecs:    []uint8{0, 8},
		dtmfPT:    101,
		audio:     ccapi.DirectionSendRecv,
		video:     ccapi.DirectionSendRecv,
	}
}

func TestBuildAndParseSDP(t *testing.T) {
	body, err := buildSDP(testMedia())
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "m=audio 40000 RTP/AVP 0 8 101")
	assert.Contains(t, text, "a=rtpmap:101 telephone-event/8000")
	assert.Contains(t, text, "m=video 40002 RTP/AVP 96")

	remote, err := parseSDP(body)
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.10", remote.IP)
	assert.Equal(t, 40000, remote.Port)
	assert.Equal(t, ccapi.DirectionSendRecv, remote.Direction)
	assert.Equal(t, uint8(101), remote.DTMFPayloadType)
	assert.True(t, remote.Video)
	assert.Equal(t, "192.0.2.10:40000", remote.Addr().String())
}

func TestHoldOfferDirections(t *testing.T) {
	m := testMedia()
	m.audio = ccapi.DirectionSendOnly
	body, err := buildSDP(m)
	require.NoError(t, err)

	remote, err := parseSDP(body)
	require.NoError(t, err)
	assert.Equal(t, ccapi.DirectionSendOnly, remote.Direction)
	assert.Equal(t, ccapi.DirectionSendOnly, remote.VideoDirection, "видео удерживается вместе с аудио")
	assert.True(t, isHeld(remote.Direction))
}

func TestInactiveVideoOmitsMediaLine(t *testing.T) {
	m := testMedia()
	m.video = ccapi.DirectionInactive
	m.dtmfPT = 0
	body, err := buildSDP(m)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "m=video")
	assert.NotContains(t, string(body), "telephone-event")

	remote, err := parseSDP(body)
	require.NoError(t, err)
	assert.False(t, remote.Video)
	assert.Zero(t, remote.DTMFPayloadType)
}

func TestParseForeignSDP(t *testing.T) {
	body := strings.Join([]string{
		"v=0",
		"o=- 1 1 IN IP4 198.51.100.7",
		"s=-",
		"c=IN IP4 198.51.100.7",
		"t=0 0",
		"a=inactive",
		"m=audio 30000 RTP/AVP 8 96",
		"a=rtpmap:96 telephone-event/8000",
		"",
	}, "\r\n")

	remote, err := parseSDP([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.7", remote.IP)
	assert.Equal(t, ccapi.DirectionInactive, remote.Direction, "направление уровня сессии")
	assert.Equal(t, uint8(96), remote.DTMFPayloadType)

	_, err = parseSDP([]byte("v=0\r\no=- 1 1 IN IP4 1.1.1.1\r\ns=-\r\nt=0 0\r\nm=video 1 RTP/AVP 96\r\n"))
	assert.Error(t, err, "нет аудио")
	_, err = parseSDP([]byte("garbage"))
	assert.Error(t, err)
}

func TestAnswerDirection(t *testing.T) {
	tests := []struct {
		offered, wanted, want ccapi.Direction
	}{
		{ccapi.DirectionSendRecv, ccapi.DirectionSendRecv, ccapi.DirectionSendRecv},
		{ccapi.DirectionSendRecv, ccapi.DirectionSendOnly, ccapi.DirectionSendOnly},
		{ccapi.DirectionSendOnly, ccapi.DirectionSendRecv, ccapi.DirectionRecvOnly},
		{ccapi.DirectionSendOnly, ccapi.DirectionSendOnly, ccapi.DirectionInactive},
		{ccapi.DirectionRecvOnly, ccapi.DirectionSendRecv, ccapi.DirectionSendOnly},
		{ccapi.DirectionInactive, ccapi.DirectionSendRecv, ccapi.DirectionInactive},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, answerDirection(tt.offered, tt.wanted), "%s/%s", tt.offered, tt.wanted)
	}
}
