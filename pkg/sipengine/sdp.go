package sipengine

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pion/sdp/v3"

	"github.com/arzzra/callcontrol/pkg/ccapi"
)

const videoPayloadType = 96

var codecNames = map[uint8]string{
	0:  "PCMU/8000",
	3:  "GSM/8000",
	8:  "PCMA/8000",
	9:  "G722/8000",
	18: "G729/8000",
}

// mediaParams локальная сторона для offer или answer.
type mediaParams struct {
	sessionID uint64
	version   uint64
	ip        string
	port      int
	codecs    []uint8
	dtmfPT    uint8
	audio     ccapi.Direction
	// video Inactive убирает m=video из описания
	video ccapi.Direction
}

// remoteMedia параметры удаленной стороны из SDP.
type remoteMedia struct {
	IP        string
	Port      int
	Direction ccapi.Direction
	// DTMFPayloadType 0, если telephone-event не предложен
	DTMFPayloadType uint8
	Video           bool
	VideoDirection  ccapi.Direction
}

// Addr адрес RTP удаленной стороны.
func (m remoteMedia) Addr() *net.UDPAddr {
	ip := net.ParseIP(m.IP)
	if ip == nil || m.Port == 0 {
		return nil
	}
	return &net.UDPAddr{IP: ip, Port: m.Port}
}

func newSessionID() uint64 {
	id := uuid.New()
	return binary.BigEndian.Uint64(id[:8]) >> 1
}

func addrType(ip string) string {
	if parsed := net.ParseIP(ip); parsed != nil && parsed.To4() == nil {
		return "IP6"
	}
	return "IP4"
}

// buildSDP формирует описание сессии с аудио и, если видео не выключено, видео потоком.
func buildSDP(p mediaParams) ([]byte, error) {
	conn := &sdp.ConnectionInformation{
		NetworkType: "IN",
		AddressType: addrType(p.ip),
		Address:     &sdp.Address{Address: p.ip},
	}
	desc := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      p.sessionID,
			SessionVersion: p.version,
			NetworkType:    "IN",
			AddressType:    addrType(p.ip),
			UnicastAddress: p.ip,
		},
		SessionName:           sdp.SessionName("callcontrol"),
		ConnectionInformation: conn,
		TimeDescriptions:      []sdp.TimeDescription{{Timing: sdp.Timing{}}},
	}

	formats := make([]string, 0, len(p.codecs)+1)
	for _, pt := range p.codecs {
		formats = append(formats, strconv.Itoa(int(pt)))
	}
	if p.dtmfPT != 0 {
		formats = append(formats, strconv.Itoa(int(p.dtmfPT)))
	}
	audio := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   "audio",
			Port:    sdp.RangedPort{Value: p.port},
			Protos:  []string{"RTP", "AVP"},
			Formats: formats,
		},
	}
	for _, pt := range p.codecs {
		if name, ok := codecNames[pt]; ok {
			audio.Attributes = append(audio.Attributes, sdp.Attribute{Key: "rtpmap", Value: fmt.Sprintf("%d %s", pt, name)})
		}
	}
	if p.dtmfPT != 0 {
		audio.Attributes = append(audio.Attributes,
			sdp.Attribute{Key: "rtpmap", Value: fmt.Sprintf("%d telephone-event/8000", p.dtmfPT)},
			sdp.Attribute{Key: "fmtp", Value: fmt.Sprintf("%d 0-15", p.dtmfPT)},
		)
	}
	audio.Attributes = append(audio.Attributes,
		sdp.Attribute{Key: "ptime", Value: "20"},
		sdp.Attribute{Key: p.audio.String()},
	)
	desc.MediaDescriptions = append(desc.MediaDescriptions, audio)

	if p.video != ccapi.DirectionInactive {
		desc.MediaDescriptions = append(desc.MediaDescriptions, &sdp.MediaDescription{
			MediaName: sdp.MediaName{
				Media:   "video",
				Port:    sdp.RangedPort{Value: p.port + 2},
				Protos:  []string{"RTP", "AVP"},
				Formats: []string{strconv.Itoa(videoPayloadType)},
			},
			Attributes: []sdp.Attribute{
				{Key: "rtpmap", Value: fmt.Sprintf("%d H264/90000", videoPayloadType)},
				{Key: combineVideo(p.audio, p.video).String()},
			},
		})
	}

	return desc.Marshal()
}

// combineVideo на удержании видео следует направлению аудио.
func combineVideo(audio, video ccapi.Direction) ccapi.Direction {
	if audio == ccapi.DirectionSendOnly && video == ccapi.DirectionSendRecv {
		return ccapi.DirectionSendOnly
	}
	return video
}

// parseSDP извлекает адрес, направление и telephone-event из описания.
func parseSDP(body []byte) (remoteMedia, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal(body); err != nil {
		return remoteMedia{}, fmt.Errorf("разбор SDP: %w", err)
	}

	sessionDir, _ := directionOf(desc.Attributes)
	var out remoteMedia
	found := false
	for _, md := range desc.MediaDescriptions {
		dir, ok := directionOf(md.Attributes)
		if !ok {
			dir = sessionDir
		}
		switch md.MediaName.Media {
		case "audio":
			if found {
				continue
			}
			found = true
			out.Port = md.MediaName.Port.Value
			out.IP = connectionAddress(md, &desc)
			out.Direction = dir
			if md.MediaName.Port.Value == 0 {
				out.Direction = ccapi.DirectionInactive
			}
			out.DTMFPayloadType = telephoneEvent(md)
		case "video":
			out.Video = md.MediaName.Port.Value != 0
			out.VideoDirection = dir
		}
	}
	if !found {
		return remoteMedia{}, fmt.Errorf("в SDP нет аудио потока")
	}
	return out, nil
}

// directionOf возвращает направление из атрибутов. По умолчанию sendrecv.
func directionOf(attrs []sdp.Attribute) (ccapi.Direction, bool) {
	for _, a := range attrs {
		if d, ok := ccapi.ParseDirection(a.Key); ok && a.Key != "true" && a.Key != "false" {
			return d, true
		}
	}
	return ccapi.DirectionSendRecv, false
}

func connectionAddress(md *sdp.MediaDescription, desc *sdp.SessionDescription) string {
	if md.ConnectionInformation != nil && md.ConnectionInformation.Address != nil {
		return md.ConnectionInformation.Address.Address
	}
	if desc.ConnectionInformation != nil && desc.ConnectionInformation.Address != nil {
		return desc.ConnectionInformation.Address.Address
	}
	return desc.Origin.UnicastAddress
}

func telephoneEvent(md *sdp.MediaDescription) uint8 {
	for _, a := range md.Attributes {
		if a.Key != "rtpmap" {
			continue
		}
		pt, codec, ok := strings.Cut(a.Value, " ")
		if !ok || !strings.HasPrefix(strings.ToLower(codec), "telephone-event/") {
			continue
		}
		if v, err := strconv.ParseUint(pt, 10, 8); err == nil {
			return uint8(v)
		}
	}
	return 0
}

// answerDirection направление ответа на предложенное удаленной стороной.
func answerDirection(offered, wanted ccapi.Direction) ccapi.Direction {
	switch offered {
	case ccapi.DirectionSendOnly:
		if wanted == ccapi.DirectionInactive || wanted == ccapi.DirectionSendOnly {
			return ccapi.DirectionInactive
		}
		return ccapi.DirectionRecvOnly
	case ccapi.DirectionRecvOnly:
		if wanted == ccapi.DirectionInactive || wanted == ccapi.DirectionRecvOnly {
			return ccapi.DirectionInactive
		}
		return ccapi.DirectionSendOnly
	case ccapi.DirectionInactive:
		return ccapi.DirectionInactive
	default:
		return wanted
	}
}

// isHeld удаленная сторона перестала принимать наш поток.
func isHeld(d ccapi.Direction) bool {
	return d == ccapi.DirectionSendOnly || d == ccapi.DirectionInactive
}
