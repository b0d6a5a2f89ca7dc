package sipua

import (
	"fmt"

	"github.com/pion/sdp/v3"
)

// Направления медиа потока в SDP.
const (
	dirSendRecv = "sendrecv"
	dirSendOnly = "sendonly"
	dirRecvOnly = "recvonly"
	dirInactive = "inactive"
)

func isDirection(key string) bool {
	switch key {
	case dirSendRecv, dirSendOnly, dirRecvOnly, dirInactive:
		return true
	}
	return false
}

// sdpDirection направление первого аудио потока. Атрибут медиа
// приоритетнее сессионного; по умолчанию sendrecv.
func sdpDirection(sd *sdp.SessionDescription) string {
	for _, md := range sd.MediaDescriptions {
		if md.MediaName.Media != "audio" {
			continue
		}
		for _, a := range md.Attributes {
			if isDirection(a.Key) {
				return a.Key
			}
		}
		break
	}
	for _, a := range sd.Attributes {
		if isDirection(a.Key) {
			return a.Key
		}
	}
	return dirSendRecv
}

// zeroConnection старый способ постановки на удержание: c=IN IP4 0.0.0.0.
func zeroConnection(sd *sdp.SessionDescription) bool {
	isZero := func(ci *sdp.ConnectionInformation) bool {
		return ci != nil && ci.Address != nil && ci.Address.Address == "0.0.0.0"
	}
	if isZero(sd.ConnectionInformation) {
		return true
	}
	for _, md := range sd.MediaDescriptions {
		if md.MediaName.Media == "audio" && isZero(md.ConnectionInformation) {
			return true
		}
	}
	return false
}

// remoteHold определяет, ставит ли предложение удаленной стороны нас на удержание.
func remoteHold(body []byte) (bool, string, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal(body); err != nil {
		return false, "", fmt.Errorf("unmarshal sdp: %w", err)
	}
	dir := sdpDirection(&sd)
	if zeroConnection(&sd) && dir == dirSendRecv {
		dir = dirInactive
	}
	return dir == dirSendOnly || dir == dirInactive, dir, nil
}

// answerDirection зеркальное направление для ответа на предложение.
func answerDirection(offer string) string {
	switch offer {
	case dirSendOnly:
		return dirRecvOnly
	case dirRecvOnly:
		return dirSendOnly
	case dirInactive:
		return dirInactive
	default:
		return dirSendRecv
	}
}

// withDirection переписывает направление всех аудио потоков и
// увеличивает версию сессии в o=.
func withDirection(body []byte, dir string) ([]byte, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal(body); err != nil {
		return nil, fmt.Errorf("unmarshal sdp: %w", err)
	}

	sd.Attributes = dropDirections(sd.Attributes)
	for _, md := range sd.MediaDescriptions {
		if md.MediaName.Media != "audio" {
			continue
		}
		md.Attributes = append(dropDirections(md.Attributes), sdp.NewPropertyAttribute(dir))
	}
	sd.Origin.SessionVersion++

	out, err := sd.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal sdp: %w", err)
	}
	return out, nil
}

func dropDirections(attrs []sdp.Attribute) []sdp.Attribute {
	out := attrs[:0]
	for _, a := range attrs {
		if !isDirection(a.Key) {
			out = append(out, a)
		}
	}
	return out
}
