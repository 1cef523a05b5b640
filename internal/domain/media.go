package domain

type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

func (d Direction) Valid() bool {
	return d == DirectionSend || d == DirectionRecv
}

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool {
	return k == KindAudio || k == KindVideo
}

type TransportState int

const (
	TransportCreated TransportState = iota
	TransportConnecting
	TransportConnected
	TransportClosed
)

func (s TransportState) String() string {
	switch s {
	case TransportCreated:
		return "created"
	case TransportConnecting:
		return "connecting"
	case TransportConnected:
		return "connected"
	case TransportClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ProducerInfo is the wire descriptor of a producer, sent to peers on
// new-producer broadcasts and get-producers replies.
type ProducerInfo struct {
	ID          string    `json:"producerId"`
	Identity    Identity  `json:"identity"`
	Kind        MediaKind `json:"kind"`
	ScreenShare bool      `json:"isScreenShare"`
}
