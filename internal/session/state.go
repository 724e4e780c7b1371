package session

// ConnectionState is the ConnectionSession state machine position.
type ConnectionState int

const (
	Idle ConnectionState = iota
	Connecting
	ServiceDiscovery
	SubscribingNotifications
	Ready
	Disconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case ServiceDiscovery:
		return "service_discovery"
	case SubscribingNotifications:
		return "subscribing"
	case Ready:
		return "ready"
	case Disconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON output.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// inTransition reports whether an attempt is under way but not yet Ready.
func (s ConnectionState) inTransition() bool {
	return s == Connecting || s == ServiceDiscovery || s == SubscribingNotifications
}

// DisconnectReason tells why a connection attempt ended.
type DisconnectReason int

const (
	// ReasonRequested: Disconnect was called.
	ReasonRequested DisconnectReason = iota
	// ReasonRemote: the peer or the platform dropped an established link.
	ReasonRemote
	// ReasonFailed: the attempt failed before reaching Ready.
	ReasonFailed
	// ReasonSuperseded: a connect to another peripheral replaced the attempt.
	ReasonSuperseded
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonRequested:
		return "requested"
	case ReasonRemote:
		return "remote"
	case ReasonFailed:
		return "failed"
	case ReasonSuperseded:
		return "superseded"
	default:
		return "unknown"
	}
}

func (r DisconnectReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}
