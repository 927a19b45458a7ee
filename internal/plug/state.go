package plug

// State is the lifecycle state of a Session.
//
//	Starting -> Running -> Stopped
//	Starting -> Failed
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
