package scheduler

// State is the scheduler lifecycle for one recording session.
type State int

const (
	Idle State = iota
	Armed
	Running
	Finalizing
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Running:
		return "running"
	case Finalizing:
		return "finalizing"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}
