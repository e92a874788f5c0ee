package federate

import "fmt"

// State is the lifecycle state of an endpoint.
type State int

// Endpoints go from Created to Started, and between Started and Stopped.
const (
	Created State = iota
	Started
	Stopped
)

func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case Started:
		return "Started"
	case Stopped:
		return "Stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}
