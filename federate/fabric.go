package federate

import (
	"context"

	"github.com/sarchlab/fedsim/vtime"
)

// A Publisher accepts values produced by the simulation.
type Publisher interface {
	// Publish makes the value visible to the peers subscribed to the topic.
	Publish(topic, value string) error
}

// An Update is a value received from a peer federate.
type Update struct {
	// Key is the fully qualified topic, "<federate>/<topic>".
	Key   string
	Value string
	Time  vtime.Time
}

// A Fabric connects a federate to its peers. Values published at virtual
// time T become visible to the peers once they have all been granted T.
type Fabric interface {
	Publisher

	// Subscribe asks for the updates of a fully qualified key.
	Subscribe(key string) error

	// TimeRequest blocks until the federate may advance to a time no later
	// than next and returns that time.
	TimeRequest(ctx context.Context, next vtime.Time) (vtime.Time, error)

	// Events returns the updates received with the last grant.
	Events() []Update

	// Finish leaves the federation.
	Finish() error
}
