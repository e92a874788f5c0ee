package sim

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
)

// IDGenerator generates the ids of scheduled events and progress bars.
type IDGenerator interface {
	Generate() string
}

// IDMode selects how ids are generated.
type IDMode int

// SequentialIDs numbers the ids from 1 and is the default. UniqueIDs uses
// xids, which stay unique across processes but differ between runs.
const (
	SequentialIDs IDMode = iota
	UniqueIDs
)

var ids struct {
	sync.Mutex
	gen IDGenerator
}

// UseIDs selects the id generator of the process. The choice is fixed once
// an id has been generated.
func UseIDs(mode IDMode) {
	ids.Lock()
	defer ids.Unlock()

	if ids.gen != nil {
		logrus.WithField("mode", mode).Panic("id generator already in use")
	}

	ids.gen = newIDGenerator(mode)
}

// GetIDGenerator returns the id generator of the process.
func GetIDGenerator() IDGenerator {
	ids.Lock()
	defer ids.Unlock()

	if ids.gen == nil {
		ids.gen = newIDGenerator(SequentialIDs)
	}

	return ids.gen
}

func newIDGenerator(mode IDMode) IDGenerator {
	if mode == UniqueIDs {
		return xidGenerator{}
	}

	return &counterGenerator{}
}

type counterGenerator struct {
	last atomic.Uint64
}

func (g *counterGenerator) Generate() string {
	return strconv.FormatUint(g.last.Add(1), 10)
}

type xidGenerator struct{}

func (xidGenerator) Generate() string {
	return xid.New().String()
}
