package event

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/birdnet-edge/internal/conf"
	"github.com/tphakala/birdnet-edge/internal/errors"
)

const timestampIDLayout = "20060102T150405.000000Z"

// idGenerator assigns event ids for one deployment scheme
type idGenerator struct {
	scheme string
	nodeID string
	seq    atomic.Uint64
}

// newIDGenerator validates scheme. The sequence counter starts at the
// millisecond start time, so a restarted node continues above any value a
// previous run could have reached unless it emitted more than one event per
// millisecond of uptime.
func newIDGenerator(scheme, nodeID string, start time.Time) (*idGenerator, error) {
	switch scheme {
	case "":
		scheme = conf.IDSchemeSequence
	case conf.IDSchemeSequence, conf.IDSchemeUUID, conf.IDSchemeTimestamp:
	default:
		return nil, errors.Newf("unknown event id scheme %q", scheme).
			Component("event").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if scheme == conf.IDSchemeSequence && strings.TrimSpace(nodeID) == "" {
		return nil, errors.Newf("sequence id scheme requires a node id").
			Component("event").
			Category(errors.CategoryConfiguration).
			Build()
	}

	g := &idGenerator{scheme: scheme, nodeID: nodeID}
	g.seq.Store(uint64(max(start.UnixMilli(), 0)))
	return g, nil
}

// next returns a fresh event id and the sequence number it consumed
func (g *idGenerator) next(captured time.Time) (string, uint64) {
	seq := g.seq.Add(1)
	switch g.scheme {
	case conf.IDSchemeUUID:
		return uuid.NewString(), seq
	case conf.IDSchemeTimestamp:
		suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		return captured.UTC().Format(timestampIDLayout) + "_" + suffix, seq
	default:
		return fmt.Sprintf("%s-%d-%d", g.nodeID, seq, captured.UnixMilli()), seq
	}
}
