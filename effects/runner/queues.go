package runner

import (
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/on-the-ground/effect_ive_loop/effects/internal/model"
)

func newID() string {
	return uuid.New().String()
}

// SingleThread runs work one item at a time, in posting order, on a single goroutine.
// Its queue is unbounded; a warning is logged when more than bufferSize items wait.
func SingleThread(bufferSize int, opts ...Option) Shutdowner {
	cfg := model.NewScopeConfig(bufferSize, 1)
	return newPool(1, 1, cfg.BufferSize, newOptions(opts))
}

// FixedPool runs work on numWorkers goroutines sharing one queue. Work items are unordered.
func FixedPool(numWorkers, bufferSize int, opts ...Option) Shutdowner {
	cfg := model.NewScopeConfig(bufferSize, numWorkers)
	return newPool(1, cfg.NumWorkers, cfg.BufferSize, newOptions(opts))
}

// PartitionedRunner owns numWorkers lanes, each an unbounded FIFO with its own goroutine.
type PartitionedRunner struct {
	*pool
}

var _ KeyedRunner = PartitionedRunner{}
var _ Shutdowner = PartitionedRunner{}

// Partitioned creates a runner whose PostKeyed keeps equal keys on one lane.
// Plain Post spreads work round-robin over the lanes.
func Partitioned(numWorkers, bufferSize int, opts ...Option) PartitionedRunner {
	cfg := model.NewScopeConfig(bufferSize, numWorkers)
	return PartitionedRunner{
		pool: newPool(cfg.NumWorkers, 1, cfg.BufferSize, newOptions(opts)),
	}
}

func (pr PartitionedRunner) PostKeyed(key string, work func()) bool {
	return pr.postTo(laneOf(key, len(pr.queues)), work)
}

func laneOf(key string, numLanes int) int {
	switch numLanes {
	case 0:
		panic("number of lanes cannot be 0")
	case 1:
		return 0
	default:
		return int(xxhash.Sum64String(key) % uint64(numLanes))
	}
}
