package pipeline

import (
	"context"
	"errors"
	"sync"
)

// ErrUnknownStrategy indicates an unrecognized engine name.
var ErrUnknownStrategy = errors.New("pipeline: unknown engine")

// Strategy dispatches one unit of per-scene work across all scenes. It only
// controls dispatch order and parallelism; the provider adapters enforce the
// in-flight ceiling themselves.
type Strategy interface {
	Name() string
	// ForEach runs work for indices 0..count-1 and returns per-index
	// errors. A nil map means every index succeeded.
	ForEach(ctx context.Context, count int, work func(ctx context.Context, index int) error) map[int]error
}

// StrategyFromName resolves a configured engine name.
func StrategyFromName(name string) (Strategy, error) {
	switch name {
	case "concurrent":
		return &concurrentStrategy{}, nil
	case "serial":
		return &serialStrategy{}, nil
	default:
		return nil, ErrUnknownStrategy
	}
}

// concurrentStrategy fans all scenes out at once.
type concurrentStrategy struct{}

func (s *concurrentStrategy) Name() string { return "concurrent" }

func (s *concurrentStrategy) ForEach(
	ctx context.Context,
	count int,
	work func(ctx context.Context, index int) error,
) map[int]error {
	var (
		waitGroup sync.WaitGroup
		recorder  errRecorder
	)

	for index := range count {
		waitGroup.Add(1)

		go func() {
			defer waitGroup.Done()

			err := work(ctx, index)
			if err != nil {
				recorder.record(index, err)
			}
		}()
	}

	waitGroup.Wait()

	return recorder.errors
}

// serialStrategy processes scenes one at a time in order.
type serialStrategy struct{}

func (s *serialStrategy) Name() string { return "serial" }

func (s *serialStrategy) ForEach(
	ctx context.Context,
	count int,
	work func(ctx context.Context, index int) error,
) map[int]error {
	var recorder errRecorder

	for index := range count {
		err := work(ctx, index)
		if err != nil {
			recorder.record(index, err)
		}
	}

	return recorder.errors
}

// errRecorder collects per-index failures from concurrent workers.
type errRecorder struct {
	mu     sync.Mutex
	errors map[int]error
}

func (r *errRecorder) record(index int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.errors == nil {
		r.errors = make(map[int]error)
	}

	r.errors[index] = err
}
