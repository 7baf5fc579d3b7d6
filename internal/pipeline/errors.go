package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/masibasi/visurai/internal/provider"
)

// ErrEmptyInput indicates a run was started without any input text.
var ErrEmptyInput = errors.New("pipeline: empty input text")

// AggregateError reports a stage in which every scene failed. Partial
// failures never produce it; scenes that fail individually ship degraded.
type AggregateError struct {
	Stage  string
	Kind   provider.FailureKind
	Scenes map[int]error
}

func (e *AggregateError) Error() string {
	ids := make([]int, 0, len(e.Scenes))
	for id := range e.Scenes {
		ids = append(ids, id)
	}

	sort.Ints(ids)

	var builder strings.Builder

	fmt.Fprintf(
		&builder,
		"pipeline: %s failed for all %d scenes (%s)",
		e.Stage, len(e.Scenes), e.Kind,
	)

	for _, id := range ids {
		fmt.Fprintf(&builder, "; scene %d: %v", id, e.Scenes[id])
	}

	return builder.String()
}

// newAggregateError classifies the dominant failure kind: a single billing
// failure dominates because it predicts every retry's outcome; a stage where
// every rejection was parameter-shaped is an invalid-parameter failure;
// anything mixed is reported as unavailable.
func newAggregateError(stage string, sceneErrors map[int]error) *AggregateError {
	anyCredit := false
	allInvalid := len(sceneErrors) > 0

	for _, err := range sceneErrors {
		switch provider.KindOf(err) {
		case provider.FailureCreditExhausted:
			anyCredit = true
			allInvalid = false
		case provider.FailureInvalidParameter:
		default:
			allInvalid = false
		}
	}

	kind := provider.FailureUnavailable

	switch {
	case anyCredit:
		kind = provider.FailureCreditExhausted
	case allInvalid:
		kind = provider.FailureInvalidParameter
	}

	return &AggregateError{
		Stage:  stage,
		Kind:   kind,
		Scenes: sceneErrors,
	}
}
