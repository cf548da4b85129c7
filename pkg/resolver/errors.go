package resolver

import (
	"errors"
	"fmt"
)

// ErrNoCandidates means every adapter came back empty or every candidate was
// filtered out. This is the only failure expected under normal conditions
// and maps to a not-found response.
var ErrNoCandidates = errors.New("no playable candidates found")

// errSkip marks a candidate that cannot be materialized right now (e.g. not
// confirmed cached); the orchestrator falls through to the next-best one.
var errSkip = errors.New("candidate not currently resolvable")

// MaterializationError reports that the chosen materialization path failed,
// e.g. the caching service could not produce an HLS or direct link for an
// otherwise-cached candidate. Callers may retry.
type MaterializationError struct {
	Source string
	Title  string
	Err    error
}

func (e *MaterializationError) Error() string {
	return fmt.Sprintf("materialization failed for %q via %s: %v", e.Title, e.Source, e.Err)
}

func (e *MaterializationError) Unwrap() error {
	return e.Err
}
