package dag

import "github.com/pkg/errors"

var (
	errPeriodMismatch = errors.New("period must equal current_period + 1")
	errUnknownAnchor  = errors.New("anchor not present in the DAG")
)
