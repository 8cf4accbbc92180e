package pdcp

import "github.com/pkg/errors"

// ErrQueueFull is returned by the handful of synchronous entity calls that
// must hand work to an executor and report back (status-report compilation);
// the bulk of the entity's async operations instead drop silently and bump
// a metric per §7's "Queue full" policy.
var ErrQueueFull = errors.New("pdcp: executor queue full")
