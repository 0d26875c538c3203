package planning

import "errors"

var (
	// ErrNoTargets gates mission expansion: at least one domain must have a
	// populated target before generation may run.
	ErrNoTargets = errors.New("no targets set for any domain")

	// ErrExpansionInFlight rejects re-entrant mission expansion while a
	// batch is outstanding for the active period.
	ErrExpansionInFlight = errors.New("mission expansion already in flight")

	// ErrGenerationInFlight rejects re-entrant daily-action generation.
	ErrGenerationInFlight = errors.New("daily-action generation already in flight")

	// ErrGateNotApplicable rejects a primary-target choice for a domain
	// that does not have two competing targets.
	ErrGateNotApplicable = errors.New("domain does not have two targets")

	// ErrSessionClosed rejects operations after teardown.
	ErrSessionClosed = errors.New("planning session closed")
)
