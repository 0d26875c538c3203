package bus

// Planning cascade topics.
const (
	TopicPeriodChanged    = "plan.period_changed"
	TopicPeriodRollover   = "plan.period_rollover"
	TopicTargetsSaved     = "plan.targets_saved"
	TopicMissionsReady    = "plan.missions_ready"
	TopicMissionsFailed   = "plan.missions_failed"
	TopicGateResolved     = "plan.gate_resolved"
	TopicActionsGenerated = "plan.actions_generated"
	TopicAutosaveWritten  = "plan.autosave_written"
	TopicAutosaveFailed   = "plan.autosave_failed"
	TopicStaleDiscard     = "plan.stale_discard"
)

// PeriodChangedEvent is published when the session's active period is
// replaced. Artifacts for the old period are gone from memory by the time
// subscribers see this.
type PeriodChangedEvent struct {
	OldPeriod string
	NewPeriod string
}

// PeriodRolloverEvent is published by the rollover scheduler when the
// wall-clock quarter has moved past the session's active period.
type PeriodRolloverEvent struct {
	ActivePeriod  string
	CurrentPeriod string
}

// TargetsSavedEvent is published after a domain's targets are durably written.
type TargetsSavedEvent struct {
	Period string
	Domain string
}

// MissionsReadyEvent is published per domain after a successful mission
// expansion has been persisted.
type MissionsReadyEvent struct {
	Period     string
	Domain     string
	TwoTargets bool
}

// MissionsFailedEvent is published per domain when expansion fails; other
// domains in the same batch are unaffected.
type MissionsFailedEvent struct {
	Period string
	Domain string
	Err    string
}

// GateResolvedEvent is published after a primary-target choice is persisted.
type GateResolvedEvent struct {
	Period           string
	Domain           string
	PrimaryIsTarget1 bool
}

// ActionsGeneratedEvent is published per domain after daily-action
// generation replaces the domain's action set.
type ActionsGeneratedEvent struct {
	Period string
	Domain string
	Count  int
}

// AutosaveWrittenEvent is published after a debounced selection write lands.
type AutosaveWrittenEvent struct {
	Period  string
	Domains int
}

// AutosaveFailedEvent is published when a debounced selection write fails.
// The write is retried on the next debounce cycle, never immediately.
type AutosaveFailedEvent struct {
	Period string
	Err    string
}

// StaleDiscardEvent is published when a mutation for a no-longer-active
// period is dropped. Not a user-visible error.
type StaleDiscardEvent struct {
	ActivePeriod string
	StalePeriod  string
	Mutation     string
}
