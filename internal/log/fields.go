package log

// Canonical field names for structured logging.
const (
	FieldComponent = "component"
	FieldEvent     = "event"
	FieldSession   = "session"

	FieldPhase    = "phase"
	FieldOldPhase = "old_phase"
	FieldNewPhase = "new_phase"
	FieldKind     = "kind"
	FieldChannel  = "channel"
	FieldReason   = "reason"
)
