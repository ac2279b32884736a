package enum

// SyncPhase is the per-account orchestrator state.
type SyncPhase string

const (
	SyncDisconnected SyncPhase = "disconnected"
	SyncConnecting   SyncPhase = "connecting"
	SyncBackfilling  SyncPhase = "backfilling"
	SyncListening    SyncPhase = "listening"
	SyncReconnecting SyncPhase = "reconnecting"
	// SyncFailed is terminal: only configuration-level account errors land
	// here, and the account is excluded for the process lifetime.
	SyncFailed SyncPhase = "failed"
)

func (s SyncPhase) String() string {
	return string(s)
}
