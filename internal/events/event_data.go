package events

// EventData is the interface that all event data types must implement
// This allows for type-safe event data while maintaining flexibility
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// PackBuiltData contains data for PackBuilt events
type PackBuiltData struct {
	PackID      string `json:"pack_id"`
	AsOfDate    string `json:"as_of_date"`
	ContentHash string `json:"content_hash"`
	PriceCount  int    `json:"price_count"`
	FXCount     int    `json:"fx_count"`
	Superseded  string `json:"superseded,omitempty"`
}

// EventType returns the event type for PackBuiltData
func (d *PackBuiltData) EventType() EventType {
	return PackBuilt
}

// ReconcileCompletedData contains data for ReconcileCompleted events
type ReconcileCompletedData struct {
	PackID     string `json:"pack_id"`
	Status     string `json:"status"`
	BreakCount int    `json:"break_count"`
}

// EventType returns the event type for ReconcileCompletedData
func (d *ReconcileCompletedData) EventType() EventType {
	return ReconcileCompleted
}

// MetricsComputedData contains data for MetricsComputed events
type MetricsComputedData struct {
	PackID     string `json:"pack_id"`
	Portfolios int    `json:"portfolios"`
	Rows       int    `json:"rows"`
}

// EventType returns the event type for MetricsComputedData
func (d *MetricsComputedData) EventType() EventType {
	return MetricsComputed
}

// PackFreshData contains data for PackFresh events
type PackFreshData struct {
	PackID   string `json:"pack_id"`
	AsOfDate string `json:"as_of_date"`
}

// EventType returns the event type for PackFreshData
func (d *PackFreshData) EventType() EventType {
	return PackFresh
}

// RunCompletedData contains data for RunCompleted and RunBlocked events
type RunCompletedData struct {
	RunID      string `json:"run_id"`
	Status     string `json:"status"`
	BlockedAt  string `json:"blocked_at,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// EventType returns the event type for RunCompletedData
func (d *RunCompletedData) EventType() EventType {
	if d.BlockedAt != "" {
		return RunBlocked
	}
	return RunCompleted
}

// AlertFiredData contains data for AlertFired events
type AlertFiredData struct {
	AlertID       string `json:"alert_id"`
	ConditionType string `json:"condition_type"`
	PortfolioID   string `json:"portfolio_id,omitempty"`
	Message       string `json:"message"`
}

// EventType returns the event type for AlertFiredData
func (d *AlertFiredData) EventType() EventType {
	return AlertFired
}

// DeadLetterData contains data for DeadLetterQueued and DeadLetterReplayed events
type DeadLetterData struct {
	JobID    string `json:"job_id"`
	Channel  string `json:"channel"`
	Attempts int    `json:"attempts"`
	Result   string `json:"result,omitempty"`
}

// EventType returns the event type for DeadLetterData
func (d *DeadLetterData) EventType() EventType {
	if d.Result != "" {
		return DeadLetterReplayed
	}
	return DeadLetterQueued
}

// MacroSyncedData contains data for MacroSynced events
type MacroSyncedData struct {
	Series       int `json:"series"`
	Observations int `json:"observations"`
}

// EventType returns the event type for MacroSyncedData
func (d *MacroSyncedData) EventType() EventType {
	return MacroSynced
}

// BackupCompletedData contains data for BackupCompleted events
type BackupCompletedData struct {
	Key       string `json:"key"`
	SizeBytes int64  `json:"size_bytes"`
}

// EventType returns the event type for BackupCompletedData
func (d *BackupCompletedData) EventType() EventType {
	return BackupCompleted
}

// SystemStatusChangedData contains data for SystemStatusChanged events
type SystemStatusChangedData struct {
	Status    string `json:"status,omitempty"`
	Timestamp string `json:"timestamp"`
}

// EventType returns the event type for SystemStatusChangedData
func (d *SystemStatusChangedData) EventType() EventType {
	return SystemStatusChanged
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}
