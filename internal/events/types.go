// Package events provides the in-process event bus that fans nightly
// pipeline progress out to the SSE stream, the websocket stream, and
// internal listeners.
package events

import (
	"encoding/json"
	"time"
)

// EventType represents different event types
type EventType string

const (
	// Nightly pipeline lifecycle
	PackBuilt          EventType = "PACK_BUILT"
	ReconcileCompleted EventType = "RECONCILE_COMPLETED"
	MetricsComputed    EventType = "METRICS_COMPUTED"
	FactorsPrewarmed   EventType = "FACTORS_PREWARMED"
	RatingsPrewarmed   EventType = "RATINGS_PREWARMED"
	PackFresh          EventType = "PACK_FRESH"
	RunCompleted       EventType = "RUN_COMPLETED"
	RunBlocked         EventType = "RUN_BLOCKED"

	// Alerts and delivery
	AlertFired         EventType = "ALERT_FIRED"
	DeadLetterQueued   EventType = "DEAD_LETTER_QUEUED"
	DeadLetterReplayed EventType = "DEAD_LETTER_REPLAYED"

	// Background services
	MacroSynced     EventType = "MACRO_SYNCED"
	BackupCompleted EventType = "BACKUP_COMPLETED"

	// System
	SystemStatusChanged EventType = "SYSTEM_STATUS_CHANGED"
	ErrorOccurred       EventType = "ERROR_OCCURRED"
)

// Event represents a system event with typed data
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Module    string                 `json:"module"`
}

// GetTypedData attempts to convert the Data map to typed EventData.
// Returns the typed data if conversion is successful, nil otherwise.
func (e *Event) GetTypedData() EventData {
	if e.Data == nil {
		return nil
	}

	switch e.Type {
	case PackBuilt:
		var data PackBuiltData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case ReconcileCompleted:
		var data ReconcileCompletedData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case MetricsComputed:
		var data MetricsComputedData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case PackFresh:
		var data PackFreshData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case RunCompleted, RunBlocked:
		var data RunCompletedData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case AlertFired:
		var data AlertFiredData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case DeadLetterQueued, DeadLetterReplayed:
		var data DeadLetterData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case MacroSynced:
		var data MacroSyncedData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case BackupCompleted:
		var data BackupCompletedData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case SystemStatusChanged:
		var data SystemStatusChangedData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case ErrorOccurred:
		var data ErrorEventData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	}

	return nil
}

// convertMapToStruct converts a map[string]interface{} to a struct
func convertMapToStruct(m map[string]interface{}, v interface{}) error {
	jsonBytes, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonBytes, v)
}
