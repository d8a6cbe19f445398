package models

import (
	"time"
)

// Actor roles, one persisted row each.
const (
	RoleScanner    = "scanner"
	RoleWatchdog   = "watchdog"
	RoleHeartbeat  = "heartbeat"
	RoleSupervisor = "supervisor"
)

// ActorConfig is the configuration snapshot stored alongside an actor's state.
type ActorConfig struct {
	ScanIntervalSeconds int    `json:"scan_interval_seconds,omitempty"`
	AdminPhone          string `json:"admin_phone,omitempty"`
}

// ActorState is the observable state of one periodic actor. It is written after
// every transition and only read back at cold start.
type ActorState struct {
	Role            string      `json:"role" gorm:"primaryKey;size:32"`
	IsRunning       bool        `json:"is_running"`
	LastCheckAt     time.Time   `json:"last_check_at"`
	RestartAttempts int         `json:"restart_attempts"`
	ErrorCount      int         `json:"error_count"`
	MissedBeats     int         `json:"missed_beats"`
	Config          ActorConfig `json:"config" gorm:"serializer:json;type:text"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// TableName specifies the table name for ActorState
func (ActorState) TableName() string {
	return "actor_states"
}
