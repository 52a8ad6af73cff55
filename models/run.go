package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// AggregationRun protokolliert einen Aggregationslauf.
type AggregationRun struct {
	ID         uint           `json:"id" gorm:"primaryKey"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	Trigger    string         `json:"trigger" gorm:"size:16"` // cron, api, cli
	Status     string         `json:"status" gorm:"index;size:16"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Error      string         `json:"error,omitempty" gorm:"type:text"`
	Stats      datatypes.JSON `json:"stats" gorm:"type:jsonb"`
}

// TableName gibt explizit den Tabellennamen an.
func (AggregationRun) TableName() string {
	return "aggregation_runs"
}
