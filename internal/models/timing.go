package models

import (
	"time"
)

// This file contains all the models persisted by the timing store

// Execution is a model representing the `executions` table. One row is created for every run
// against a source tree.
type Execution struct {
	ID        int64     `db:"id" json:"id"`
	Source    string    `db:"source" json:"source"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
}

// Timing is a model representing the `timing` table. Duration is in seconds.
type Timing struct {
	ID        int64   `db:"id" json:"id"`
	Source    string  `db:"source" json:"source"`
	Test      string  `db:"test" json:"test"`
	Duration  float64 `db:"duration" json:"duration"`
	Execution int64   `db:"execution" json:"execution"`
}
