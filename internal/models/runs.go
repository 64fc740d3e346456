package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type StringArray = pq.StringArray

const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

type RunModel struct {
	Id         uuid.UUID  `db:"id"`
	Host       string     `db:"host"`
	Status     string     `db:"status"`
	StartedAt  time.Time  `db:"started_at"`
	FinishedAt *time.Time `db:"finished_at"`
}

type TaskResultModel struct {
	Id       uuid.UUID   `db:"id"`
	RunId    uuid.UUID   `db:"run_id"`
	Sequence int         `db:"sequence"`
	Name     string      `db:"name"`
	Kind     string      `db:"kind"`
	Status   string      `db:"status"`
	ExitCode int         `db:"exit_code"`
	Output   StringArray `db:"output"`
}
