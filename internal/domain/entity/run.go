package entity

import "time"

// RunState состояние обработки запроса (слайд, процесс)
type RunState string

const (
	RunIdle             RunState = "idle"
	RunBackendResolving RunState = "backend_resolving"
	RunGraphBuilding    RunState = "graph_building"
	RunRunning          RunState = "running"
	RunAttached         RunState = "attached"
	RunFailed           RunState = "failed"
)

// Terminal возвращает true для конечных состояний
func (s RunState) Terminal() bool {
	return s == RunAttached || s == RunFailed
}

// RunRecord запись журнала запусков
type RunRecord struct {
	ID         string
	Slide      string
	Process    string
	State      RunState
	Backend    BackendName
	Format     Format
	Level      int
	Reused     bool
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}
