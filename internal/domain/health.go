package domain

import "time"

// DependencyStatus summarises the outcome of a preflight probe.
type DependencyStatus string

const (
	DependencyStatusOK       DependencyStatus = "ok"
	DependencyStatusDegraded DependencyStatus = "degraded"
	DependencyStatusError    DependencyStatus = "error"
)

// DependencyCheckResult describes the outcome of an individual dependency probe.
type DependencyCheckResult struct {
	Status    DependencyStatus
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// PreflightReport aggregates dependency status before a population run touches the store.
type PreflightReport struct {
	Status      DependencyStatus
	Checks      map[string]DependencyCheckResult
	GeneratedAt time.Time
}

// Healthy reports whether every dependency answered.
func (r PreflightReport) Healthy() bool {
	return r.Status == DependencyStatusOK
}
