package domain

import (
	"testing"
)

func TestJobStatusTerminal(t *testing.T) {
	tests := []struct {
		status   JobStatus
		terminal bool
	}{
		{JobStatusPending, false},
		{JobStatusRunning, false},
		{JobStatusPaused, false},
		{JobStatusCompleted, true},
		{JobStatusFailed, true},
		{JobStatusStopped, true},
	}

	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name  string
		from  JobStatus
		to    JobStatus
		legal bool
	}{
		{"pending to running", JobStatusPending, JobStatusRunning, true},
		{"pending to failed", JobStatusPending, JobStatusFailed, true},
		{"running to paused", JobStatusRunning, JobStatusPaused, true},
		{"running to completed", JobStatusRunning, JobStatusCompleted, true},
		{"running to stopped", JobStatusRunning, JobStatusStopped, true},
		{"paused to running", JobStatusPaused, JobStatusRunning, true},
		{"paused to stopped", JobStatusPaused, JobStatusStopped, true},
		{"pending to paused", JobStatusPending, JobStatusPaused, false},
		{"pending to completed", JobStatusPending, JobStatusCompleted, false},
		{"completed to running", JobStatusCompleted, JobStatusRunning, false},
		{"failed to running", JobStatusFailed, JobStatusRunning, false},
		{"stopped to running", JobStatusStopped, JobStatusRunning, false},
		{"completed to failed", JobStatusCompleted, JobStatusFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.legal {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.legal)
			}
		})
	}
}

func TestTerminalStatusesHaveNoTransitions(t *testing.T) {
	all := []JobStatus{
		JobStatusPending, JobStatusRunning, JobStatusPaused,
		JobStatusCompleted, JobStatusFailed, JobStatusStopped,
	}
	for _, from := range all {
		if !from.Terminal() {
			continue
		}
		for _, to := range all {
			if CanTransition(from, to) {
				t.Errorf("terminal status %s allows transition to %s", from, to)
			}
		}
	}
}

func TestSyncJobPercent(t *testing.T) {
	tests := []struct {
		name      string
		processed int64
		total     int64
		want      float64
	}{
		{"zero total", 0, 0, 0},
		{"negative total", 10, -1, 0},
		{"halfway", 50, 100, 50},
		{"complete", 100, 100, 100},
		{"overshoot clamped", 150, 100, 100},
		{"small fraction", 1, 3, 100.0 / 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &SyncJob{ProcessedRecords: tt.processed, TotalRecords: tt.total}
			if got := job.Percent(); got != tt.want {
				t.Errorf("Percent() = %v, want %v", got, tt.want)
			}
		})
	}
}
