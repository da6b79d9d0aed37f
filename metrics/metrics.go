// Package metrics collects counters for a grading fan-out and generates the
// summary report printed after the run.
package metrics

import (
	"fmt"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
)

// Metrics collects fan-out counters. It uses atomic operations so the
// concurrent student pipelines can update it without coordination.
type Metrics struct {
	studentsGraded   int64 // Pipelines that produced a report
	pipelineFailures int64 // Pipelines that failed at any step
	startTime        time.Time
}

// NewMetrics creates a new Metrics instance with initialized counters
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// RecordGraded increments the graded-students counter
func (m *Metrics) RecordGraded() {
	atomic.AddInt64(&m.studentsGraded, 1)
}

// RecordFailure increments the failed-pipelines counter
func (m *Metrics) RecordFailure() {
	atomic.AddInt64(&m.pipelineFailures, 1)
}

// Report contains the final fan-out summary.
type Report struct {
	StartTime        time.Time     `json:"startTime"`
	EndTime          time.Time     `json:"endTime"`
	StudentsGraded   int64         `json:"studentsGraded"`
	PipelineFailures int64         `json:"pipelineFailures"`
	Duration         time.Duration `json:"duration"`
}

// GenerateReport snapshots the counters into a Report.
func (m *Metrics) GenerateReport() Report {
	endTime := time.Now()
	return Report{
		StartTime:        m.startTime,
		EndTime:          endTime,
		StudentsGraded:   atomic.LoadInt64(&m.studentsGraded),
		PipelineFailures: atomic.LoadInt64(&m.pipelineFailures),
		Duration:         endTime.Sub(m.startTime),
	}
}

// MarshalJSON implements json.Marshaler to render the duration readably
func (r Report) MarshalJSON() ([]byte, error) {
	type Alias Report
	return json.Marshal(&struct {
		Alias
		Duration string `json:"duration"`
	}{
		Alias:    Alias(r),
		Duration: r.Duration.String(),
	})
}

// String returns a human-readable summary for console output.
func (r Report) String() string {
	return fmt.Sprintf(
		"Grading completed in %s\n"+
			"Students graded: %d\n"+
			"Failed pipelines: %d",
		r.Duration,
		r.StudentsGraded,
		r.PipelineFailures,
	)
}
