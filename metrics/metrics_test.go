package metrics

import (
	"strings"
	"sync"
	"testing"

	json "github.com/goccy/go-json"
)

func TestConcurrentCounters(t *testing.T) {
	m := NewMetrics()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%5 == 0 {
				m.RecordFailure()
			} else {
				m.RecordGraded()
			}
		}(i)
	}
	wg.Wait()

	report := m.GenerateReport()
	if report.StudentsGraded != 40 {
		t.Errorf("expected 40 graded, got %d", report.StudentsGraded)
	}
	if report.PipelineFailures != 10 {
		t.Errorf("expected 10 failures, got %d", report.PipelineFailures)
	}
	if report.Duration <= 0 {
		t.Error("expected a positive duration")
	}
}

func TestReportJSON(t *testing.T) {
	m := NewMetrics()
	m.RecordGraded()

	body, err := json.Marshal(m.GenerateReport())
	if err != nil {
		t.Fatalf("failed to marshal report: %v", err)
	}
	if !strings.Contains(string(body), `"studentsGraded":1`) {
		t.Errorf("unexpected report JSON: %s", body)
	}
	if !strings.Contains(string(body), `"duration":"`) {
		t.Errorf("duration should render as a string: %s", body)
	}
}

func TestReportString(t *testing.T) {
	m := NewMetrics()
	m.RecordGraded()
	m.RecordFailure()

	s := m.GenerateReport().String()
	if !strings.Contains(s, "Students graded: 1") || !strings.Contains(s, "Failed pipelines: 1") {
		t.Errorf("unexpected report string %q", s)
	}
}
