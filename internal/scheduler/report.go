package scheduler

import "time"

// Outcome statuses recorded per job in a run report.
const (
	OutcomePublished = "published"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// JobOutcome is the per-job detail entry of a run report.
type JobOutcome struct {
	ScheduleID string `json:"schedule_id"`
	PostID     string `json:"post_id"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`

	processingTime time.Duration
	apiCallTime    time.Duration
}

// RunMetrics carries the operational timings of one scheduler run.
type RunMetrics struct {
	TotalDuration     time.Duration `json:"total_duration"`
	AvgProcessingTime time.Duration `json:"avg_processing_time"`
	DatabaseQueryTime time.Duration `json:"database_query_time"`
	APICallTime       time.Duration `json:"api_call_time"`
}

// RunReport summarizes one scheduler run. It is primarily an operational
// artifact; user-visible outcomes travel through the post status and the
// activity logger.
type RunReport struct {
	Processed  int          `json:"processed"`
	Successful int          `json:"successful"`
	Failed     int          `json:"failed"`
	Skipped    int          `json:"skipped"`
	Details    []JobOutcome `json:"details"`
	Metrics    RunMetrics   `json:"metrics"`
}

// add folds one job outcome into the report's counters.
func (r *RunReport) add(outcome JobOutcome) {
	r.Processed++
	switch outcome.Status {
	case OutcomePublished:
		r.Successful++
	case OutcomeFailed:
		r.Failed++
	default:
		r.Skipped++
	}
	r.Details = append(r.Details, outcome)
}
