package models

// Status is the lifecycle position of one extraction job.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusStarting  Status = "starting"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Rank orders statuses along idle -> starting -> running -> terminal.
// Unknown statuses rank below idle.
func (s Status) Rank() int {
	switch s {
	case StatusIdle:
		return 0
	case StatusStarting:
		return 1
	case StatusRunning:
		return 2
	case StatusCompleted, StatusError:
		return 3
	default:
		return -1
	}
}

// Terminal reports whether no further events are processed after s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return s.Rank() >= 0
}

// ProgressState is the UI-facing snapshot of a job's progress.
type ProgressState struct {
	TotalItems      int         `json:"totalItems"`
	ProcessedItems  int         `json:"processedItems"`
	AITotal         int         `json:"aiTotal"`
	AIProcessed     int         `json:"aiProcessed"`
	ScrapingPercent float64     `json:"scrapingPercent"`
	AIPercent       float64     `json:"aiPercent"`
	Status          Status      `json:"status"`
	Message         string      `json:"message"`
	ContentType     ContentType `json:"contentType,omitempty"`
}

// IdleProgress is the state before any submission.
func IdleProgress() ProgressState {
	return ProgressState{Status: StatusIdle}
}

// StartingProgress is the state a submission resets progress to.
func StartingProgress() ProgressState {
	return ProgressState{Status: StatusStarting, Message: "Starting scrape..."}
}

// Percent returns processed/total*100, or 0 when total is 0.
func Percent(processed, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(processed) / float64(total) * 100
}

// WithPercentages returns p with both percentages derived from its counters.
func (p ProgressState) WithPercentages() ProgressState {
	p.ScrapingPercent = Percent(p.ProcessedItems, p.TotalItems)
	p.AIPercent = Percent(p.AIProcessed, p.AITotal)
	return p
}
