package job

import (
	"time"
)

type Type string

const (
	TypeCalculateDate    Type = "calculate_date"
	TypeCalculateSymbols Type = "calculate_symbols"
	TypeBatchDates       Type = "batch_dates"
)

func (t Type) Valid() bool {
	switch t {
	case TypeCalculateDate, TypeCalculateSymbols, TypeBatchDates:
		return true
	}
	return false
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// DateLayout is the wire format for calculation dates.
const DateLayout = "2006-01-02"

// Job is one unit of ranking work: a single trading date, optionally
// restricted to a subset of symbols.
type Job struct {
	ID              string     `json:"job_id"`
	Type            Type       `json:"job_type"`
	CalculationDate time.Time  `json:"calculation_date"`
	Symbols         []string   `json:"symbols"`
	BatchID         string     `json:"batch_id"`
	Priority        int        `json:"priority"` // advisory; the queue is FIFO
	Status          Status     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	WorkerID        string     `json:"worker_id,omitempty"`
	Result          *Result    `json:"result,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// NewDateJob builds a pending job ranking every symbol (or the given subset)
// on date.
func NewDateJob(date time.Time, batchID string, symbols []string, priority int) *Job {
	t := TypeCalculateDate
	if len(symbols) > 0 {
		t = TypeCalculateSymbols
	}
	return &Job{
		Type:            t,
		CalculationDate: TruncateDate(date),
		Symbols:         symbols,
		BatchID:         batchID,
		Priority:        priority,
		Status:          StatusPending,
	}
}

// Result is the payload stored on a completed job.
type Result struct {
	SymbolsRanked int         `json:"symbols_ranked"`
	SymbolsSaved  int64       `json:"symbols_saved"`
	Top5          []TopSymbol `json:"top_5"`
}

type TopSymbol struct {
	Symbol         string  `json:"symbol"`
	CompositeScore float64 `json:"composite_score"`
	Rank           int     `json:"rank"`
}

// TruncateDate drops the clock part and normalises to UTC.
func TruncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
