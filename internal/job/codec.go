package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Hash field names shared by every broker implementation.
const (
	FieldID              = "job_id"
	FieldType            = "job_type"
	FieldCalculationDate = "calculation_date"
	FieldSymbols         = "symbols"
	FieldBatchID         = "batch_id"
	FieldPriority        = "priority"
	FieldStatus          = "status"
	FieldCreatedAt       = "created_at"
	FieldStartedAt       = "started_at"
	FieldCompletedAt     = "completed_at"
	FieldWorkerID        = "worker_id"
	FieldResult          = "result"
	FieldError           = "error"
)

var ErrMalformed = errors.New("malformed job")

// DecodeError carries the id of a job whose stored record could not be
// parsed, so the claiming worker can still fail it.
type DecodeError struct {
	JobID string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("job %s: %v", e.JobID, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrMalformed }

// Encode flattens a job into broker hash fields. Optional fields that are
// unset are omitted.
func Encode(j *Job) (map[string]any, error) {
	symbols, err := json.Marshal(nonNil(j.Symbols))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal symbols: %w", err)
	}
	fields := map[string]any{
		FieldID:              j.ID,
		FieldType:            string(j.Type),
		FieldCalculationDate: j.CalculationDate.Format(DateLayout),
		FieldSymbols:         string(symbols),
		FieldBatchID:         j.BatchID,
		FieldPriority:        strconv.Itoa(j.Priority),
		FieldStatus:          string(j.Status),
		FieldCreatedAt:       formatTime(j.CreatedAt),
	}
	if j.StartedAt != nil {
		fields[FieldStartedAt] = formatTime(*j.StartedAt)
	}
	if j.CompletedAt != nil {
		fields[FieldCompletedAt] = formatTime(*j.CompletedAt)
	}
	if j.WorkerID != "" {
		fields[FieldWorkerID] = j.WorkerID
	}
	if j.Result != nil {
		res, err := EncodeResult(j.Result)
		if err != nil {
			return nil, err
		}
		fields[FieldResult] = res
	}
	if j.Error != "" {
		fields[FieldError] = j.Error
	}
	return fields, nil
}

// Decode rebuilds a job from broker hash fields. An empty map means the
// record is gone.
func Decode(id string, fields map[string]string) (*Job, error) {
	fail := func(format string, args ...any) (*Job, error) {
		return nil, &DecodeError{JobID: id, Err: fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))}
	}
	if len(fields) == 0 {
		return fail("record not found")
	}

	j := &Job{
		ID:       id,
		Type:     Type(fields[FieldType]),
		BatchID:  fields[FieldBatchID],
		Status:   Status(fields[FieldStatus]),
		WorkerID: fields[FieldWorkerID],
		Error:    fields[FieldError],
	}
	if stored := fields[FieldID]; stored != "" && stored != id {
		return fail("id mismatch %q", stored)
	}
	if !j.Type.Valid() {
		return fail("unknown job type %q", j.Type)
	}

	date, err := time.Parse(DateLayout, fields[FieldCalculationDate])
	if err != nil {
		return fail("bad calculation_date %q", fields[FieldCalculationDate])
	}
	j.CalculationDate = date

	if raw := fields[FieldSymbols]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &j.Symbols); err != nil {
			return fail("bad symbols: %v", err)
		}
	}
	if raw := fields[FieldPriority]; raw != "" {
		if j.Priority, err = strconv.Atoi(raw); err != nil {
			return fail("bad priority %q", raw)
		}
	}
	if j.CreatedAt, err = parseTime(fields[FieldCreatedAt]); err != nil {
		return fail("bad created_at: %v", err)
	}
	if j.StartedAt, err = parseOptionalTime(fields[FieldStartedAt]); err != nil {
		return fail("bad started_at: %v", err)
	}
	if j.CompletedAt, err = parseOptionalTime(fields[FieldCompletedAt]); err != nil {
		return fail("bad completed_at: %v", err)
	}
	if raw := fields[FieldResult]; raw != "" {
		var res Result
		if err := json.Unmarshal([]byte(raw), &res); err != nil {
			return fail("bad result: %v", err)
		}
		j.Result = &res
	}
	return j, nil
}

func EncodeResult(r *Result) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	return string(data), nil
}

// EncodeWorker flattens a liveness record into hash fields.
func EncodeWorker(w WorkerInfo) map[string]any {
	return map[string]any{
		"worker_id":      w.WorkerID,
		"hostname":       w.Hostname,
		"pid":            strconv.Itoa(w.PID),
		"started_at":     formatTime(w.StartedAt),
		"last_heartbeat": formatTime(w.LastHeartbeat),
		"jobs_completed": strconv.FormatInt(w.JobsCompleted, 10),
		"jobs_failed":    strconv.FormatInt(w.JobsFailed, 10),
		"current_job":    w.CurrentJob,
		"status":         string(w.Status),
	}
}

// DecodeWorker is lenient: a half-written record still yields what it has.
func DecodeWorker(fields map[string]string) WorkerInfo {
	w := WorkerInfo{
		WorkerID:   fields["worker_id"],
		Hostname:   fields["hostname"],
		CurrentJob: fields["current_job"],
		Status:     WorkerState(fields["status"]),
	}
	w.PID, _ = strconv.Atoi(fields["pid"])
	w.JobsCompleted, _ = strconv.ParseInt(fields["jobs_completed"], 10, 64)
	w.JobsFailed, _ = strconv.ParseInt(fields["jobs_failed"], 10, 64)
	w.StartedAt, _ = parseTime(fields["started_at"])
	w.LastHeartbeat, _ = parseTime(fields["last_heartbeat"])
	return w
}

// NewID builds a job id from a high-resolution timestamp and a sequence
// number handed out by the broker.
func NewID(now time.Time, seq int64) string {
	return "job_" + strconv.FormatInt(now.UnixNano(), 10) + "_" + strconv.FormatInt(seq, 10)
}

// IDTime extracts the enqueue timestamp from an id built by NewID.
func IDTime(id string) (time.Time, bool) {
	parts := strings.Split(id, "_")
	if len(parts) != 3 || parts[0] != "job" {
		return time.Time{}, false
	}
	ns, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func parseOptionalTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// FormatTime is exported for broker scripts that write timestamps directly.
func FormatTime(t time.Time) string { return formatTime(t) }

// ParseTime is the inverse of FormatTime.
func ParseTime(s string) (time.Time, error) { return parseTime(s) }
