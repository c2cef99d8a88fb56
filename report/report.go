// Package report describes the outcome of a sync run.
package report

import (
	"time"

	"github.com/Trendyol/go-db-sync/offset"
	"github.com/Trendyol/go-db-sync/translator"
)

type Status string

const (
	StatusSuccess        Status = "success"
	StatusPartialSuccess Status = "partial_success"
	StatusFailed         Status = "failed"
)

type TableStatus string

const (
	TableIdle   TableStatus = "Idle"
	TableFailed TableStatus = "Failed"
)

// Error kinds a table can fail with besides the connector error kinds.
const (
	ErrorKindCancelled = "cancelled"
	ErrorKindDrift     = "drift"
	ErrorKindCoercion  = "coercion"
	ErrorKindWatermark = "watermark"
	ErrorKindOffset    = "offset"
	ErrorKindSchema    = "schema"
)

type TableReport struct {
	TableID       string                  `json:"table_id"`
	Source        string                  `json:"source"`
	Target        string                  `json:"target"`
	Status        TableStatus             `json:"status"`
	Action        translator.Action       `json:"action,omitempty"`
	RowsSynced    int64                   `json:"rows_synced"`
	Batches       int                     `json:"batches"`
	CaughtUp      bool                    `json:"caught_up"`
	LastOffset    *offset.Offset          `json:"last_offset,omitempty"`
	ErrorDetail   string                  `json:"error_detail,omitempty"`
	ErrorKind     string                  `json:"error_kind,omitempty"`
	FailedAttempt int                     `json:"failed_attempt,omitempty"`
	Drift         *translator.DriftReport `json:"drift,omitempty"`
	StartedAt     time.Time               `json:"started_at"`
	EndedAt       time.Time               `json:"ended_at"`
}

// Fail marks the table as failed. attempt is the attempt that failed last, 0 when
// the failure was not retried.
func (t *TableReport) Fail(kind string, err error, attempt int) {
	t.Status = TableFailed
	t.ErrorKind = kind
	t.ErrorDetail = err.Error()
	t.FailedAttempt = attempt
}

func (t *TableReport) Failed() bool {
	return t.Status == TableFailed
}

type RunReport struct {
	RunID           string        `json:"run_id"`
	Status          Status        `json:"status"`
	StartedAt       time.Time     `json:"started_at"`
	EndedAt         time.Time     `json:"ended_at"`
	TablesSucceeded int           `json:"tables_succeeded"`
	TablesFailed    int           `json:"tables_failed"`
	Tables          []TableReport `json:"tables"`
}

func New(runID string, tables int) *RunReport {
	return &RunReport{
		RunID:     runID,
		StartedAt: time.Now().UTC(),
		Tables:    make([]TableReport, tables),
	}
}

// Finish freezes the report and derives the run status from the tables.
func (r *RunReport) Finish() {
	r.EndedAt = time.Now().UTC()
	r.TablesSucceeded, r.TablesFailed = 0, 0
	for i := range r.Tables {
		if r.Tables[i].Failed() {
			r.TablesFailed++
		} else {
			r.TablesSucceeded++
		}
	}

	switch {
	case r.TablesFailed == 0:
		r.Status = StatusSuccess
	case r.TablesSucceeded == 0:
		r.Status = StatusFailed
	default:
		r.Status = StatusPartialSuccess
	}
}

func (r *RunReport) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

func (r *RunReport) RowsSynced() int64 {
	var n int64
	for i := range r.Tables {
		n += r.Tables[i].RowsSynced
	}
	return n
}

// ExitCode maps the run status onto a process exit code.
func (r *RunReport) ExitCode() int {
	switch r.Status {
	case StatusSuccess:
		return 0
	case StatusPartialSuccess:
		return 2
	}
	return 1
}
