package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type ReportType string

const (
	// ReportTypeEvaluations lists the evaluations of one rotation slot, or of every slot for staff.
	ReportTypeEvaluations ReportType = "evaluations"
	// ReportTypeTemplateSummary aggregates submitted ratings of one template.
	ReportTypeTemplateSummary ReportType = "template_summary"
)

func (t ReportType) Valid() bool {
	return t == ReportTypeEvaluations || t == ReportTypeTemplateSummary
}

type ReportFormat string

const (
	ReportFormatCSV ReportFormat = "csv"
	ReportFormatPDF ReportFormat = "pdf"
)

func (f ReportFormat) Valid() bool {
	return f == ReportFormatCSV || f == ReportFormatPDF
}

// ReportStatus moves QUEUED -> PROCESSING -> FINISHED|FAILED. A retried job
// drops back to QUEUED.
type ReportStatus string

const (
	ReportStatusQueued     ReportStatus = "QUEUED"
	ReportStatusProcessing ReportStatus = "PROCESSING"
	ReportStatusFinished   ReportStatus = "FINISHED"
	ReportStatusFailed     ReportStatus = "FAILED"
)

// Terminal reports whether no worker will touch the job again.
func (s ReportStatus) Terminal() bool {
	return s == ReportStatusFinished || s == ReportStatusFailed
}

// ReportJob is one row of report_jobs.
type ReportJob struct {
	ID           string          `db:"id" json:"id"`
	Type         ReportType      `db:"type" json:"type"`
	Params       ReportJobParams `db:"params" json:"params"`
	Status       ReportStatus    `db:"status" json:"status"`
	Progress     int             `db:"progress" json:"progress"`
	ResultURL    *string         `db:"result_url" json:"result_url,omitempty"`
	CreatedBy    string          `db:"created_by" json:"created_by"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	FinishedAt   *time.Time      `db:"finished_at" json:"finished_at,omitempty"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
}

// ReportJobParams is stored in the params JSONB column.
type ReportJobParams struct {
	TemplateID *string           `json:"template_id,omitempty"`
	SlotID     *string           `json:"slot_id,omitempty"`
	Format     ReportFormat      `json:"format"`
	Extras     map[string]string `json:"extras,omitempty"`
}

func (p ReportJobParams) Value() (driver.Value, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode report params: %w", err)
	}
	return data, nil
}

func (p *ReportJobParams) Scan(value interface{}) error {
	*p = ReportJobParams{}
	var raw []byte
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("report params: cannot scan %T", value)
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return fmt.Errorf("decode report params: %w", err)
	}
	return nil
}
