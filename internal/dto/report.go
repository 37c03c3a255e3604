package dto

import (
	"time"

	"github.com/noah-isme/cliniclink-api/internal/models"
)

// ReportRequest is the body of POST /reports/generate. Preceptors must name
// one of their own slots; template_id is required for template summaries.
type ReportRequest struct {
	Type       models.ReportType   `json:"type"`
	TemplateID *string             `json:"template_id,omitempty"`
	SlotID     *string             `json:"slot_id,omitempty"`
	Format     models.ReportFormat `json:"format"`
}

type ReportJobResponse struct {
	ID       string              `json:"id"`
	Status   models.ReportStatus `json:"status"`
	Progress int                 `json:"progress"`
}

// ReportStatusResponse is served by GET /reports/status/:id. ResultURL is set
// once the job finished and until the export expires.
type ReportStatusResponse struct {
	ID         string              `json:"id"`
	Type       models.ReportType   `json:"type"`
	Format     models.ReportFormat `json:"format"`
	Status     models.ReportStatus `json:"status"`
	Progress   int                 `json:"progress"`
	ResultURL  *string             `json:"result_url,omitempty"`
	Error      *string             `json:"error,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	FinishedAt *time.Time          `json:"finished_at,omitempty"`
}
