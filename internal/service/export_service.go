package service

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/cliniclink-api/internal/models"
	"github.com/noah-isme/cliniclink-api/pkg/export"
	"github.com/noah-isme/cliniclink-api/pkg/storage"
)

// evaluationDataSource supplies the rows rendered into evaluation exports.
type evaluationDataSource interface {
	List(ctx context.Context, filter models.EvaluationFilter) ([]models.Evaluation, int, error)
	CategorySummary(ctx context.Context, templateID string) ([]models.CategoryScoreSummary, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ReportFormat
	ExpiresAt    time.Time
}

// ExportService renders evaluation datasets and persists the files behind signed URLs.
type ExportService struct {
	evaluations evaluationDataSource
	templates   templateReader
	metrics     *MetricsService
	storage     fileStorage
	renderers   map[models.ReportFormat]export.Renderer
	signer      *storage.SignedURLSigner
	logger      *zap.Logger
	cfg         ExportConfig
}

// NewExportService constructs an ExportService. Renderers are matched to
// report formats by their extension; CSV and PDF defaults fill any gap.
func NewExportService(evaluations evaluationDataSource, templates templateReader, metrics *MetricsService, storage fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, renderers ...export.Renderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	byFormat := map[models.ReportFormat]export.Renderer{
		models.ReportFormatCSV: export.NewCSVRenderer(true),
		models.ReportFormatPDF: export.NewPDFRenderer(),
	}
	for _, r := range renderers {
		byFormat[models.ReportFormat(r.Extension())] = r
	}
	return &ExportService{
		evaluations: evaluations,
		templates:   templates,
		metrics:     metrics,
		storage:     storage,
		renderers:   byFormat,
		signer:      signer,
		logger:      logger,
		cfg:         cfg,
	}
}

// Generate builds dataset according to job definition and stores the rendered export.
func (s *ExportService) Generate(ctx context.Context, job *models.ReportJob) (_ *ExportResult, err error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	start := time.Now()
	defer func() { s.metrics.RecordExport(job.Params.Format, time.Since(start), err) }()

	renderer, ok := s.renderers[job.Params.Format]
	if !ok {
		return nil, fmt.Errorf("unsupported format %s", job.Params.Format)
	}
	table, err := s.buildTable(ctx, job)
	if err != nil {
		return nil, err
	}
	payload, err := renderer.Render(table)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", job.Params.Format, err)
	}

	filename := s.buildFilename(job, renderer.Extension())
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Sign(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	signedURL := strings.TrimRight(s.cfg.APIPrefix, "/")
	if signedURL == "" {
		signedURL = "/api/v1"
	}
	signedURL = fmt.Sprintf("%s/export/%s", signedURL, token)

	s.logger.Debug("export stored", zap.String("job_id", job.ID), zap.String("path", relPath), zap.Int("bytes", len(payload)))
	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          signedURL,
		Format:       job.Params.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// Verify checks a download token and returns what it grants access to.
func (s *ExportService) Verify(token string, allowExpired bool) (storage.DownloadClaims, error) {
	return s.signer.Verify(token, allowExpired)
}

// ContentType reports the MIME type served for a format.
func (s *ExportService) ContentType(format models.ReportFormat) string {
	if r, ok := s.renderers[format]; ok {
		return r.ContentType()
	}
	return "application/octet-stream"
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) buildFilename(job *models.ReportJob, ext string) string {
	timestamp := time.Now().UTC().Format("20060102_150405")
	scope := job.Params.TemplateID
	if scope == nil {
		scope = job.Params.SlotID
	}
	name := fmt.Sprintf("%s_%s_%s.%s", strings.ToLower(string(job.Type)), sanitizeFilename(deref(scope)), timestamp, ext)
	return name
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func (s *ExportService) buildTable(ctx context.Context, job *models.ReportJob) (export.Table, error) {
	switch job.Type {
	case models.ReportTypeEvaluations:
		return s.evaluationsTable(ctx, job.Params)
	case models.ReportTypeTemplateSummary:
		return s.templateSummaryTable(ctx, job.Params)
	default:
		return export.Table{}, fmt.Errorf("unsupported report type %s", job.Type)
	}
}

var evaluationColumns = []export.Column{
	{Key: "id", Header: "Evaluation ID", Width: 1.4},
	{Key: "type", Header: "Type", Width: 1},
	{Key: "slot", Header: "Slot ID", Width: 1.2},
	{Key: "student", Header: "Student ID", Width: 1.2},
	{Key: "author", Header: "Author ID", Width: 1.2},
	{Key: "score", Header: "Overall Score", Width: 0.9, Align: export.AlignRight},
	{Key: "ratings", Header: "Ratings", Width: 2.5},
	{Key: "submitted", Header: "Submitted At", Width: 1.5},
	{Key: "comments", Header: "Comments", Width: 2.5},
}

var summaryColumns = []export.Column{
	{Key: "label", Header: "Category", Width: 3},
	{Key: "key", Header: "Key", Width: 2},
	{Key: "weight", Header: "Weight", Align: export.AlignRight},
	{Key: "avg", Header: "Average Rating", Width: 1.3, Align: export.AlignRight},
	{Key: "count", Header: "Ratings", Align: export.AlignRight},
}

const exportPageSize = 500

func (s *ExportService) evaluationsTable(ctx context.Context, params models.ReportJobParams) (export.Table, error) {
	submitted := true
	filter := models.EvaluationFilter{
		TemplateID: deref(params.TemplateID),
		SlotID:     deref(params.SlotID),
		Submitted:  &submitted,
		PageSize:   exportPageSize,
	}
	start := time.Now()
	var evaluations []models.Evaluation
	for page := 1; ; page++ {
		filter.Page = page
		batch, total, err := s.evaluations.List(ctx, filter)
		if err != nil {
			return export.Table{}, err
		}
		evaluations = append(evaluations, batch...)
		if len(batch) < exportPageSize || len(evaluations) >= total {
			break
		}
	}
	s.metrics.ObserveDBQuery("export_evaluations", time.Since(start))

	table := export.Table{
		Title:    "Evaluations",
		Subtitle: fmt.Sprintf("%d submitted", len(evaluations)),
		Columns:  evaluationColumns,
		Rows:     make([]map[string]string, 0, len(evaluations)),
	}
	switch {
	case params.SlotID != nil && *params.SlotID != "":
		table.Title = fmt.Sprintf("Evaluations for rotation %s", *params.SlotID)
	case params.TemplateID != nil && *params.TemplateID != "":
		table.Title = fmt.Sprintf("Evaluations for template %s", *params.TemplateID)
	}
	for _, ev := range evaluations {
		table.Rows = append(table.Rows, map[string]string{
			"id":        ev.ID,
			"type":      string(ev.Type),
			"slot":      ev.SlotID,
			"student":   deref(ev.StudentID),
			"author":    ev.AuthorID,
			"score":     fmt.Sprintf("%.1f", ev.OverallScore),
			"ratings":   formatRatings(ev.Ratings),
			"submitted": formatReportTime(ev.SubmittedAt),
			"comments":  ev.Comments,
		})
	}
	return table, nil
}

func (s *ExportService) templateSummaryTable(ctx context.Context, params models.ReportJobParams) (export.Table, error) {
	templateID := deref(params.TemplateID)
	if templateID == "" {
		return export.Table{}, fmt.Errorf("template summary requires a template")
	}
	tpl, err := s.templates.FindByID(ctx, templateID)
	if err != nil {
		return export.Table{}, fmt.Errorf("load template %s: %w", templateID, err)
	}
	start := time.Now()
	summaries, err := s.evaluations.CategorySummary(ctx, templateID)
	if err != nil {
		return export.Table{}, err
	}
	s.metrics.ObserveDBQuery("export_template_summary", time.Since(start))

	byKey := make(map[string]models.CategoryScoreSummary, len(summaries))
	for _, row := range summaries {
		byKey[row.CategoryKey] = row
	}

	table := export.Table{
		Title:    fmt.Sprintf("%s summary", tpl.Name),
		Subtitle: fmt.Sprintf("%s evaluation, %d categories", tpl.Type, len(tpl.Categories)),
		Columns:  summaryColumns,
		Rows:     make([]map[string]string, 0, len(tpl.Categories)),
	}
	for _, category := range tpl.Categories {
		summary := byKey[category.Key]
		weight := ""
		if category.Weight != nil {
			weight = strconv.FormatFloat(*category.Weight, 'f', -1, 64)
		}
		table.Rows = append(table.Rows, map[string]string{
			"label":  category.Label,
			"key":    category.Key,
			"weight": weight,
			"avg":    fmt.Sprintf("%.2f", summary.Average),
			"count":  strconv.Itoa(summary.Count),
		})
	}
	return table, nil
}

func deref(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func formatReportTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatRatings(ratings models.EvaluationRatings) string {
	keys := make([]string, 0, len(ratings))
	for key := range ratings {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", key, ratings[key]))
	}
	return strings.Join(parts, "; ")
}
