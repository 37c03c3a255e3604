package service

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/cliniclink-api/internal/dto"
	"github.com/noah-isme/cliniclink-api/internal/models"
	"github.com/noah-isme/cliniclink-api/internal/repository"
	appErrors "github.com/noah-isme/cliniclink-api/pkg/errors"
	"github.com/noah-isme/cliniclink-api/pkg/jobs"
)

const (
	recoverBatch = 50
	cleanupBatch = 100
)

type reportJobStore interface {
	Create(ctx context.Context, job *models.ReportJob) error
	GetByID(ctx context.Context, id string) (*models.ReportJob, error)
	Update(ctx context.Context, id string, params repository.UpdateReportJobParams) error
	ListUnfinished(ctx context.Context, limit int) ([]models.ReportJob, error)
	ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ReportJob, error)
	ClearResults(ctx context.Context, ids []string) (int64, error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type exportGenerator interface {
	Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error)
}

// ReportServiceConfig controls export retention.
type ReportServiceConfig struct {
	ResultTTL       time.Duration
	CleanupInterval time.Duration
	MaxRetries      int
}

// ReportDownload is an opened export ready to stream. The caller closes File.
type ReportDownload struct {
	File        *os.File
	Filename    string
	Format      models.ReportFormat
	ContentType string
	ExpiresAt   time.Time
}

// ReportService accepts export requests, tracks their jobs and serves the
// finished files behind signed tokens.
type ReportService struct {
	repo     reportJobStore
	slots    rotationSlotReader
	queue    jobDispatcher
	exporter *ExportService
	log      *zap.SugaredLogger
	cfg      ReportServiceConfig
}

// NewReportService constructs the report service.
func NewReportService(repo reportJobStore, slots rotationSlotReader, queue jobDispatcher, exporter *ExportService, logger *zap.Logger, cfg ReportServiceConfig) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &ReportService{
		repo:     repo,
		slots:    slots,
		queue:    queue,
		exporter: exporter,
		log:      logger.Sugar().With("component", "reports"),
		cfg:      cfg,
	}
}

// CreateJob stores a QUEUED job and hands it to the queue. A job the queue
// refuses is marked FAILED straight away.
func (s *ReportService) CreateJob(ctx context.Context, req dto.ReportRequest, actor models.CurrentUser) (*dto.ReportJobResponse, error) {
	if err := checkReportRequest(req); err != nil {
		return nil, err
	}
	if err := s.authorizeScope(ctx, req, actor); err != nil {
		return nil, err
	}

	job := &models.ReportJob{
		Type:      req.Type,
		Status:    models.ReportStatusQueued,
		CreatedBy: actor.ID,
		Params: models.ReportJobParams{
			TemplateID: nonEmpty(req.TemplateID),
			SlotID:     nonEmpty(req.SlotID),
			Format:     req.Format,
		},
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create report job")
	}

	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Type)}); err != nil {
		failed := finishedUpdate(models.ReportStatusFailed, "queue rejected the job")
		if markErr := s.repo.Update(ctx, job.ID, failed); markErr != nil {
			s.log.Warnw("mark rejected job failed", "job_id", job.ID, "error", markErr)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue report job")
	}
	s.log.Infow("report queued", "job_id", job.ID, "type", job.Type, "format", job.Params.Format, "user_id", actor.ID)
	return &dto.ReportJobResponse{ID: job.ID, Status: job.Status, Progress: job.Progress}, nil
}

// GetStatus returns job progress. Staff see every job, others only their own.
func (s *ReportService) GetStatus(ctx context.Context, id string, actor models.CurrentUser) (*dto.ReportStatusResponse, error) {
	job, err := s.loadJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsStaff() && job.CreatedBy != actor.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "report belongs to another user")
	}
	resp := &dto.ReportStatusResponse{
		ID:         job.ID,
		Type:       job.Type,
		Format:     job.Params.Format,
		Status:     job.Status,
		Progress:   job.Progress,
		ResultURL:  job.ResultURL,
		CreatedAt:  job.CreatedAt,
		FinishedAt: job.FinishedAt,
	}
	if job.ErrorMessage != nil && *job.ErrorMessage != "" {
		resp.Error = job.ErrorMessage
	}
	return resp, nil
}

// ResolveDownload checks a download token against its job and opens the file.
func (s *ReportService) ResolveDownload(ctx context.Context, token string) (*ReportDownload, error) {
	claims, err := s.exporter.Verify(token, false)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, "invalid or expired download token")
	}
	job, err := s.loadJob(ctx, claims.JobID)
	if err != nil {
		return nil, err
	}
	switch {
	case job.Status != models.ReportStatusFinished:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "report not ready")
	case job.ResultURL == nil || tokenFromURL(*job.ResultURL) != token:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token does not match report")
	}

	file, err := s.exporter.Open(claims.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "report file expired")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export file")
	}
	return &ReportDownload{
		File:        file,
		Filename:    filepath.Base(claims.Path),
		Format:      job.Params.Format,
		ContentType: s.exporter.ContentType(job.Params.Format),
		ExpiresAt:   claims.ExpiresAt,
	}, nil
}

// RecoverPendingJobs requeues jobs a previous process left QUEUED or PROCESSING.
func (s *ReportService) RecoverPendingJobs(ctx context.Context) {
	pending, err := s.repo.ListUnfinished(ctx, recoverBatch)
	if err != nil {
		s.log.Warnw("list unfinished reports failed", "error", err)
		return
	}
	requeued := 0
	for _, job := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Type)}); err != nil {
			s.log.Warnw("requeue report failed", "job_id", job.ID, "error", err)
			continue
		}
		requeued++
	}
	if requeued > 0 {
		s.log.Infow("reports recovered", "count", requeued)
	}
}

// StartCleanup purges expired exports every CleanupInterval until ctx ends.
func (s *ReportService) StartCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(s.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.cleanupExpired(ctx)
			}
		}
	}()
}

// cleanupExpired deletes files of jobs finished before the TTL, clears their
// result URLs, then sweeps orphaned files from storage.
func (s *ReportService) cleanupExpired(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.ResultTTL)
	cleared := 0
	for {
		expired, err := s.repo.ListFinishedBefore(ctx, cutoff, cleanupBatch)
		if err != nil {
			s.log.Warnw("list expired reports failed", "error", err)
			return
		}
		if len(expired) == 0 {
			break
		}
		ids := make([]string, len(expired))
		for i, job := range expired {
			ids[i] = job.ID
			s.removeExport(job)
		}
		if _, err := s.repo.ClearResults(ctx, ids); err != nil {
			s.log.Warnw("clear expired results failed", "error", err)
			return
		}
		cleared += len(ids)
		if len(expired) < cleanupBatch {
			break
		}
	}

	removed, err := s.exporter.Cleanup(s.cfg.ResultTTL)
	if err != nil {
		s.log.Warnw("sweep export storage failed", "error", err)
		return
	}
	if cleared > 0 || len(removed) > 0 {
		s.log.Infow("expired reports purged", "jobs", cleared, "files", len(removed))
	}
}

func (s *ReportService) removeExport(job models.ReportJob) {
	if job.ResultURL == nil {
		return
	}
	claims, err := s.exporter.Verify(tokenFromURL(*job.ResultURL), true)
	if err != nil {
		s.log.Debugw("unreadable result token", "job_id", job.ID, "error", err)
		return
	}
	if err := s.exporter.Delete(claims.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warnw("delete expired export failed", "job_id", job.ID, "error", err)
	}
}

func (s *ReportService) loadJob(ctx context.Context, id string) (*models.ReportJob, error) {
	job, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "report job not found")
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report job")
	}
	return job, nil
}

func checkReportRequest(req dto.ReportRequest) error {
	switch {
	case !req.Type.Valid():
		return appErrors.Clone(appErrors.ErrValidation, "unsupported report type")
	case !req.Format.Valid():
		return appErrors.Clone(appErrors.ErrValidation, "unsupported report format")
	case req.Type == models.ReportTypeTemplateSummary && nonEmpty(req.TemplateID) == nil:
		return appErrors.Clone(appErrors.ErrValidation, "template_id is required for template summaries")
	}
	return nil
}

// authorizeScope lets staff export anything. Preceptors may export the
// evaluations of a slot they supervise; everyone else is refused.
func (s *ReportService) authorizeScope(ctx context.Context, req dto.ReportRequest, actor models.CurrentUser) error {
	if actor.IsStaff() {
		return nil
	}
	if actor.Role != models.RolePreceptor {
		return appErrors.Clone(appErrors.ErrForbidden, "reports are limited to staff and preceptors")
	}
	slotID := nonEmpty(req.SlotID)
	if req.Type != models.ReportTypeEvaluations || slotID == nil {
		return appErrors.Clone(appErrors.ErrValidation, "slot_id is required for preceptor exports")
	}
	if s.slots == nil {
		return appErrors.Clone(appErrors.ErrInternal, "slot lookup unavailable")
	}
	slot, err := s.slots.FindByID(ctx, *slotID)
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "rotation slot not found")
	}
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rotation slot")
	}
	if slot.PreceptorID == nil || *slot.PreceptorID != actor.ID {
		return appErrors.Clone(appErrors.ErrForbidden, "slot is supervised by another preceptor")
	}
	return nil
}

// tokenFromURL returns the last path segment of a result URL.
func tokenFromURL(url string) string {
	if url == "" {
		return ""
	}
	return path.Base(strings.TrimRight(url, "/"))
}

func finishedUpdate(status models.ReportStatus, message string) repository.UpdateReportJobParams {
	now := time.Now().UTC()
	progress := 100
	return repository.UpdateReportJobParams{
		Status:       &status,
		Progress:     &progress,
		ErrorMessage: &message,
		FinishedAt:   &now,
	}
}

// ReportWorker runs queued report jobs through the exporter.
type ReportWorker struct {
	repo       reportJobStore
	exporter   exportGenerator
	log        *zap.SugaredLogger
	maxRetries int
}

func NewReportWorker(repo reportJobStore, exporter exportGenerator, maxRetries int, logger *zap.Logger) *ReportWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &ReportWorker{
		repo:       repo,
		exporter:   exporter,
		log:        logger.Sugar().With("component", "report_worker"),
		maxRetries: maxRetries,
	}
}

// Handle is the jobs.Handler for report jobs. A returned error makes the
// queue retry; the job is only marked FAILED once retries run out.
func (w *ReportWorker) Handle(ctx context.Context, job jobs.Job) error {
	record, err := w.repo.GetByID(ctx, job.ID)
	if errors.Is(err, sql.ErrNoRows) {
		w.log.Warnw("report job vanished", "job_id", job.ID)
		return nil
	}
	if err != nil {
		return err
	}
	if record.Status.Terminal() {
		return nil
	}

	processing := models.ReportStatusProcessing
	started := 10
	if err := w.transition(ctx, job.ID, repository.UpdateReportJobParams{Status: &processing, Progress: &started}); err != nil {
		return err
	}

	result, genErr := w.exporter.Generate(ctx, record)
	if genErr != nil {
		if job.Attempt >= w.maxRetries {
			_ = w.transition(ctx, job.ID, finishedUpdate(models.ReportStatusFailed, genErr.Error()))
		} else {
			queued := models.ReportStatusQueued
			reset := 0
			msg := genErr.Error()
			_ = w.transition(ctx, job.ID, repository.UpdateReportJobParams{Status: &queued, Progress: &reset, ErrorMessage: &msg})
		}
		return genErr
	}

	done := finishedUpdate(models.ReportStatusFinished, "")
	done.ResultURL = &result.URL
	return w.transition(ctx, job.ID, done)
}

func (w *ReportWorker) transition(ctx context.Context, id string, params repository.UpdateReportJobParams) error {
	if err := w.repo.Update(ctx, id, params); err != nil {
		w.log.Warnw("report status update failed", "job_id", id, "status", params.Status, "error", err)
		return err
	}
	if params.Status != nil {
		w.log.Debugw("report status changed", "job_id", id, "status", *params.Status)
	}
	return nil
}
