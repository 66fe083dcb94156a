// Package report orchestrates scoring snapshots and the report artifact
// lifecycle: draft, render, commit, fail and archive.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/eeelify/Z-inspection-sub003/internal/hermes"
	"github.com/eeelify/Z-inspection-sub003/internal/lock"
	"github.com/eeelify/Z-inspection-sub003/internal/metrics"
	"github.com/eeelify/Z-inspection-sub003/internal/scoring"
	"github.com/eeelify/Z-inspection-sub003/internal/store"
)

// Config carries the scoring parameters the service stamps on every
// snapshot.
type Config struct {
	ModelVersion string
	Deriver      *scoring.Deriver
	LockTimeout  time.Duration
}

type Service struct {
	store    store.Store
	locker   lock.Locker
	hermes   hermes.Client
	renderer Renderer
	cfg      Config
	logger   *slog.Logger
	tracer   trace.Tracer
}

func NewService(s store.Store, l lock.Locker, h hermes.Client, r Renderer, cfg Config, logger *slog.Logger) *Service {
	if cfg.Deriver == nil {
		cfg.Deriver = scoring.DefaultDeriver()
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 30 * time.Second
	}
	if l == nil {
		l = lock.NewLocal()
	}
	return &Service{
		store:    s,
		locker:   l,
		hermes:   h,
		renderer: r,
		cfg:      cfg,
		logger:   logger,
		tracer:   otel.Tracer("github.com/eeelify/Z-inspection-sub003/internal/report"),
	}
}

func (s *Service) publish(subject string, event interface{}) {
	if s.hermes == nil {
		return
	}
	if err := s.hermes.Publish(subject, event); err != nil {
		s.logger.Warn("failed to publish event", "subject", subject, "error", err)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Snapshot scores the project's current answers against the catalog.
func (s *Service) Snapshot(ctx context.Context, projectID string) (_ *scoring.Snapshot, err error) {
	ctx, span := s.tracer.Start(ctx, "report.Snapshot", trace.WithAttributes(attribute.String("project_id", projectID)))
	defer func() { endSpan(span, err) }()

	questions, err := s.store.ListQuestions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	answers, err := s.store.ListAnswers(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}

	snap := scoring.BuildSnapshot(scoring.SnapshotInput{
		ProjectID:    projectID,
		ModelVersion: s.cfg.ModelVersion,
		Questions:    questions,
		Answers:      answers,
		Deriver:      s.cfg.Deriver,
	})
	metrics.ObserveSnapshot(snap)
	span.SetAttributes(
		attribute.Int("answer_count", snap.AnswerCount),
		attribute.Int("rejected_count", len(snap.Rejected)),
		attribute.String("overall_label", string(snap.OverallLabel)),
	)

	for _, r := range snap.Rejected {
		s.logger.Warn("answer rejected", "project_id", projectID, "question_id", r.QuestionID,
			"evaluator_id", r.EvaluatorID, "reason", r.Reason)
	}
	if hasDefects(snap) {
		s.publish(hermes.SubjectQualityDefects(projectID), qualityEvent(snap))
	}
	return snap, nil
}

func hasDefects(snap *scoring.Snapshot) bool {
	return len(snap.Quality.MappingDefects) > 0 || len(snap.Rejected) > 0 ||
		snap.FlagCount(scoring.FlagMappingMissing) > 0 || snap.FlagCount(scoring.FlagEmpty) > 0
}

func qualityEvent(snap *scoring.Snapshot) hermes.QualityDefectsEvent {
	counts := make(map[string]int, len(snap.Quality.FlagCounts))
	for f, n := range snap.Quality.FlagCounts {
		counts[string(f)] = n
	}
	gaps := make([]string, 0, len(snap.CoverageGaps))
	for _, p := range snap.CoverageGaps {
		gaps = append(gaps, string(p))
	}
	return hermes.QualityDefectsEvent{
		ProjectID:      snap.ProjectID,
		FlagCounts:     counts,
		MappingDefects: len(snap.Quality.MappingDefects),
		Rejected:       len(snap.Rejected),
		CoverageGaps:   gaps,
		Timestamp:      time.Now().UTC(),
	}
}

// MetaFromSnapshot is the summary persisted with an artifact.
func MetaFromSnapshot(snap *scoring.Snapshot) (store.SnapshotMeta, error) {
	digest, err := snap.Digest()
	if err != nil {
		return store.SnapshotMeta{}, err
	}
	return store.SnapshotMeta{
		ModelVersion:   snap.ModelVersion,
		Digest:         digest,
		QuestionCount:  snap.QuestionCount,
		AnswerCount:    snap.AnswerCount,
		OverallRisk:    snap.Overall,
		RiskLabel:      string(snap.OverallLabel),
		EvaluatorCount: snap.Evaluators.Count,
		EvaluatorRoles: snap.Evaluators.Roles,
	}, nil
}

// CreateDraft scores the project and allocates the next report version for it.
func (s *Service) CreateDraft(ctx context.Context, projectID string) (*store.ReportArtifact, *scoring.Snapshot, error) {
	snap, err := s.Snapshot(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	a, err := s.draft(ctx, snap)
	if err != nil {
		return nil, nil, err
	}
	return a, snap, nil
}

func (s *Service) draft(ctx context.Context, snap *scoring.Snapshot) (_ *store.ReportArtifact, err error) {
	ctx, span := s.tracer.Start(ctx, "report.CreateDraft", trace.WithAttributes(attribute.String("project_id", snap.ProjectID)))
	defer func() { endSpan(span, err) }()

	meta, err := MetaFromSnapshot(snap)
	if err != nil {
		return nil, err
	}
	a, err := s.store.CreateDraft(ctx, snap.ProjectID, meta)
	if err != nil {
		return nil, fmt.Errorf("create draft: %w", err)
	}
	span.SetAttributes(attribute.String("report_id", a.ID.String()), attribute.Int("version", a.Version))

	metrics.ReportTransitions.WithLabelValues(string(store.StatusGenerating)).Inc()
	s.publish(hermes.SubjectReportDrafted(a.ID.String()), hermes.ReportDraftedEvent{
		ReportID:     a.ID.String(),
		ProjectID:    a.ProjectID,
		Version:      a.Version,
		ModelVersion: meta.ModelVersion,
	})
	s.logger.Info("report drafted", "project_id", a.ProjectID, "report_id", a.ID, "version", a.Version)
	return a, nil
}

// Commit makes the draft the project's latest report. It takes the
// project lock first; if the lock cannot be had the commit fails without
// touching any artifact. Once the store call starts it runs to completion
// even if ctx is cancelled.
func (s *Service) Commit(ctx context.Context, projectID string, reportID uuid.UUID) (_ *store.ReportArtifact, err error) {
	ctx, span := s.tracer.Start(ctx, "report.Commit", trace.WithAttributes(
		attribute.String("project_id", projectID),
		attribute.String("report_id", reportID.String()),
	))
	start := time.Now()
	defer func() {
		metrics.CommitDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.CommitFailures.Inc()
			s.logger.Warn("report commit failed", "project_id", projectID, "report_id", reportID, "error", err)
		}
		endSpan(span, err)
	}()

	lockCtx, cancel := context.WithTimeout(ctx, s.cfg.LockTimeout)
	unlock, err := s.locker.Lock(lockCtx, projectID)
	cancel()
	if err != nil {
		return nil, err
	}
	defer unlock()

	commitCtx := context.WithoutCancel(ctx)
	previous, err := s.store.GetLatest(commitCtx, projectID)
	if err != nil {
		return nil, fmt.Errorf("read latest: %w", err)
	}
	a, err := s.store.CommitFinal(commitCtx, projectID, reportID)
	if err != nil {
		return nil, err
	}

	metrics.ReportTransitions.WithLabelValues(string(store.StatusFinal)).Inc()
	event := hermes.ReportFinalizedEvent{
		ReportID:    a.ID.String(),
		ProjectID:   a.ProjectID,
		Version:     a.Version,
		OverallRisk: a.Snapshot.OverallRisk,
		RiskLabel:   a.Snapshot.RiskLabel,
	}
	if previous != nil {
		event.SupersededVersion = previous.Version
	}
	s.publish(hermes.SubjectReportFinalized(a.ID.String()), event)
	s.logger.Info("report finalized", "project_id", a.ProjectID, "report_id", a.ID, "version", a.Version)
	return a, nil
}

// Fail marks a generating draft as failed. It never becomes latest.
func (s *Service) Fail(ctx context.Context, reportID uuid.UUID, reason string) (_ *store.ReportArtifact, err error) {
	ctx, span := s.tracer.Start(ctx, "report.Fail", trace.WithAttributes(attribute.String("report_id", reportID.String())))
	defer func() { endSpan(span, err) }()

	a, err := s.store.MarkFailed(ctx, reportID, reason)
	if err != nil {
		return nil, err
	}
	metrics.ReportTransitions.WithLabelValues(string(store.StatusFailed)).Inc()
	s.publish(hermes.SubjectReportFailed(a.ID.String()), hermes.ReportFailedEvent{
		ReportID:  a.ID.String(),
		ProjectID: a.ProjectID,
		Version:   a.Version,
		Error:     reason,
	})
	s.logger.Warn("report failed", "project_id", a.ProjectID, "report_id", a.ID, "version", a.Version, "reason", reason)
	return a, nil
}

// Archive retires a superseded final report.
func (s *Service) Archive(ctx context.Context, reportID uuid.UUID) (_ *store.ReportArtifact, err error) {
	ctx, span := s.tracer.Start(ctx, "report.Archive", trace.WithAttributes(attribute.String("report_id", reportID.String())))
	defer func() { endSpan(span, err) }()

	a, err := s.store.Archive(ctx, reportID)
	if err != nil {
		return nil, err
	}
	metrics.ReportTransitions.WithLabelValues(string(store.StatusArchived)).Inc()
	s.publish(hermes.SubjectReportArchived(a.ID.String()), hermes.ReportArchivedEvent{
		ReportID:  a.ID.String(),
		ProjectID: a.ProjectID,
		Version:   a.Version,
	})
	return a, nil
}

// Generate runs the whole pipeline: snapshot, draft, render, commit. A
// render or commit failure marks the draft failed and leaves the previous
// latest report in place.
func (s *Service) Generate(ctx context.Context, projectID string) (_ *store.ReportArtifact, err error) {
	ctx, span := s.tracer.Start(ctx, "report.Generate", trace.WithAttributes(attribute.String("project_id", projectID)))
	defer func() { endSpan(span, err) }()

	a, snap, err := s.CreateDraft(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if s.renderer != nil {
		files, err := s.renderer.Render(ctx, a, snap)
		if err != nil {
			s.failQuietly(ctx, a.ID, fmt.Sprintf("render: %v", err))
			return nil, fmt.Errorf("render report: %w", err)
		}
		if err := s.store.SetFiles(ctx, a.ID, files); err != nil {
			s.failQuietly(ctx, a.ID, fmt.Sprintf("attach files: %v", err))
			return nil, fmt.Errorf("attach files: %w", err)
		}
	}

	final, err := s.Commit(ctx, projectID, a.ID)
	if err != nil {
		s.failQuietly(ctx, a.ID, fmt.Sprintf("commit: %v", err))
		return nil, err
	}
	return final, nil
}

func (s *Service) failQuietly(ctx context.Context, reportID uuid.UUID, reason string) {
	if _, err := s.Fail(context.WithoutCancel(ctx), reportID, reason); err != nil && !errors.Is(err, store.ErrInvalidTransition) {
		s.logger.Error("failed to mark report failed", "report_id", reportID, "error", err)
	}
}

func (s *Service) Get(ctx context.Context, reportID uuid.UUID) (*store.ReportArtifact, error) {
	return s.store.GetReport(ctx, reportID)
}

// Latest returns nil when the project has no final report.
func (s *Service) Latest(ctx context.Context, projectID string) (*store.ReportArtifact, error) {
	return s.store.GetLatest(ctx, projectID)
}

func (s *Service) List(ctx context.Context, projectID string) ([]*store.ReportArtifact, error) {
	return s.store.ListReports(ctx, projectID)
}

// StaleDrafts lists drafts that have been generating since before cutoff.
func (s *Service) StaleDrafts(ctx context.Context, cutoff time.Time) ([]*store.ReportArtifact, error) {
	return s.store.ListStaleDrafts(ctx, cutoff)
}
