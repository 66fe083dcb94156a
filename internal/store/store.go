package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/eeelify/Z-inspection-sub003/internal/catalog"
)

type Status string

const (
	StatusGenerating Status = "generating"
	StatusFinal      Status = "final"
	StatusArchived   Status = "archived"
	StatusFailed     Status = "failed"
)

var (
	ErrNotFound          = errors.New("report not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrProjectMismatch   = errors.New("report belongs to another project")
	ErrVersionConflict   = errors.New("report version conflict")
)

// transitions lists every legal status change. failed and archived are
// terminal.
var transitions = map[Status][]Status{
	StatusGenerating: {StatusFinal, StatusFailed},
	StatusFinal:      {StatusArchived},
}

// CanTransition reports whether an artifact may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SnapshotMeta is the numeric summary persisted alongside an artifact.
type SnapshotMeta struct {
	ModelVersion   string   `json:"model_version" bson:"model_version"`
	Digest         string   `json:"digest,omitempty" bson:"digest,omitempty"`
	QuestionCount  int      `json:"question_count" bson:"question_count"`
	AnswerCount    int      `json:"answer_count" bson:"answer_count"`
	OverallRisk    *float64 `json:"overall_risk" bson:"overall_risk"`
	RiskLabel      string   `json:"risk_label" bson:"risk_label"`
	EvaluatorCount int      `json:"evaluator_count" bson:"evaluator_count"`
	EvaluatorRoles []string `json:"evaluator_roles" bson:"evaluator_roles"`
}

// FileRef points at a rendered output of a report.
type FileRef struct {
	Kind   string `json:"kind" bson:"kind"`
	URI    string `json:"uri" bson:"uri"`
	SHA256 string `json:"sha256,omitempty" bson:"sha256,omitempty"`
}

type ReportArtifact struct {
	ID        uuid.UUID `json:"report_id"`
	ProjectID string    `json:"project_id"`
	Version   int       `json:"version"`
	Status    Status    `json:"status"`
	Latest    bool      `json:"latest"`

	Snapshot SnapshotMeta `json:"snapshot"`
	Files    []FileRef    `json:"files"`
	Error    string       `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
}

// ReportStore persists report artifacts. At most one artifact per project
// is latest at any time; implementations enforce this both in CommitFinal
// and structurally in their schema.
type ReportStore interface {
	// CreateDraft allocates the next version for the project as generating.
	CreateDraft(ctx context.Context, projectID string, meta SnapshotMeta) (*ReportArtifact, error)
	// SetFiles attaches rendered outputs to a draft that is still generating.
	SetFiles(ctx context.Context, reportID uuid.UUID, files []FileRef) error
	// CommitFinal finalizes the draft and makes it the project's only latest
	// artifact in a single atomic step.
	CommitFinal(ctx context.Context, projectID string, reportID uuid.UUID) (*ReportArtifact, error)
	MarkFailed(ctx context.Context, reportID uuid.UUID, reason string) (*ReportArtifact, error)
	// Archive retires a superseded final artifact. The current latest cannot
	// be archived.
	Archive(ctx context.Context, reportID uuid.UUID) (*ReportArtifact, error)

	GetReport(ctx context.Context, reportID uuid.UUID) (*ReportArtifact, error)
	// GetLatest returns nil, nil when the project has no final artifact.
	GetLatest(ctx context.Context, projectID string) (*ReportArtifact, error)
	ListReports(ctx context.Context, projectID string) ([]*ReportArtifact, error)
	ListStaleDrafts(ctx context.Context, before time.Time) ([]*ReportArtifact, error)

	Close() error
}

// CatalogStore is the inbound side: expert-authored questions and the
// append-only answer stream.
type CatalogStore interface {
	ListQuestions(ctx context.Context) ([]catalog.Question, error)
	SaveQuestion(ctx context.Context, q catalog.Question) error
	// ListAnswers returns every submission for the project, superseded ones
	// included.
	ListAnswers(ctx context.Context, projectID string) ([]catalog.Answer, error)
	AppendAnswer(ctx context.Context, a *catalog.Answer) error
}

// Store is what the service needs from a backend.
type Store interface {
	ReportStore
	CatalogStore
}

// checkCommit validates a commit against the artifact as read inside the
// commit transaction.
func checkCommit(a *ReportArtifact, projectID string) error {
	if a.ProjectID != projectID {
		return ErrProjectMismatch
	}
	if !CanTransition(a.Status, StatusFinal) {
		return ErrInvalidTransition
	}
	return nil
}

func checkArchive(a *ReportArtifact) error {
	if !CanTransition(a.Status, StatusArchived) {
		return ErrInvalidTransition
	}
	if a.Latest {
		return ErrVersionConflict
	}
	return nil
}

func stampAnswer(a *catalog.Answer) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.SubmittedAt.IsZero() {
		a.SubmittedAt = time.Now().UTC()
	}
}
