package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eeelify/Z-inspection-sub003/internal/catalog"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS report_artifacts (
	report_id    UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	project_id   TEXT NOT NULL,
	version      INTEGER NOT NULL CHECK (version > 0),
	status       TEXT NOT NULL CHECK (status IN ('generating', 'final', 'archived', 'failed')),
	latest       BOOLEAN NOT NULL DEFAULT FALSE,
	snapshot     JSONB NOT NULL DEFAULT '{}',
	files        JSONB NOT NULL DEFAULT '[]',
	error        TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	finalized_at TIMESTAMPTZ,
	UNIQUE (project_id, version),
	CHECK (NOT latest OR status = 'final')
);
CREATE UNIQUE INDEX IF NOT EXISTS report_artifacts_one_latest
	ON report_artifacts (project_id) WHERE latest;
CREATE INDEX IF NOT EXISTS report_artifacts_generating
	ON report_artifacts (created_at) WHERE status = 'generating';

CREATE TABLE IF NOT EXISTS questions (
	question_id      TEXT PRIMARY KEY,
	questionnaire_id TEXT NOT NULL DEFAULT '',
	principle        TEXT NOT NULL,
	answer_type      TEXT NOT NULL,
	importance       DOUBLE PRECISION NOT NULL CHECK (importance BETWEEN 0 AND 4),
	options          TEXT[] NOT NULL DEFAULT '{}',
	option_risks     JSONB NOT NULL DEFAULT '{}',
	numeric_mapping  JSONB
);

CREATE TABLE IF NOT EXISTS answers (
	answer_id        UUID PRIMARY KEY,
	project_id       TEXT NOT NULL,
	questionnaire_id TEXT NOT NULL DEFAULT '',
	question_id      TEXT NOT NULL,
	evaluator_id     TEXT NOT NULL,
	evaluator_role   TEXT NOT NULL DEFAULT '',
	selected         TEXT[] NOT NULL DEFAULT '{}',
	text_value       TEXT,
	number_value     DOUBLE PRECISION,
	submitted_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS answers_project ON answers (project_id, submitted_at);
`

// Migrate creates the tables and the partial unique index that makes a
// second latest artifact for a project unrepresentable.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const reportColumns = `report_id, project_id, version, status, latest, snapshot, files, error,
	created_at, updated_at, finalized_at`

func scanReport(row pgx.Row) (*ReportArtifact, error) {
	a := &ReportArtifact{}
	var snapshotJSON, filesJSON []byte
	err := row.Scan(&a.ID, &a.ProjectID, &a.Version, &a.Status, &a.Latest, &snapshotJSON, &filesJSON, &a.Error,
		&a.CreatedAt, &a.UpdatedAt, &a.FinalizedAt)
	if err != nil {
		return nil, err
	}
	if snapshotJSON != nil {
		if err := json.Unmarshal(snapshotJSON, &a.Snapshot); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
	}
	if filesJSON != nil {
		if err := json.Unmarshal(filesJSON, &a.Files); err != nil {
			return nil, fmt.Errorf("decode files: %w", err)
		}
	}
	if a.Files == nil {
		a.Files = []FileRef{}
	}
	return a, nil
}

// lockProject takes a transaction-scoped advisory lock for the project. It
// is released on commit or rollback.
func lockProject(ctx context.Context, tx pgx.Tx, projectID string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, projectID); err != nil {
		return fmt.Errorf("lock project: %w", err)
	}
	return nil
}

func (s *PostgresStore) getForUpdate(ctx context.Context, tx pgx.Tx, reportID uuid.UUID) (*ReportArtifact, error) {
	a, err := scanReport(tx.QueryRow(ctx,
		`SELECT `+reportColumns+` FROM report_artifacts WHERE report_id = $1 FOR UPDATE`, reportID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock report: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) CreateDraft(ctx context.Context, projectID string, meta SnapshotMeta) (*ReportArtifact, error) {
	snapshotJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockProject(ctx, tx, projectID); err != nil {
		return nil, err
	}

	a, err := scanReport(tx.QueryRow(ctx, `
		INSERT INTO report_artifacts (project_id, version, status, snapshot)
		SELECT $1::text, COALESCE(MAX(version), 0) + 1, $2::text, $3::jsonb FROM report_artifacts WHERE project_id = $1
		RETURNING `+reportColumns,
		projectID, StatusGenerating, snapshotJSON,
	))
	if err != nil {
		if isPgUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %v", ErrVersionConflict, err)
		}
		return nil, fmt.Errorf("insert draft: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) SetFiles(ctx context.Context, reportID uuid.UUID, files []FileRef) error {
	if files == nil {
		files = []FileRef{}
	}
	filesJSON, err := json.Marshal(files)
	if err != nil {
		return fmt.Errorf("encode files: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE report_artifacts SET files = $2, updated_at = now()
		WHERE report_id = $1 AND status = $3`,
		reportID, filesJSON, StatusGenerating,
	)
	if err != nil {
		return fmt.Errorf("set files: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetReport(ctx, reportID); err != nil {
			return err
		}
		return ErrInvalidTransition
	}
	return nil
}

// CommitFinal serializes on the project's advisory lock, clears the previous
// latest and promotes the draft. Both updates commit together or not at all.
func (s *PostgresStore) CommitFinal(ctx context.Context, projectID string, reportID uuid.UUID) (*ReportArtifact, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockProject(ctx, tx, projectID); err != nil {
		return nil, err
	}
	a, err := s.getForUpdate(ctx, tx, reportID)
	if err != nil {
		return nil, err
	}
	if err := checkCommit(a, projectID); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE report_artifacts SET latest = FALSE, updated_at = now()
		WHERE project_id = $1 AND latest`, projectID); err != nil {
		return nil, fmt.Errorf("clear latest: %w", err)
	}
	a, err = scanReport(tx.QueryRow(ctx, `
		UPDATE report_artifacts
		SET status = $2, latest = TRUE, updated_at = now(), finalized_at = now()
		WHERE report_id = $1
		RETURNING `+reportColumns,
		reportID, StatusFinal,
	))
	if err != nil {
		if isPgUniqueViolation(err) {
			return nil, ErrVersionConflict
		}
		return nil, fmt.Errorf("promote report: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, reportID uuid.UUID, reason string) (*ReportArtifact, error) {
	return s.transition(ctx, reportID, StatusFailed, &reason, func(a *ReportArtifact) error {
		if !CanTransition(a.Status, StatusFailed) {
			return ErrInvalidTransition
		}
		return nil
	})
}

func (s *PostgresStore) Archive(ctx context.Context, reportID uuid.UUID) (*ReportArtifact, error) {
	return s.transition(ctx, reportID, StatusArchived, nil, checkArchive)
}

func (s *PostgresStore) transition(ctx context.Context, reportID uuid.UUID, to Status, reason *string, check func(*ReportArtifact) error) (*ReportArtifact, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	a, err := s.getForUpdate(ctx, tx, reportID)
	if err != nil {
		return nil, err
	}
	if err := check(a); err != nil {
		return nil, err
	}
	a, err = scanReport(tx.QueryRow(ctx, `
		UPDATE report_artifacts SET status = $2, error = COALESCE($3::text, error), updated_at = now()
		WHERE report_id = $1
		RETURNING `+reportColumns,
		reportID, to, reason,
	))
	if err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) GetReport(ctx context.Context, reportID uuid.UUID) (*ReportArtifact, error) {
	a, err := scanReport(s.pool.QueryRow(ctx,
		`SELECT `+reportColumns+` FROM report_artifacts WHERE report_id = $1`, reportID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func (s *PostgresStore) GetLatest(ctx context.Context, projectID string) (*ReportArtifact, error) {
	a, err := scanReport(s.pool.QueryRow(ctx,
		`SELECT `+reportColumns+` FROM report_artifacts WHERE project_id = $1 AND latest`, projectID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (s *PostgresStore) ListReports(ctx context.Context, projectID string) ([]*ReportArtifact, error) {
	return s.queryReports(ctx,
		`SELECT `+reportColumns+` FROM report_artifacts WHERE project_id = $1 ORDER BY version`, projectID)
}

func (s *PostgresStore) ListStaleDrafts(ctx context.Context, before time.Time) ([]*ReportArtifact, error) {
	return s.queryReports(ctx,
		`SELECT `+reportColumns+` FROM report_artifacts WHERE status = $1 AND created_at < $2 ORDER BY created_at`,
		StatusGenerating, before)
}

func (s *PostgresStore) queryReports(ctx context.Context, query string, args ...interface{}) ([]*ReportArtifact, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*ReportArtifact{}
	for rows.Next() {
		a, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListQuestions(ctx context.Context) ([]catalog.Question, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT question_id, questionnaire_id, principle, answer_type, importance, options, option_risks, numeric_mapping
		FROM questions ORDER BY question_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []catalog.Question
	for rows.Next() {
		var q catalog.Question
		var risksJSON, numericJSON []byte
		if err := rows.Scan(&q.ID, &q.QuestionnaireID, &q.Principle, &q.Type, &q.Importance,
			&q.Options, &risksJSON, &numericJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(risksJSON, &q.OptionRisks); err != nil {
			return nil, fmt.Errorf("decode option risks: %w", err)
		}
		if len(q.OptionRisks) == 0 {
			q.OptionRisks = nil
		}
		if numericJSON != nil {
			q.Numeric = &catalog.NumericMapping{}
			if err := json.Unmarshal(numericJSON, q.Numeric); err != nil {
				return nil, fmt.Errorf("decode numeric mapping: %w", err)
			}
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveQuestion(ctx context.Context, q catalog.Question) error {
	if err := catalog.Validate(q); err != nil {
		return err
	}
	options := q.Options
	if options == nil {
		options = []string{}
	}
	risksJSON, numericJSON, err := encodeMappings(q)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO questions (question_id, questionnaire_id, principle, answer_type, importance, options, option_risks, numeric_mapping)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (question_id) DO UPDATE SET
			questionnaire_id = EXCLUDED.questionnaire_id, principle = EXCLUDED.principle,
			answer_type = EXCLUDED.answer_type, importance = EXCLUDED.importance,
			options = EXCLUDED.options, option_risks = EXCLUDED.option_risks,
			numeric_mapping = EXCLUDED.numeric_mapping`,
		q.ID, q.QuestionnaireID, string(q.Principle), string(q.Type), q.Importance, options, risksJSON, numericJSON,
	)
	if err != nil {
		return fmt.Errorf("save question: %w", err)
	}
	return nil
}

// encodeMappings renders the option risks and numeric mapping as jsonb
// values. A question without a numeric mapping stores NULL.
func encodeMappings(q catalog.Question) (risks, numeric []byte, err error) {
	r := q.OptionRisks
	if r == nil {
		r = map[string]float64{}
	}
	if risks, err = json.Marshal(r); err != nil {
		return nil, nil, fmt.Errorf("encode option risks: %w", err)
	}
	if q.Numeric != nil {
		if numeric, err = json.Marshal(q.Numeric); err != nil {
			return nil, nil, fmt.Errorf("encode numeric mapping: %w", err)
		}
	}
	return risks, numeric, nil
}

func (s *PostgresStore) ListAnswers(ctx context.Context, projectID string) ([]catalog.Answer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT answer_id, project_id, questionnaire_id, question_id, evaluator_id, evaluator_role,
			selected, text_value, number_value, submitted_at
		FROM answers WHERE project_id = $1 ORDER BY submitted_at`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []catalog.Answer
	for rows.Next() {
		var a catalog.Answer
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.QuestionnaireID, &a.QuestionID, &a.EvaluatorID, &a.EvaluatorRole,
			&a.Selected, &a.Text, &a.Number, &a.SubmittedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendAnswer(ctx context.Context, a *catalog.Answer) error {
	stampAnswer(a)
	selected := a.Selected
	if selected == nil {
		selected = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO answers (answer_id, project_id, questionnaire_id, question_id, evaluator_id, evaluator_role,
			selected, text_value, number_value, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.ProjectID, a.QuestionnaireID, a.QuestionID, a.EvaluatorID, a.EvaluatorRole,
		selected, a.Text, a.Number, a.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("append answer: %w", err)
	}
	return nil
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
