package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eeelify/Z-inspection-sub003/internal/catalog"

	_ "modernc.org/sqlite"
)

// SQLStore implements Store on database/sql with the SQLite dialect.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS report_artifacts (
	report_id    TEXT PRIMARY KEY,
	project_id   TEXT NOT NULL,
	version      INTEGER NOT NULL,
	status       TEXT NOT NULL,
	latest       INTEGER NOT NULL DEFAULT 0,
	snapshot     TEXT NOT NULL DEFAULT '{}',
	files        TEXT NOT NULL DEFAULT '[]',
	error        TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL,
	finalized_at TEXT,
	UNIQUE (project_id, version),
	CHECK (latest = 0 OR status = 'final')
);
CREATE UNIQUE INDEX IF NOT EXISTS report_artifacts_one_latest
	ON report_artifacts (project_id) WHERE latest = 1;
CREATE INDEX IF NOT EXISTS report_artifacts_generating
	ON report_artifacts (created_at) WHERE status = 'generating';

CREATE TABLE IF NOT EXISTS questions (
	question_id      TEXT PRIMARY KEY,
	questionnaire_id TEXT NOT NULL DEFAULT '',
	principle        TEXT NOT NULL,
	answer_type      TEXT NOT NULL,
	importance       REAL NOT NULL,
	options          TEXT NOT NULL DEFAULT '[]',
	option_risks     TEXT NOT NULL DEFAULT '{}',
	numeric_mapping  TEXT
);

CREATE TABLE IF NOT EXISTS answers (
	answer_id        TEXT PRIMARY KEY,
	project_id       TEXT NOT NULL,
	questionnaire_id TEXT NOT NULL DEFAULT '',
	question_id      TEXT NOT NULL,
	evaluator_id     TEXT NOT NULL,
	evaluator_role   TEXT NOT NULL DEFAULT '',
	selected         TEXT NOT NULL DEFAULT '[]',
	text_value       TEXT,
	number_value     REAL,
	submitted_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS answers_project ON answers (project_id);
`

// NewSQLStore opens dsn with the modernc SQLite driver and applies the schema.
// SQLite admits one writer at a time, so the pool is capped at a single
// connection; this also keeps ":memory:" databases shared.
func NewSQLStore(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := NewSQLStoreFromDB(db)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStoreFromDB wraps an already opened database without migrating it.
func NewSQLStoreFromDB(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

const sqlReportColumns = `report_id, project_id, version, status, latest, snapshot, files, error,
	created_at, updated_at, finalized_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLReport(row rowScanner) (*ReportArtifact, error) {
	var (
		a                    ReportArtifact
		id                   string
		status               string
		snapshotJSON         string
		filesJSON            string
		createdAt, updatedAt string
		finalizedAt          sql.NullString
	)
	if err := row.Scan(&id, &a.ProjectID, &a.Version, &status, &a.Latest, &snapshotJSON, &filesJSON, &a.Error,
		&createdAt, &updatedAt, &finalizedAt); err != nil {
		return nil, err
	}
	var err error
	if a.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse report id: %w", err)
	}
	a.Status = Status(status)
	if err := json.Unmarshal([]byte(snapshotJSON), &a.Snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(filesJSON), &a.Files); err != nil {
		return nil, fmt.Errorf("decode files: %w", err)
	}
	if a.Files == nil {
		a.Files = []FileRef{}
	}
	if a.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, err
	}
	if finalizedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, finalizedAt.String)
		if err != nil {
			return nil, err
		}
		a.FinalizedAt = &t
	}
	return &a, nil
}

// sqlTimeLayout is fixed width so that stored timestamps order correctly as
// text.
const sqlTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqlTimeLayout)
}

func (s *SQLStore) getTx(ctx context.Context, tx *sql.Tx, reportID uuid.UUID) (*ReportArtifact, error) {
	a, err := scanSQLReport(tx.QueryRowContext(ctx,
		`SELECT `+sqlReportColumns+` FROM report_artifacts WHERE report_id = ?`, reportID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func (s *SQLStore) CreateDraft(ctx context.Context, projectID string, meta SnapshotMeta) (*ReportArtifact, error) {
	snapshotJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var version int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM report_artifacts WHERE project_id = ?`, projectID,
	).Scan(&version); err != nil {
		return nil, fmt.Errorf("next version: %w", err)
	}

	now := s.now()
	a := &ReportArtifact{
		ID:        uuid.New(),
		ProjectID: projectID,
		Version:   version,
		Status:    StatusGenerating,
		Snapshot:  meta,
		Files:     []FileRef{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO report_artifacts (report_id, project_id, version, status, latest, snapshot, files, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, '[]', ?, ?)`,
		a.ID.String(), projectID, version, string(StatusGenerating), string(snapshotJSON), formatTime(now), formatTime(now),
	); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: version %d", ErrVersionConflict, version)
		}
		return nil, fmt.Errorf("insert draft: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return a, nil
}

func (s *SQLStore) SetFiles(ctx context.Context, reportID uuid.UUID, files []FileRef) error {
	if files == nil {
		files = []FileRef{}
	}
	filesJSON, err := json.Marshal(files)
	if err != nil {
		return fmt.Errorf("encode files: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	a, err := s.getTx(ctx, tx, reportID)
	if err != nil {
		return err
	}
	if a.Status != StatusGenerating {
		return ErrInvalidTransition
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE report_artifacts SET files = ?, updated_at = ? WHERE report_id = ?`,
		string(filesJSON), formatTime(s.now()), reportID.String(),
	); err != nil {
		return fmt.Errorf("set files: %w", err)
	}
	return tx.Commit()
}

// CommitFinal clears the previous latest and promotes the draft in one
// transaction. Any failure rolls back both updates.
func (s *SQLStore) CommitFinal(ctx context.Context, projectID string, reportID uuid.UUID) (*ReportArtifact, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	a, err := s.getTx(ctx, tx, reportID)
	if err != nil {
		return nil, err
	}
	if err := checkCommit(a, projectID); err != nil {
		return nil, err
	}

	now := s.now()
	if _, err := tx.ExecContext(ctx,
		`UPDATE report_artifacts SET latest = 0, updated_at = ? WHERE project_id = ? AND latest = 1`,
		formatTime(now), projectID,
	); err != nil {
		return nil, fmt.Errorf("clear latest: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE report_artifacts SET status = ?, latest = 1, updated_at = ?, finalized_at = ? WHERE report_id = ? AND status = ?`,
		string(StatusFinal), formatTime(now), formatTime(now), reportID.String(), string(StatusGenerating),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrVersionConflict
		}
		return nil, fmt.Errorf("promote report: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		return nil, ErrInvalidTransition
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	a.Status = StatusFinal
	a.Latest = true
	a.UpdatedAt = now
	a.FinalizedAt = &now
	return a, nil
}

func (s *SQLStore) MarkFailed(ctx context.Context, reportID uuid.UUID, reason string) (*ReportArtifact, error) {
	return s.transition(ctx, reportID, StatusFailed, reason, func(a *ReportArtifact) error {
		if !CanTransition(a.Status, StatusFailed) {
			return ErrInvalidTransition
		}
		return nil
	})
}

func (s *SQLStore) Archive(ctx context.Context, reportID uuid.UUID) (*ReportArtifact, error) {
	return s.transition(ctx, reportID, StatusArchived, "", checkArchive)
}

func (s *SQLStore) transition(ctx context.Context, reportID uuid.UUID, to Status, reason string, check func(*ReportArtifact) error) (*ReportArtifact, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	a, err := s.getTx(ctx, tx, reportID)
	if err != nil {
		return nil, err
	}
	if err := check(a); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = a.Error
	}
	now := s.now()
	if _, err := tx.ExecContext(ctx,
		`UPDATE report_artifacts SET status = ?, error = ?, updated_at = ? WHERE report_id = ?`,
		string(to), reason, formatTime(now), reportID.String(),
	); err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	a.Status = to
	a.Error = reason
	a.UpdatedAt = now
	return a, nil
}

func (s *SQLStore) GetReport(ctx context.Context, reportID uuid.UUID) (*ReportArtifact, error) {
	a, err := scanSQLReport(s.db.QueryRowContext(ctx,
		`SELECT `+sqlReportColumns+` FROM report_artifacts WHERE report_id = ?`, reportID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func (s *SQLStore) GetLatest(ctx context.Context, projectID string) (*ReportArtifact, error) {
	a, err := scanSQLReport(s.db.QueryRowContext(ctx,
		`SELECT `+sqlReportColumns+` FROM report_artifacts WHERE project_id = ? AND latest = 1`, projectID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (s *SQLStore) ListReports(ctx context.Context, projectID string) ([]*ReportArtifact, error) {
	return s.queryReports(ctx,
		`SELECT `+sqlReportColumns+` FROM report_artifacts WHERE project_id = ? ORDER BY version`, projectID)
}

func (s *SQLStore) ListStaleDrafts(ctx context.Context, before time.Time) ([]*ReportArtifact, error) {
	return s.queryReports(ctx,
		`SELECT `+sqlReportColumns+` FROM report_artifacts WHERE status = ? AND created_at < ? ORDER BY created_at`,
		string(StatusGenerating), formatTime(before))
}

func (s *SQLStore) queryReports(ctx context.Context, query string, args ...any) ([]*ReportArtifact, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []*ReportArtifact{}
	for rows.Next() {
		a, err := scanSQLReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLStore) ListQuestions(ctx context.Context) ([]catalog.Question, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT question_id, questionnaire_id, principle, answer_type, importance, options, option_risks, numeric_mapping
		FROM questions ORDER BY question_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []catalog.Question
	for rows.Next() {
		var (
			q                      catalog.Question
			principle, qtype       string
			optionsJSON, risksJSON string
			numericJSON            sql.NullString
		)
		if err := rows.Scan(&q.ID, &q.QuestionnaireID, &principle, &qtype, &q.Importance,
			&optionsJSON, &risksJSON, &numericJSON); err != nil {
			return nil, err
		}
		q.Principle = catalog.Principle(principle)
		q.Type = catalog.AnswerType(qtype)
		if err := decodeQuestionJSON(&q, optionsJSON, risksJSON, numericJSON.String); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *SQLStore) SaveQuestion(ctx context.Context, q catalog.Question) error {
	if err := catalog.Validate(q); err != nil {
		return err
	}
	optionsJSON, risksJSON, numericJSON, err := encodeQuestionJSON(q)
	if err != nil {
		return err
	}
	var numeric any
	if numericJSON != "" {
		numeric = numericJSON
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO questions (question_id, questionnaire_id, principle, answer_type, importance, options, option_risks, numeric_mapping)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (question_id) DO UPDATE SET
			questionnaire_id = excluded.questionnaire_id, principle = excluded.principle,
			answer_type = excluded.answer_type, importance = excluded.importance,
			options = excluded.options, option_risks = excluded.option_risks,
			numeric_mapping = excluded.numeric_mapping`,
		q.ID, q.QuestionnaireID, string(q.Principle), string(q.Type), q.Importance, optionsJSON, risksJSON, numeric,
	)
	if err != nil {
		return fmt.Errorf("save question: %w", err)
	}
	return nil
}

func (s *SQLStore) ListAnswers(ctx context.Context, projectID string) ([]catalog.Answer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT answer_id, project_id, questionnaire_id, question_id, evaluator_id, evaluator_role,
			selected, text_value, number_value, submitted_at
		FROM answers WHERE project_id = ? ORDER BY submitted_at`, projectID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []catalog.Answer
	for rows.Next() {
		var (
			a            catalog.Answer
			id           string
			selectedJSON string
			text         sql.NullString
			number       sql.NullFloat64
			submittedAt  string
		)
		if err := rows.Scan(&id, &a.ProjectID, &a.QuestionnaireID, &a.QuestionID, &a.EvaluatorID, &a.EvaluatorRole,
			&selectedJSON, &text, &number, &submittedAt); err != nil {
			return nil, err
		}
		if a.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse answer id: %w", err)
		}
		if err := json.Unmarshal([]byte(selectedJSON), &a.Selected); err != nil {
			return nil, fmt.Errorf("decode selection: %w", err)
		}
		if text.Valid {
			a.Text = &text.String
		}
		if number.Valid {
			a.Number = &number.Float64
		}
		if a.SubmittedAt, err = time.Parse(time.RFC3339Nano, submittedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLStore) AppendAnswer(ctx context.Context, a *catalog.Answer) error {
	stampAnswer(a)
	selected := a.Selected
	if selected == nil {
		selected = []string{}
	}
	selectedJSON, err := json.Marshal(selected)
	if err != nil {
		return fmt.Errorf("encode selection: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO answers (answer_id, project_id, questionnaire_id, question_id, evaluator_id, evaluator_role,
			selected, text_value, number_value, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.ProjectID, a.QuestionnaireID, a.QuestionID, a.EvaluatorID, a.EvaluatorRole,
		string(selectedJSON), nullableString(a.Text), nullableFloat(a.Number), formatTime(a.SubmittedAt),
	)
	if err != nil {
		return fmt.Errorf("append answer: %w", err)
	}
	return nil
}

func encodeQuestionJSON(q catalog.Question) (options, risks, numeric string, err error) {
	opts := q.Options
	if opts == nil {
		opts = []string{}
	}
	b, err := json.Marshal(opts)
	if err != nil {
		return "", "", "", fmt.Errorf("encode options: %w", err)
	}
	options = string(b)
	r := q.OptionRisks
	if r == nil {
		r = map[string]float64{}
	}
	if b, err = json.Marshal(r); err != nil {
		return "", "", "", fmt.Errorf("encode option risks: %w", err)
	}
	risks = string(b)
	if q.Numeric != nil {
		if b, err = json.Marshal(q.Numeric); err != nil {
			return "", "", "", fmt.Errorf("encode numeric mapping: %w", err)
		}
		numeric = string(b)
	}
	return options, risks, numeric, nil
}

// decodeQuestionJSON restores the JSON columns. An empty risk map decodes to
// nil so that an unmapped question stays unmapped.
func decodeQuestionJSON(q *catalog.Question, options, risks, numeric string) error {
	if err := json.Unmarshal([]byte(options), &q.Options); err != nil {
		return fmt.Errorf("decode options: %w", err)
	}
	if err := json.Unmarshal([]byte(risks), &q.OptionRisks); err != nil {
		return fmt.Errorf("decode option risks: %w", err)
	}
	if len(q.OptionRisks) == 0 {
		q.OptionRisks = nil
	}
	if numeric != "" {
		q.Numeric = &catalog.NumericMapping{}
		if err := json.Unmarshal([]byte(numeric), q.Numeric); err != nil {
			return fmt.Errorf("decode numeric mapping: %w", err)
		}
	}
	return nil
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "SQLSTATE 23505")
}
