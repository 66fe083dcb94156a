package hermes

import "time"

// AnswerSubmittedEvent is the inbound answer stream. Each event is a new
// immutable submission; a later one for the same evaluator and question
// supersedes it.
type AnswerSubmittedEvent struct {
	ProjectID       string    `json:"project_id"`
	QuestionnaireID string    `json:"questionnaire_id,omitempty"`
	QuestionID      string    `json:"question_id"`
	EvaluatorID     string    `json:"evaluator_id"`
	EvaluatorRole   string    `json:"evaluator_role,omitempty"`
	Selected        []string  `json:"selected,omitempty"`
	Text            *string   `json:"text,omitempty"`
	Number          *float64  `json:"number,omitempty"`
	SubmittedAt     time.Time `json:"submitted_at"`
}

type ReportDraftedEvent struct {
	ReportID     string `json:"report_id"`
	ProjectID    string `json:"project_id"`
	Version      int    `json:"version"`
	ModelVersion string `json:"model_version"`
}

type ReportFinalizedEvent struct {
	ReportID          string   `json:"report_id"`
	ProjectID         string   `json:"project_id"`
	Version           int      `json:"version"`
	OverallRisk       *float64 `json:"overall_risk"`
	RiskLabel         string   `json:"risk_label"`
	SupersededVersion int      `json:"superseded_version,omitempty"`
}

type ReportFailedEvent struct {
	ReportID  string `json:"report_id"`
	ProjectID string `json:"project_id"`
	Version   int    `json:"version"`
	Error     string `json:"error"`
}

type ReportArchivedEvent struct {
	ReportID  string `json:"report_id"`
	ProjectID string `json:"project_id"`
	Version   int    `json:"version"`
}

// QualityDefectsEvent summarises data-quality defects found while scoring a
// project.
type QualityDefectsEvent struct {
	ProjectID      string         `json:"project_id"`
	FlagCounts     map[string]int `json:"flag_counts"`
	MappingDefects int            `json:"mapping_defects"`
	Rejected       int            `json:"rejected"`
	CoverageGaps   []string       `json:"coverage_gaps"`
	Timestamp      time.Time      `json:"timestamp"`
}
