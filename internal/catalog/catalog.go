// Package catalog holds the inbound questionnaire data the risk core reads:
// questions with their importance weights and option risk maps, and the
// answers evaluators submit against them.
package catalog

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

type AnswerType string

const (
	TypeSingleChoice AnswerType = "single_choice"
	TypeMultiChoice  AnswerType = "multi_choice"
	TypeOpenText     AnswerType = "open_text"
	TypeNumeric      AnswerType = "numeric"
)

// IsChoice reports whether answers of this type select option keys.
func (t AnswerType) IsChoice() bool {
	return t == TypeSingleChoice || t == TypeMultiChoice
}

type Principle string

// The seven requirements for trustworthy AI every question is tagged with.
const (
	PrincipleHumanAgency    Principle = "human_agency_oversight"
	PrincipleRobustness     Principle = "technical_robustness_safety"
	PrincipleDataGovernance Principle = "privacy_data_governance"
	PrincipleTransparency   Principle = "transparency"
	PrincipleFairness       Principle = "diversity_non_discrimination_fairness"
	PrincipleWellbeing      Principle = "societal_environmental_wellbeing"
	PrincipleAccountability Principle = "accountability"
)

// Principles returns the fixed principle set in reporting order.
func Principles() []Principle {
	return []Principle{
		PrincipleHumanAgency,
		PrincipleRobustness,
		PrincipleDataGovernance,
		PrincipleTransparency,
		PrincipleFairness,
		PrincipleWellbeing,
		PrincipleAccountability,
	}
}

// IsKnown reports whether p belongs to the fixed principle set.
func (p Principle) IsKnown() bool {
	for _, known := range Principles() {
		if p == known {
			return true
		}
	}
	return false
}

// NumericMapping linearly maps a numeric answer in [Min, Max] onto a risk.
type NumericMapping struct {
	Min       float64 `json:"min" yaml:"min"`
	Max       float64 `json:"max" yaml:"max"`
	RiskAtMin float64 `json:"risk_at_min" yaml:"risk_at_min" validate:"gte=0,lte=4"`
	RiskAtMax float64 `json:"risk_at_max" yaml:"risk_at_max" validate:"gte=0,lte=4"`
}

type Question struct {
	ID              string             `json:"id" yaml:"id" validate:"required"`
	QuestionnaireID string             `json:"questionnaire_id" yaml:"questionnaire_id"`
	Principle       Principle          `json:"principle" yaml:"principle" validate:"required,principle"`
	Type            AnswerType         `json:"type" yaml:"type" validate:"required,oneof=single_choice multi_choice open_text numeric"`
	Importance      float64            `json:"importance" yaml:"importance" validate:"gte=0,lte=4"`
	Options         []string           `json:"options,omitempty" yaml:"options"`
	OptionRisks     map[string]float64 `json:"option_risks,omitempty" yaml:"option_risks" validate:"omitempty,dive,gte=0,lte=4"`
	Numeric         *NumericMapping    `json:"numeric,omitempty" yaml:"numeric" validate:"omitempty"`
}

// Answer is one evaluator submission. Exactly one of Selected, Text or Number
// is meaningful, depending on the question type.
type Answer struct {
	ID              uuid.UUID `json:"id" yaml:"id"`
	ProjectID       string    `json:"project_id" yaml:"project_id"`
	QuestionnaireID string    `json:"questionnaire_id" yaml:"questionnaire_id"`
	QuestionID      string    `json:"question_id" yaml:"question_id"`
	EvaluatorID     string    `json:"evaluator_id" yaml:"evaluator_id"`
	EvaluatorRole   string    `json:"evaluator_role,omitempty" yaml:"evaluator_role"`
	Selected        []string  `json:"selected,omitempty" yaml:"selected"`
	Text            *string   `json:"text,omitempty" yaml:"text"`
	Number          *float64  `json:"number,omitempty" yaml:"number"`
	SubmittedAt     time.Time `json:"submitted_at" yaml:"submitted_at"`
}

// Current drops superseded submissions, keeping the most recent answer per
// (evaluator, project, questionnaire, question). Ties on SubmittedAt keep the
// later element of the input. The result is ordered by project, question,
// evaluator and questionnaire.
func Current(answers []Answer) []Answer {
	type key struct{ evaluator, project, questionnaire, question string }
	latest := make(map[key]int, len(answers))
	for i, a := range answers {
		k := key{a.EvaluatorID, a.ProjectID, a.QuestionnaireID, a.QuestionID}
		if j, ok := latest[k]; ok && answers[j].SubmittedAt.After(a.SubmittedAt) {
			continue
		}
		latest[k] = i
	}

	out := make([]Answer, 0, len(latest))
	for _, i := range latest {
		out = append(out, answers[i])
	}
	sort.Slice(out, func(a, b int) bool {
		x, y := out[a], out[b]
		switch {
		case x.ProjectID != y.ProjectID:
			return x.ProjectID < y.ProjectID
		case x.QuestionID != y.QuestionID:
			return x.QuestionID < y.QuestionID
		case x.EvaluatorID != y.EvaluatorID:
			return x.EvaluatorID < y.EvaluatorID
		}
		return x.QuestionnaireID < y.QuestionnaireID
	})
	return out
}

// Index maps questions by ID.
func Index(questions []Question) map[string]Question {
	idx := make(map[string]Question, len(questions))
	for _, q := range questions {
		idx[q.ID] = q
	}
	return idx
}
