package scoring

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/gowebpki/jcs"

	"github.com/eeelify/Z-inspection-sub003/internal/catalog"
)

// QuestionScore is the per-answer numeric record handed to report assembly.
type QuestionScore struct {
	QuestionID             string             `json:"question_id"`
	EvaluatorID            string             `json:"evaluator_id"`
	Principle              catalog.Principle  `json:"principle"`
	Type                   catalog.AnswerType `json:"type"`
	Importance             float64            `json:"importance"`
	AnswerRisk             float64            `json:"answer_risk"`
	RawContribution        float64            `json:"raw_contribution"`
	NormalizedContribution float64            `json:"normalized_contribution"`
	Flags                  Flags              `json:"flags"`
}

// PrincipleScore is nil-risk when nothing under the principle was answered.
type PrincipleScore struct {
	Principle     catalog.Principle `json:"principle"`
	Risk          *float64          `json:"risk"`
	Label         Label             `json:"label"`
	AnsweredCount int               `json:"answered_count"`
}

// Rejection records an answer that could not be scored.
type Rejection struct {
	QuestionID  string `json:"question_id"`
	EvaluatorID string `json:"evaluator_id"`
	Reason      string `json:"reason"`
}

type Quality struct {
	FlagCounts     map[Flag]int            `json:"flag_counts"`
	MappingDefects []catalog.MappingDefect `json:"mapping_defects"`
	RejectedCount  int                     `json:"rejected_count"`
}

type Evaluators struct {
	Count int      `json:"count"`
	Roles []string `json:"roles"`
}

// Snapshot is the read-only numeric view of one project. Narrative and
// rendering stages must echo these numbers and never recompute them.
type Snapshot struct {
	ProjectID     string              `json:"project_id"`
	ModelVersion  string              `json:"model_version"`
	QuestionCount int                 `json:"question_count"`
	AnswerCount   int                 `json:"answer_count"`
	Questions     []QuestionScore     `json:"questions"`
	Principles    []PrincipleScore    `json:"principles"`
	Overall       *float64            `json:"overall_risk"`
	OverallLabel  Label               `json:"overall_label"`
	CoverageGaps  []catalog.Principle `json:"coverage_gaps"`
	Rejected      []Rejection         `json:"rejected"`
	Quality       Quality             `json:"quality"`
	Evaluators    Evaluators          `json:"evaluators"`
}

// SnapshotInput carries everything BuildSnapshot reads.
type SnapshotInput struct {
	ProjectID    string
	ModelVersion string
	Questions    []catalog.Question
	Answers      []catalog.Answer
	Deriver      *Deriver
}

// BuildSnapshot scores every current answer of the project and rolls the
// results up per principle and per project. An answer that violates its
// question's contract is listed in Rejected and excluded; it never affects
// the other answers.
func BuildSnapshot(in SnapshotInput) *Snapshot {
	deriver := in.Deriver
	if deriver == nil {
		deriver = DefaultDeriver()
	}

	questions := catalog.Index(in.Questions)
	answers := catalog.Current(in.Answers)

	snap := &Snapshot{
		ProjectID:     in.ProjectID,
		ModelVersion:  in.ModelVersion,
		QuestionCount: len(in.Questions),
		Questions:     []QuestionScore{},
		Principles:    []PrincipleScore{},
		CoverageGaps:  []catalog.Principle{},
		Rejected:      []Rejection{},
		Quality: Quality{
			FlagCounts:     map[Flag]int{},
			MappingDefects: catalog.MappingDefects(in.Questions),
		},
	}
	if snap.Quality.MappingDefects == nil {
		snap.Quality.MappingDefects = []catalog.MappingDefect{}
	}

	byPrinciple := make(map[catalog.Principle][]float64)
	evaluators := make(map[string]bool)
	roles := make(map[string]bool)

	for _, a := range answers {
		reject := func(reason string) {
			snap.Rejected = append(snap.Rejected, Rejection{QuestionID: a.QuestionID, EvaluatorID: a.EvaluatorID, Reason: reason})
		}
		if in.ProjectID != "" && a.ProjectID != "" && a.ProjectID != in.ProjectID {
			reject(fmt.Sprintf("%v: answer belongs to project %q", ErrContractViolation, a.ProjectID))
			continue
		}
		q, ok := questions[a.QuestionID]
		if !ok {
			reject(fmt.Sprintf("%v: unknown question %q", ErrContractViolation, a.QuestionID))
			continue
		}
		d, err := deriver.DeriveAnswerRisk(q, a)
		if err != nil {
			reject(err.Error())
			continue
		}

		c := Contribute(q.Importance, d.AnswerRisk)
		snap.Questions = append(snap.Questions, QuestionScore{
			QuestionID:             q.ID,
			EvaluatorID:            a.EvaluatorID,
			Principle:              q.Principle,
			Type:                   q.Type,
			Importance:             c.Importance,
			AnswerRisk:             c.AnswerRisk,
			RawContribution:        c.Raw,
			NormalizedContribution: c.Normalized,
			Flags:                  d.Flags,
		})
		byPrinciple[q.Principle] = append(byPrinciple[q.Principle], c.Normalized)
		for _, f := range d.Flags {
			snap.Quality.FlagCounts[f]++
		}
		if a.EvaluatorID != "" {
			evaluators[a.EvaluatorID] = true
		}
		if a.EvaluatorRole != "" {
			roles[a.EvaluatorRole] = true
		}
	}
	snap.AnswerCount = len(snap.Questions)
	snap.Quality.RejectedCount = len(snap.Rejected)

	var present []float64
	for _, p := range principleOrder(byPrinciple) {
		ps := PrincipleScore{Principle: p, AnsweredCount: len(byPrinciple[p])}
		if risk, ok := AggregatePrinciple(byPrinciple[p]); ok {
			ps.Risk = &risk
			present = append(present, risk)
		} else {
			snap.CoverageGaps = append(snap.CoverageGaps, p)
		}
		ps.Label = ClassifyOptional(ps.Risk)
		snap.Principles = append(snap.Principles, ps)
	}

	if overall, ok := AggregateOverall(present); ok {
		snap.Overall = &overall
	}
	snap.OverallLabel = ClassifyOptional(snap.Overall)

	snap.Evaluators.Count = len(evaluators)
	snap.Evaluators.Roles = sortedKeys(roles)
	return snap
}

// principleOrder is the fixed principle set followed by any other principle
// that received answers, sorted.
func principleOrder(byPrinciple map[catalog.Principle][]float64) []catalog.Principle {
	order := catalog.Principles()
	var extra []catalog.Principle
	for p := range byPrinciple {
		if !p.IsKnown() {
			extra = append(extra, p)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(order, extra...)
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// FlagCount returns how many scored answers carry f.
func (s *Snapshot) FlagCount(f Flag) int {
	return s.Quality.FlagCounts[f]
}

// Digest is the sha256 of the RFC 8785 canonical JSON form of the snapshot.
// Equal snapshots always share a digest regardless of map ordering.
func (s *Snapshot) Digest() (string, error) {
	canonical, err := s.Canonical()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// Canonical returns the RFC 8785 canonical JSON encoding of the snapshot.
func (s *Snapshot) Canonical() ([]byte, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize snapshot: %w", err)
	}
	return canonical, nil
}
