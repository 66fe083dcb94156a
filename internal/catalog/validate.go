package catalog

import (
	"errors"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidQuestion wraps every structural validation failure.
var ErrInvalidQuestion = errors.New("invalid question")

// questionValidate is shared; validator caches struct metadata per instance.
var questionValidate *validator.Validate

func init() {
	questionValidate = validator.New()
	_ = questionValidate.RegisterValidation("principle", validatePrinciple)
}

func validatePrinciple(fl validator.FieldLevel) bool {
	return Principle(fl.Field().String()).IsKnown()
}

// Validate checks a question's structural rules: known principle, known
// answer type, importance and every option risk within [0,4], and a numeric
// mapping with a non-empty domain.
func Validate(q Question) error {
	if err := questionValidate.Struct(q); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: question %q: field %s failed %q (value %v)", ErrInvalidQuestion, q.ID, fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("%w: question %q: %v", ErrInvalidQuestion, q.ID, err)
	}
	if q.Numeric != nil && q.Numeric.Max <= q.Numeric.Min {
		return fmt.Errorf("%w: question %q: numeric mapping max %.2f must exceed min %.2f", ErrInvalidQuestion, q.ID, q.Numeric.Max, q.Numeric.Min)
	}
	return nil
}

// ValidateAll validates every question and reports the first failure.
func ValidateAll(questions []Question) error {
	seen := make(map[string]bool, len(questions))
	for _, q := range questions {
		if seen[q.ID] {
			return fmt.Errorf("%w: duplicate question id %q", ErrInvalidQuestion, q.ID)
		}
		seen[q.ID] = true
		if err := Validate(q); err != nil {
			return err
		}
	}
	return nil
}

// MappingDefect describes a choice question whose option→risk map is
// missing or does not cover every selectable option.
type MappingDefect struct {
	QuestionID string    `json:"question_id"`
	Principle  Principle `json:"principle"`
	MissingMap bool      `json:"missing_map"`
	Unmapped   []string  `json:"unmapped,omitempty"`
}

// MappingDefects lists choice questions with an absent or incomplete option
// risk map, ordered by question ID.
func MappingDefects(questions []Question) []MappingDefect {
	var defects []MappingDefect
	for _, q := range questions {
		if !q.Type.IsChoice() {
			continue
		}
		if len(q.OptionRisks) == 0 {
			defects = append(defects, MappingDefect{QuestionID: q.ID, Principle: q.Principle, MissingMap: true})
			continue
		}
		var unmapped []string
		for _, opt := range q.Options {
			if _, ok := q.OptionRisks[opt]; !ok {
				unmapped = append(unmapped, opt)
			}
		}
		if len(unmapped) > 0 {
			sort.Strings(unmapped)
			defects = append(defects, MappingDefect{QuestionID: q.ID, Principle: q.Principle, Unmapped: unmapped})
		}
	}
	sort.Slice(defects, func(a, b int) bool { return defects[a].QuestionID < defects[b].QuestionID })
	return defects
}
