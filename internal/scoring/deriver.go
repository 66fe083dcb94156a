package scoring

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/eeelify/Z-inspection-sub003/internal/catalog"
)

// ErrContractViolation is returned when an answer does not fit its question:
// wrong answer shape for the declared type, an unknown option risk outside
// [0,4], or a numeric value outside the mapping domain. It fails only the
// derivation it occurred in.
var ErrContractViolation = errors.New("contract violation")

const (
	MinRisk = 0.0
	MaxRisk = 4.0
)

// HeuristicConfig parameterises a Deriver.
type HeuristicConfig struct {
	NeutralRisk    float64     `yaml:"neutral_risk"`
	EmptyTextRisk  float64     `yaml:"empty_text_risk"`
	TextBaseline   float64     `yaml:"text_baseline"`
	Indicators     []Indicator `yaml:"indicators"`
	Negations      []string    `yaml:"negations"`
	NegationWindow int         `yaml:"negation_window"`
}

// DefaultHeuristicConfig returns neutral 2, empty text 3, text baseline 2
// and the stock indicator families and negation cues.
func DefaultHeuristicConfig() HeuristicConfig {
	return HeuristicConfig{
		NeutralRisk:    2,
		EmptyTextRisk:  3,
		TextBaseline:   2,
		Indicators:     DefaultIndicators(),
		Negations:      DefaultNegations(),
		NegationWindow: DefaultNegationWindow,
	}
}

// Derivation is the bounded risk of one answer and the flags raised while
// deriving it.
type Derivation struct {
	AnswerRisk float64 `json:"answer_risk"`
	Flags      Flags   `json:"flags"`
}

// Deriver converts raw answers into answer risks. It is immutable after
// construction and safe for concurrent use.
type Deriver struct {
	neutral    float64
	emptyText  float64
	baseline   float64
	indicators []compiledIndicator
	negation   *negator
	gapDelta   float64
}

// NewDeriver validates cfg and compiles its indicator families.
func NewDeriver(cfg HeuristicConfig) (*Deriver, error) {
	for name, v := range map[string]float64{
		"neutral_risk":    cfg.NeutralRisk,
		"empty_text_risk": cfg.EmptyTextRisk,
		"text_baseline":   cfg.TextBaseline,
	} {
		if v < MinRisk || v > MaxRisk || math.IsNaN(v) {
			return nil, fmt.Errorf("%s %.2f outside [0,4]", name, v)
		}
	}
	compiled, err := compileIndicators(cfg.Indicators)
	if err != nil {
		return nil, err
	}
	neg, err := newNegator(cfg.Negations, cfg.NegationWindow)
	if err != nil {
		return nil, err
	}
	// A denied safeguard weighs like the gap family, or +1 without one.
	gapDelta := 1.0
	for _, ind := range compiled {
		if ind.Flag == FlagHasGaps {
			gapDelta = ind.Delta
			break
		}
	}
	return &Deriver{
		neutral:    cfg.NeutralRisk,
		emptyText:  cfg.EmptyTextRisk,
		baseline:   cfg.TextBaseline,
		indicators: compiled,
		negation:   neg,
		gapDelta:   gapDelta,
	}, nil
}

// DefaultDeriver returns a Deriver built from DefaultHeuristicConfig.
func DefaultDeriver() *Deriver {
	d, err := NewDeriver(DefaultHeuristicConfig())
	if err != nil {
		panic(err)
	}
	return d
}

// DeriveAnswerRisk maps one answer onto [0,4]. Importance plays no part here.
func (d *Deriver) DeriveAnswerRisk(q catalog.Question, a catalog.Answer) (Derivation, error) {
	if a.QuestionID != q.ID {
		return Derivation{}, fmt.Errorf("%w: answer for %q scored against question %q", ErrContractViolation, a.QuestionID, q.ID)
	}

	switch q.Type {
	case catalog.TypeSingleChoice, catalog.TypeMultiChoice:
		return d.deriveChoice(q, a)
	case catalog.TypeOpenText:
		return d.deriveText(q, a)
	case catalog.TypeNumeric:
		return d.deriveNumeric(q, a)
	default:
		return Derivation{}, fmt.Errorf("%w: question %q has unsupported type %q", ErrContractViolation, q.ID, q.Type)
	}
}

func (d *Deriver) deriveChoice(q catalog.Question, a catalog.Answer) (Derivation, error) {
	if a.Text != nil || a.Number != nil {
		return Derivation{}, fmt.Errorf("%w: %s question %q answered with text or number", ErrContractViolation, q.Type, q.ID)
	}
	if len(a.Selected) == 0 {
		return Derivation{}, fmt.Errorf("%w: %s question %q answered without a selection", ErrContractViolation, q.Type, q.ID)
	}
	if q.Type == catalog.TypeSingleChoice && len(a.Selected) > 1 {
		return Derivation{}, fmt.Errorf("%w: single_choice question %q answered with %d options", ErrContractViolation, q.ID, len(a.Selected))
	}

	if len(q.OptionRisks) == 0 {
		return Derivation{AnswerRisk: d.neutral, Flags: newFlags(FlagMappingMissing)}, nil
	}

	// Multi-choice takes the riskiest selection.
	risk := MinRisk
	for _, key := range a.Selected {
		v, ok := q.OptionRisks[key]
		if !ok {
			return Derivation{AnswerRisk: d.neutral, Flags: newFlags(FlagMappingMissing)}, nil
		}
		if v < MinRisk || v > MaxRisk || math.IsNaN(v) {
			return Derivation{}, fmt.Errorf("%w: question %q option %q maps to %.2f outside [0,4]", ErrContractViolation, q.ID, key, v)
		}
		if v > risk {
			risk = v
		}
	}
	return Derivation{AnswerRisk: risk, Flags: newFlags()}, nil
}

func (d *Deriver) deriveText(q catalog.Question, a catalog.Answer) (Derivation, error) {
	if len(a.Selected) > 0 || a.Number != nil {
		return Derivation{}, fmt.Errorf("%w: open_text question %q answered with a selection or number", ErrContractViolation, q.ID)
	}

	var text string
	if a.Text != nil {
		text = strings.TrimSpace(*a.Text)
	}
	if text == "" {
		return Derivation{AnswerRisk: d.emptyText, Flags: newFlags(FlagEmpty)}, nil
	}

	risk := d.baseline
	var flags []Flag
	gap := false
	for _, ind := range d.indicators {
		switch {
		case ind.Flag == FlagHasGaps:
			gap = gap || ind.matches(text)
		case ind.Delta < 0:
			affirmed, negated := ind.scan(text, d.negation)
			if affirmed {
				risk += ind.Delta
				flags = append(flags, ind.Flag)
			}
			gap = gap || negated
		case ind.matches(text):
			risk += ind.Delta
			flags = append(flags, ind.Flag)
		}
	}
	if gap {
		risk += d.gapDelta
		flags = append(flags, FlagHasGaps)
	}
	return Derivation{AnswerRisk: clamp(risk, MinRisk, MaxRisk), Flags: newFlags(flags...)}, nil
}

func (d *Deriver) deriveNumeric(q catalog.Question, a catalog.Answer) (Derivation, error) {
	if len(a.Selected) > 0 || a.Text != nil {
		return Derivation{}, fmt.Errorf("%w: numeric question %q answered with a selection or text", ErrContractViolation, q.ID)
	}
	if a.Number == nil || math.IsNaN(*a.Number) {
		return Derivation{}, fmt.Errorf("%w: numeric question %q answered without a number", ErrContractViolation, q.ID)
	}

	m := q.Numeric
	if m == nil || m.Max <= m.Min {
		return Derivation{AnswerRisk: d.neutral, Flags: newFlags(FlagMappingMissing)}, nil
	}

	v := *a.Number
	if v < m.Min || v > m.Max {
		return Derivation{}, fmt.Errorf("%w: numeric question %q value %.2f outside [%.2f, %.2f]", ErrContractViolation, q.ID, v, m.Min, m.Max)
	}
	frac := (v - m.Min) / (m.Max - m.Min)
	risk := m.RiskAtMin + frac*(m.RiskAtMax-m.RiskAtMin)
	return Derivation{AnswerRisk: clamp(risk, MinRisk, MaxRisk), Flags: newFlags()}, nil
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
