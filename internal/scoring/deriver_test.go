package scoring

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eeelify/Z-inspection-sub003/internal/catalog"
)

func strPtr(s string) *string       { return &s }
func float64Ptr(v float64) *float64 { return &v }

func choiceQuestion(t catalog.AnswerType) catalog.Question {
	return catalog.Question{
		ID:          "q-choice",
		Principle:   catalog.PrincipleDataGovernance,
		Type:        t,
		Importance:  3,
		Options:     []string{"always", "sometimes", "never"},
		OptionRisks: map[string]float64{"always": 0, "sometimes": 2.5, "never": 4},
	}
}

func TestDeriveChoiceMappedValue(t *testing.T) {
	d := DefaultDeriver()
	q := choiceQuestion(catalog.TypeSingleChoice)

	for key, want := range q.OptionRisks {
		t.Run(key, func(t *testing.T) {
			got, err := d.DeriveAnswerRisk(q, catalog.Answer{QuestionID: q.ID, Selected: []string{key}})
			require.NoError(t, err)
			assert.Equal(t, want, got.AnswerRisk)
			assert.Empty(t, got.Flags)
		})
	}
}

func TestDeriveChoiceIndependentOfImportance(t *testing.T) {
	d := DefaultDeriver()
	for _, importance := range []float64{0, 1, 2.5, 4} {
		q := choiceQuestion(catalog.TypeSingleChoice)
		q.Importance = importance
		got, err := d.DeriveAnswerRisk(q, catalog.Answer{QuestionID: q.ID, Selected: []string{"sometimes"}})
		require.NoError(t, err)
		assert.Equal(t, 2.5, got.AnswerRisk)
	}
}

func TestDeriveMultiChoiceTakesMaximum(t *testing.T) {
	d := DefaultDeriver()
	q := choiceQuestion(catalog.TypeMultiChoice)

	got, err := d.DeriveAnswerRisk(q, catalog.Answer{QuestionID: q.ID, Selected: []string{"always", "never", "sometimes"}})
	require.NoError(t, err)
	assert.Equal(t, 4.0, got.AnswerRisk)

	got, err = d.DeriveAnswerRisk(q, catalog.Answer{QuestionID: q.ID, Selected: []string{"always"}})
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.AnswerRisk)
}

func TestDeriveChoiceMappingMissing(t *testing.T) {
	d := DefaultDeriver()

	t.Run("no map", func(t *testing.T) {
		q := choiceQuestion(catalog.TypeSingleChoice)
		q.OptionRisks = nil
		got, err := d.DeriveAnswerRisk(q, catalog.Answer{QuestionID: q.ID, Selected: []string{"always"}})
		require.NoError(t, err)
		assert.Equal(t, 2.0, got.AnswerRisk)
		assert.True(t, got.Flags.Has(FlagMappingMissing))
	})

	t.Run("unmapped key", func(t *testing.T) {
		q := choiceQuestion(catalog.TypeMultiChoice)
		got, err := d.DeriveAnswerRisk(q, catalog.Answer{QuestionID: q.ID, Selected: []string{"never", "occasionally"}})
		require.NoError(t, err)
		assert.Equal(t, 2.0, got.AnswerRisk)
		assert.Equal(t, Flags{FlagMappingMissing}, got.Flags)
	})
}

func TestDeriveContractViolations(t *testing.T) {
	d := DefaultDeriver()
	single := choiceQuestion(catalog.TypeSingleChoice)
	text := catalog.Question{ID: "q-text", Type: catalog.TypeOpenText, Importance: 2}
	numeric := catalog.Question{ID: "q-num", Type: catalog.TypeNumeric, Importance: 2,
		Numeric: &catalog.NumericMapping{Min: 0, Max: 10, RiskAtMin: 4, RiskAtMax: 0}}

	tests := []struct {
		name string
		q    catalog.Question
		a    catalog.Answer
	}{
		{"choice answered with text", single, catalog.Answer{QuestionID: single.ID, Text: strPtr("yes")}},
		{"choice without selection", single, catalog.Answer{QuestionID: single.ID}},
		{"single choice with two keys", single, catalog.Answer{QuestionID: single.ID, Selected: []string{"always", "never"}}},
		{"text answered with selection", text, catalog.Answer{QuestionID: text.ID, Selected: []string{"a"}}},
		{"text answered with number", text, catalog.Answer{QuestionID: text.ID, Number: float64Ptr(3)}},
		{"numeric answered with text", numeric, catalog.Answer{QuestionID: numeric.ID, Text: strPtr("3")}},
		{"numeric without number", numeric, catalog.Answer{QuestionID: numeric.ID}},
		{"numeric out of domain", numeric, catalog.Answer{QuestionID: numeric.ID, Number: float64Ptr(11)}},
		{"wrong question", single, catalog.Answer{QuestionID: "other", Selected: []string{"always"}}},
		{"unknown type", catalog.Question{ID: "q", Type: "slider"}, catalog.Answer{QuestionID: "q"}},
		{"option risk out of range", catalog.Question{ID: "q", Type: catalog.TypeSingleChoice,
			OptionRisks: map[string]float64{"x": 7}}, catalog.Answer{QuestionID: "q", Selected: []string{"x"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.DeriveAnswerRisk(tt.q, tt.a)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrContractViolation), "got %v", err)
		})
	}
}

func TestDeriveOpenText(t *testing.T) {
	d := DefaultDeriver()
	q := catalog.Question{ID: "q-text", Type: catalog.TypeOpenText, Importance: 2}

	tests := []struct {
		name      string
		text      *string
		wantRisk  float64
		wantFlags Flags
	}{
		{"nil text", nil, 3, Flags{FlagEmpty}},
		{"empty", strPtr(""), 3, Flags{FlagEmpty}},
		{"whitespace", strPtr("  \n\t "), 3, Flags{FlagEmpty}},
		{"neutral prose", strPtr("The model ranks loan applications."), 2, Flags{}},
		{"controls only", strPtr("We monitor drift weekly."), 1, Flags{FlagHasControls}},
		{"evidence only", strPtr("See the DPIA attached to the project."), 1, Flags{FlagHasEvidence}},
		{"gaps only", strPtr("Retention period is unknown."), 3, Flags{FlagHasGaps}},
		{"controls and evidence", strPtr("Decisions are logged and audited quarterly; the test report and model card are published."),
			0, Flags{FlagHasControls, FlagHasEvidence}},
		{"all three cancel to baseline minus one", strPtr("Access is logged per our policy but the retention period is unclear."),
			1, Flags{FlagHasControls, FlagHasEvidence, FlagHasGaps}},
		{"case insensitive", strPtr("MONITORING DASHBOARDS EXIST"), 1, Flags{FlagHasControls}},
		{"denied controls", strPtr("There is no monitoring, no audit trail and no logging in place."), 3, Flags{FlagHasGaps}},
		{"denied controls and evidence", strPtr("We do not have any oversight or documentation."), 3, Flags{FlagHasGaps}},
		{"denial per clause", strPtr("Without encryption; no policy exists."), 3, Flags{FlagHasGaps}},
		{"denial does not cross clauses", strPtr("No budget was set aside. We monitor drift weekly."), 1, Flags{FlagHasControls}},
		{"denial does not cross but", strPtr("There is no DPIA but we monitor drift weekly."), 2, Flags{FlagHasControls, FlagHasGaps}},
		{"denied gap counted once", strPtr("Lack of documentation; retention is unknown."), 3, Flags{FlagHasGaps}},
		{"cue outside window", strPtr("No one expected that after launch the team would monitor drift."), 1, Flags{FlagHasControls}},
		{"cue must be a whole word", strPtr("Meeting notes record the monitoring results."), 1, Flags{FlagHasControls}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.DeriveAnswerRisk(q, catalog.Answer{QuestionID: q.ID, Text: tt.text})
			require.NoError(t, err)
			assert.Equal(t, tt.wantRisk, got.AnswerRisk)
			assert.Equal(t, tt.wantFlags, got.Flags)
		})
	}
}

func TestDeriveOpenTextNegationConfig(t *testing.T) {
	q := catalog.Question{ID: "q", Type: catalog.TypeOpenText}
	text := strPtr("We never monitor anything.")

	t.Run("no cues", func(t *testing.T) {
		cfg := DefaultHeuristicConfig()
		cfg.Negations = nil
		d, err := NewDeriver(cfg)
		require.NoError(t, err)
		got, err := d.DeriveAnswerRisk(q, catalog.Answer{QuestionID: "q", Text: text})
		require.NoError(t, err)
		assert.Equal(t, 1.0, got.AnswerRisk)
		assert.Equal(t, Flags{FlagHasControls}, got.Flags)
	})

	t.Run("no gap family", func(t *testing.T) {
		d, err := NewDeriver(HeuristicConfig{
			NeutralRisk: 2, EmptyTextRisk: 3, TextBaseline: 2,
			Indicators: []Indicator{{Name: "control", Flag: FlagHasControls, Delta: -1, Terms: []string{"monitor"}}},
			Negations:  []string{"never"},
		})
		require.NoError(t, err)
		got, err := d.DeriveAnswerRisk(q, catalog.Answer{QuestionID: "q", Text: text})
		require.NoError(t, err)
		assert.Equal(t, 3.0, got.AnswerRisk)
		assert.Equal(t, Flags{FlagHasGaps}, got.Flags)
	})

	t.Run("negative window", func(t *testing.T) {
		cfg := DefaultHeuristicConfig()
		cfg.NegationWindow = -1
		_, err := NewDeriver(cfg)
		assert.Error(t, err)
	})
}

func TestDeriveOpenTextRichness(t *testing.T) {
	d := DefaultDeriver()
	q := catalog.Question{ID: "q-text", Type: catalog.TypeOpenText}

	rich, err := d.DeriveAnswerRisk(q, catalog.Answer{QuestionID: q.ID,
		Text: strPtr("An oversight board reviews audit logs monthly, following the documented policy and the latest validation report.")})
	require.NoError(t, err)
	assert.LessOrEqual(t, rich.AnswerRisk, 1.0)

	gappy, err := d.DeriveAnswerRisk(q, catalog.Answer{QuestionID: q.ID,
		Text: strPtr("Honestly unsure. Bias testing is missing and the training data source is unknown.")})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, gappy.AnswerRisk, 3.0)
}

func TestDeriveOpenTextClamps(t *testing.T) {
	d, err := NewDeriver(HeuristicConfig{
		NeutralRisk:   2,
		EmptyTextRisk: 3,
		TextBaseline:  3,
		Indicators: []Indicator{
			{Name: "gap", Flag: FlagHasGaps, Delta: 2, Terms: []string{"unknown"}},
			{Name: "red flag", Flag: "red_flag", Delta: 2, Terms: []string{"no consent"}},
		},
	})
	require.NoError(t, err)

	got, err := d.DeriveAnswerRisk(catalog.Question{ID: "q", Type: catalog.TypeOpenText},
		catalog.Answer{QuestionID: "q", Text: strPtr("Collected with no consent, purpose unknown")})
	require.NoError(t, err)
	assert.Equal(t, 4.0, got.AnswerRisk)
	assert.Equal(t, Flags{FlagHasGaps, "red_flag"}, got.Flags)
}

func TestDeriveNumeric(t *testing.T) {
	d := DefaultDeriver()
	q := catalog.Question{ID: "q-num", Type: catalog.TypeNumeric,
		Numeric: &catalog.NumericMapping{Min: 0, Max: 100, RiskAtMin: 4, RiskAtMax: 0}}

	tests := []struct {
		value float64
		want  float64
	}{
		{0, 4}, {25, 3}, {50, 2}, {100, 0},
	}
	for _, tt := range tests {
		got, err := d.DeriveAnswerRisk(q, catalog.Answer{QuestionID: q.ID, Number: float64Ptr(tt.value)})
		require.NoError(t, err)
		assert.InDelta(t, tt.want, got.AnswerRisk, 1e-9, "value %v", tt.value)
	}

	t.Run("no mapping", func(t *testing.T) {
		unmapped := catalog.Question{ID: "q-num", Type: catalog.TypeNumeric}
		got, err := d.DeriveAnswerRisk(unmapped, catalog.Answer{QuestionID: q.ID, Number: float64Ptr(42)})
		require.NoError(t, err)
		assert.Equal(t, 2.0, got.AnswerRisk)
		assert.True(t, got.Flags.Has(FlagMappingMissing))
	})
}

func TestNewDeriverRejectsBadConfig(t *testing.T) {
	cfg := DefaultHeuristicConfig()
	cfg.NeutralRisk = 5
	_, err := NewDeriver(cfg)
	assert.Error(t, err)

	cfg = DefaultHeuristicConfig()
	cfg.Indicators = []Indicator{{Name: "empty", Flag: "x"}}
	_, err = NewDeriver(cfg)
	assert.Error(t, err)

	cfg = DefaultHeuristicConfig()
	cfg.Indicators = []Indicator{{Name: "no flag", Terms: []string{"a"}}}
	_, err = NewDeriver(cfg)
	assert.Error(t, err)
}
