package store

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eeelify/Z-inspection-sub003/internal/catalog"
)

func TestEncodeMappings(t *testing.T) {
	risks, numeric, err := encodeMappings(catalog.Question{ID: "q1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(risks))
	assert.Nil(t, numeric)

	risks, numeric, err = encodeMappings(catalog.Question{
		ID:          "q2",
		OptionRisks: map[string]float64{"yes": 0, "no": 4},
		Numeric:     &catalog.NumericMapping{Min: 0, Max: 10, RiskAtMin: 4, RiskAtMax: 0},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"yes":0,"no":4}`, string(risks))
	assert.JSONEq(t, `{"min":0,"max":10,"risk_at_min":4,"risk_at_max":0}`, string(numeric))
}

func TestEncodeMappingsReportsErrors(t *testing.T) {
	_, _, err := encodeMappings(catalog.Question{ID: "q1", OptionRisks: map[string]float64{"yes": math.NaN()}})
	assert.ErrorContains(t, err, "encode option risks")

	_, _, err = encodeMappings(catalog.Question{ID: "q1", Numeric: &catalog.NumericMapping{Max: math.Inf(1)}})
	assert.ErrorContains(t, err, "encode numeric mapping")
}
