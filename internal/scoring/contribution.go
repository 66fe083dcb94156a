package scoring

// Contribution combines a question's importance with the answer risk.
// Normalized = Raw / 4 keeps the value on the same 0–4 scale as its inputs,
// so rollups and labels treat contributions and aggregates alike.
type Contribution struct {
	Importance float64 `json:"importance"`
	AnswerRisk float64 `json:"answer_risk"`
	Raw        float64 `json:"raw_contribution"`
	Normalized float64 `json:"normalized_contribution"`
}

// Contribute returns importance × answerRisk (0–16) and its normalized form (0–4).
func Contribute(importance, answerRisk float64) Contribution {
	raw := importance * answerRisk
	return Contribution{
		Importance: importance,
		AnswerRisk: answerRisk,
		Raw:        raw,
		Normalized: raw / 4,
	}
}
