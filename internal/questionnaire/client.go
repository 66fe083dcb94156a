// Package questionnaire pulls the question catalog from the upstream
// questionnaire service and translates it into catalog questions.
package questionnaire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/eeelify/Z-inspection-sub003/internal/catalog"
	"github.com/eeelify/Z-inspection-sub003/internal/store"
)

type Client interface {
	ListQuestions(ctx context.Context, questionnaireID string) ([]catalog.Question, error)
}

type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type optionResponse struct {
	Key   string   `json:"key"`
	Label string   `json:"label"`
	Risk  *float64 `json:"risk"`
}

type scaleResponse struct {
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	RiskAtMin float64 `json:"risk_at_min"`
	RiskAtMax float64 `json:"risk_at_max"`
}

type questionResponse struct {
	ID              string           `json:"id"`
	QuestionnaireID string           `json:"questionnaire_id"`
	Principle       string           `json:"principle"`
	AnswerType      string           `json:"answer_type"`
	Importance      float64          `json:"importance"`
	Options         []optionResponse `json:"options"`
	Scale           *scaleResponse   `json:"scale"`
}

type questionsResponse struct {
	Data []questionResponse `json:"data"`
}

func (c *HTTPClient) ListQuestions(ctx context.Context, questionnaireID string) ([]catalog.Question, error) {
	endpoint := c.baseURL + "/api/v1/questions"
	if questionnaireID != "" {
		endpoint += "?questionnaire=" + url.QueryEscape(questionnaireID)
	}
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("questionnaire: %d %s", resp.StatusCode, string(body))
	}

	var wrapper questionsResponse
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, err
	}
	questions := make([]catalog.Question, 0, len(wrapper.Data))
	for _, r := range wrapper.Data {
		questions = append(questions, r.toQuestion())
	}
	return questions, nil
}

// toQuestion keeps options without a risk as selectable but unmapped, so
// they surface as mapping defects instead of being dropped.
func (r questionResponse) toQuestion() catalog.Question {
	q := catalog.Question{
		ID:              r.ID,
		QuestionnaireID: r.QuestionnaireID,
		Principle:       ParsePrinciple(r.Principle),
		Type:            catalog.AnswerType(strings.ToLower(r.AnswerType)),
		Importance:      r.Importance,
	}
	for _, o := range r.Options {
		q.Options = append(q.Options, o.Key)
		if o.Risk != nil {
			if q.OptionRisks == nil {
				q.OptionRisks = make(map[string]float64)
			}
			q.OptionRisks[o.Key] = *o.Risk
		}
	}
	if r.Scale != nil {
		q.Numeric = &catalog.NumericMapping{
			Min:       r.Scale.Min,
			Max:       r.Scale.Max,
			RiskAtMin: r.Scale.RiskAtMin,
			RiskAtMax: r.Scale.RiskAtMax,
		}
	}
	return q
}

// ParsePrinciple turns a display name such as "Privacy & Data Governance"
// into its principle key.
func ParsePrinciple(name string) catalog.Principle {
	var b strings.Builder
	sep := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if sep && b.Len() > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
			sep = false
			continue
		}
		sep = true
	}
	return catalog.Principle(b.String())
}

// Sync saves every valid upstream question into s and returns how many were
// saved. Invalid questions are logged and skipped.
func Sync(ctx context.Context, c Client, questionnaireID string, s store.CatalogStore, logger *slog.Logger) (int, error) {
	questions, err := c.ListQuestions(ctx, questionnaireID)
	if err != nil {
		return 0, fmt.Errorf("list questions: %w", err)
	}
	saved := 0
	for _, q := range questions {
		if err := s.SaveQuestion(ctx, q); err != nil {
			if errors.Is(err, catalog.ErrInvalidQuestion) {
				logger.Warn("skipping invalid question", "question_id", q.ID, "error", err)
				continue
			}
			return saved, fmt.Errorf("save question %q: %w", q.ID, err)
		}
		saved++
	}
	for _, d := range catalog.MappingDefects(questions) {
		logger.Warn("question has incomplete risk mapping", "question_id", d.QuestionID,
			"missing_map", d.MissingMap, "unmapped", d.Unmapped)
	}
	return saved, nil
}
