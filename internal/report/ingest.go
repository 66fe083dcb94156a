package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/eeelify/Z-inspection-sub003/internal/catalog"
	"github.com/eeelify/Z-inspection-sub003/internal/hermes"
	"github.com/eeelify/Z-inspection-sub003/internal/store"
)

var ErrInvalidAnswer = errors.New("invalid answer")

// Ingester appends answers arriving on the answer stream.
type Ingester struct {
	store  store.CatalogStore
	logger *slog.Logger
}

func NewIngester(s store.CatalogStore, logger *slog.Logger) *Ingester {
	return &Ingester{store: s, logger: logger}
}

// Start subscribes to submitted answers.
func (i *Ingester) Start(h hermes.Client) error {
	return h.Subscribe(hermes.SubjectAnswerSubmitted, i.handle)
}

func (i *Ingester) handle(subject string, data []byte) {
	var evt hermes.AnswerSubmittedEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		i.logger.Warn("dropping malformed answer event", "subject", subject, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := i.Submit(ctx, evt); err != nil {
		i.logger.Warn("failed to ingest answer", "project_id", evt.ProjectID, "question_id", evt.QuestionID, "error", err)
	}
}

// Submit stores one answer submission. Earlier submissions stay in the
// store; scoring only reads the most recent per evaluator and question.
func (i *Ingester) Submit(ctx context.Context, evt hermes.AnswerSubmittedEvent) (*catalog.Answer, error) {
	if evt.ProjectID == "" || evt.QuestionID == "" || evt.EvaluatorID == "" {
		return nil, fmt.Errorf("%w: project_id, question_id and evaluator_id are required", ErrInvalidAnswer)
	}
	a := &catalog.Answer{
		ProjectID:       evt.ProjectID,
		QuestionnaireID: evt.QuestionnaireID,
		QuestionID:      evt.QuestionID,
		EvaluatorID:     evt.EvaluatorID,
		EvaluatorRole:   evt.EvaluatorRole,
		Selected:        evt.Selected,
		Text:            evt.Text,
		Number:          evt.Number,
		SubmittedAt:     evt.SubmittedAt,
	}
	if err := i.store.AppendAnswer(ctx, a); err != nil {
		return nil, fmt.Errorf("append answer: %w", err)
	}
	i.logger.Debug("answer ingested", "project_id", a.ProjectID, "question_id", a.QuestionID, "evaluator_id", a.EvaluatorID)
	return a, nil
}
