package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/eeelify/Z-inspection-sub003/internal/catalog"
)

// MongoStore keeps artifacts, questions and answers in MongoDB. Writes that
// touch more than one document run in a session transaction, which requires
// a replica set.
type MongoStore struct {
	client    *mongo.Client
	reports   *mongo.Collection
	projects  *mongo.Collection
	questions *mongo.Collection
	answers   *mongo.Collection
}

type reportDoc struct {
	ID          string       `bson:"_id"`
	ProjectID   string       `bson:"project_id"`
	Version     int          `bson:"version"`
	Status      string       `bson:"status"`
	Latest      bool         `bson:"latest"`
	Snapshot    SnapshotMeta `bson:"snapshot"`
	Files       []FileRef    `bson:"files"`
	Error       string       `bson:"error"`
	CreatedAt   time.Time    `bson:"created_at"`
	UpdatedAt   time.Time    `bson:"updated_at"`
	FinalizedAt *time.Time   `bson:"finalized_at,omitempty"`
}

// projectDoc carries the version counter. Every multi-document write for a
// project also writes this document, so concurrent transactions on the same
// project conflict and are retried one after another.
type projectDoc struct {
	ID        string    `bson:"_id"`
	Seq       int       `bson:"seq"`
	TouchedAt time.Time `bson:"touched_at"`
}

type questionDoc struct {
	ID              string                  `bson:"_id"`
	QuestionnaireID string                  `bson:"questionnaire_id"`
	Principle       string                  `bson:"principle"`
	Type            string                  `bson:"type"`
	Importance      float64                 `bson:"importance"`
	Options         []string                `bson:"options"`
	OptionRisks     map[string]float64      `bson:"option_risks,omitempty"`
	Numeric         *catalog.NumericMapping `bson:"numeric,omitempty"`
}

type answerDoc struct {
	ID              string    `bson:"_id"`
	ProjectID       string    `bson:"project_id"`
	QuestionnaireID string    `bson:"questionnaire_id"`
	QuestionID      string    `bson:"question_id"`
	EvaluatorID     string    `bson:"evaluator_id"`
	EvaluatorRole   string    `bson:"evaluator_role"`
	Selected        []string  `bson:"selected"`
	Text            *string   `bson:"text,omitempty"`
	Number          *float64  `bson:"number,omitempty"`
	SubmittedAt     time.Time `bson:"submitted_at"`
}

func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	db := client.Database(database)
	return &MongoStore{
		client:    client,
		reports:   db.Collection("report_artifacts"),
		projects:  db.Collection("report_projects"),
		questions: db.Collection("questions"),
		answers:   db.Collection("answers"),
	}, nil
}

// Migrate creates the indexes, including the partial unique index that
// admits a single latest artifact per project.
func (s *MongoStore) Migrate(ctx context.Context) error {
	_, err := s.reports.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "project_id", Value: 1}, {Key: "version", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("project_version"),
		},
		{
			Keys: bson.D{{Key: "project_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("one_latest").
				SetPartialFilterExpression(bson.M{"latest": true}),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}},
			Options: options.Index().SetName("status_created"),
		},
	})
	if err != nil {
		return fmt.Errorf("create report indexes: %w", err)
	}
	if _, err := s.answers.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "project_id", Value: 1}, {Key: "submitted_at", Value: 1}},
	}); err != nil {
		return fmt.Errorf("create answer indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) withTransaction(ctx context.Context, fn func(sc mongo.SessionContext) (*ReportArtifact, error)) (*ReportArtifact, error) {
	sess, err := s.client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	res, err := sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return fn(sc)
	})
	if err != nil {
		return nil, err
	}
	return res.(*ReportArtifact), nil
}

// touchProject bumps the project document and returns the new counter when
// inc is set.
func (s *MongoStore) touchProject(ctx context.Context, projectID string, inc int) (int, error) {
	var doc projectDoc
	err := s.projects.FindOneAndUpdate(ctx,
		bson.M{"_id": projectID},
		bson.M{"$inc": bson.M{"seq": inc}, "$set": bson.M{"touched_at": time.Now().UTC()}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("touch project: %w", err)
	}
	return doc.Seq, nil
}

func (s *MongoStore) findReport(ctx context.Context, reportID uuid.UUID) (*reportDoc, error) {
	var doc reportDoc
	err := s.reports.FindOne(ctx, bson.M{"_id": reportID.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *MongoStore) CreateDraft(ctx context.Context, projectID string, meta SnapshotMeta) (*ReportArtifact, error) {
	return s.withTransaction(ctx, func(sc mongo.SessionContext) (*ReportArtifact, error) {
		version, err := s.touchProject(sc, projectID, 1)
		if err != nil {
			return nil, err
		}
		now := time.Now().UTC()
		doc := reportDoc{
			ID:        uuid.New().String(),
			ProjectID: projectID,
			Version:   version,
			Status:    string(StatusGenerating),
			Snapshot:  meta,
			Files:     []FileRef{},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if _, err := s.reports.InsertOne(sc, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, fmt.Errorf("%w: version %d", ErrVersionConflict, version)
			}
			return nil, fmt.Errorf("insert draft: %w", err)
		}
		return doc.artifact()
	})
}

func (s *MongoStore) SetFiles(ctx context.Context, reportID uuid.UUID, files []FileRef) error {
	if files == nil {
		files = []FileRef{}
	}
	res, err := s.reports.UpdateOne(ctx,
		bson.M{"_id": reportID.String(), "status": string(StatusGenerating)},
		bson.M{"$set": bson.M{"files": files, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("set files: %w", err)
	}
	if res.MatchedCount == 0 {
		if _, err := s.findReport(ctx, reportID); err != nil {
			return err
		}
		return ErrInvalidTransition
	}
	return nil
}

func (s *MongoStore) CommitFinal(ctx context.Context, projectID string, reportID uuid.UUID) (*ReportArtifact, error) {
	return s.withTransaction(ctx, func(sc mongo.SessionContext) (*ReportArtifact, error) {
		if _, err := s.touchProject(sc, projectID, 0); err != nil {
			return nil, err
		}
		doc, err := s.findReport(sc, reportID)
		if err != nil {
			return nil, err
		}
		a, err := doc.artifact()
		if err != nil {
			return nil, err
		}
		if err := checkCommit(a, projectID); err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		if _, err := s.reports.UpdateMany(sc,
			bson.M{"project_id": projectID, "latest": true},
			bson.M{"$set": bson.M{"latest": false, "updated_at": now}},
		); err != nil {
			return nil, fmt.Errorf("clear latest: %w", err)
		}
		if _, err := s.reports.UpdateOne(sc,
			bson.M{"_id": doc.ID},
			bson.M{"$set": bson.M{"status": string(StatusFinal), "latest": true, "updated_at": now, "finalized_at": now}},
		); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, ErrVersionConflict
			}
			return nil, fmt.Errorf("promote report: %w", err)
		}
		a.Status = StatusFinal
		a.Latest = true
		a.UpdatedAt = now
		a.FinalizedAt = &now
		return a, nil
	})
}

func (s *MongoStore) MarkFailed(ctx context.Context, reportID uuid.UUID, reason string) (*ReportArtifact, error) {
	return s.transition(ctx, reportID, StatusFailed, bson.M{"error": reason}, func(a *ReportArtifact) error {
		if !CanTransition(a.Status, StatusFailed) {
			return ErrInvalidTransition
		}
		return nil
	})
}

func (s *MongoStore) Archive(ctx context.Context, reportID uuid.UUID) (*ReportArtifact, error) {
	return s.transition(ctx, reportID, StatusArchived, bson.M{}, checkArchive)
}

func (s *MongoStore) transition(ctx context.Context, reportID uuid.UUID, to Status, set bson.M, check func(*ReportArtifact) error) (*ReportArtifact, error) {
	return s.withTransaction(ctx, func(sc mongo.SessionContext) (*ReportArtifact, error) {
		doc, err := s.findReport(sc, reportID)
		if err != nil {
			return nil, err
		}
		a, err := doc.artifact()
		if err != nil {
			return nil, err
		}
		if err := check(a); err != nil {
			return nil, err
		}
		now := time.Now().UTC()
		set["status"] = string(to)
		set["updated_at"] = now
		res, err := s.reports.UpdateOne(sc, bson.M{"_id": doc.ID, "status": doc.Status}, bson.M{"$set": set})
		if err != nil {
			return nil, fmt.Errorf("update status: %w", err)
		}
		if res.ModifiedCount == 0 {
			return nil, ErrInvalidTransition
		}
		a.Status = to
		if reason, ok := set["error"].(string); ok {
			a.Error = reason
		}
		a.UpdatedAt = now
		return a, nil
	})
}

func (s *MongoStore) GetReport(ctx context.Context, reportID uuid.UUID) (*ReportArtifact, error) {
	doc, err := s.findReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	return doc.artifact()
}

func (s *MongoStore) GetLatest(ctx context.Context, projectID string) (*ReportArtifact, error) {
	var doc reportDoc
	err := s.reports.FindOne(ctx, bson.M{"project_id": projectID, "latest": true}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.artifact()
}

func (s *MongoStore) ListReports(ctx context.Context, projectID string) ([]*ReportArtifact, error) {
	return s.findReports(ctx, bson.M{"project_id": projectID}, bson.D{{Key: "version", Value: 1}})
}

func (s *MongoStore) ListStaleDrafts(ctx context.Context, before time.Time) ([]*ReportArtifact, error) {
	return s.findReports(ctx,
		bson.M{"status": string(StatusGenerating), "created_at": bson.M{"$lt": before}},
		bson.D{{Key: "created_at", Value: 1}})
}

func (s *MongoStore) findReports(ctx context.Context, filter bson.M, sort bson.D) ([]*ReportArtifact, error) {
	cursor, err := s.reports.Find(ctx, filter, options.Find().SetSort(sort))
	if err != nil {
		return nil, err
	}
	var docs []reportDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]*ReportArtifact, 0, len(docs))
	for i := range docs {
		a, err := docs[i].artifact()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (d *reportDoc) artifact() (*ReportArtifact, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("parse report id: %w", err)
	}
	files := d.Files
	if files == nil {
		files = []FileRef{}
	}
	return &ReportArtifact{
		ID:          id,
		ProjectID:   d.ProjectID,
		Version:     d.Version,
		Status:      Status(d.Status),
		Latest:      d.Latest,
		Snapshot:    d.Snapshot,
		Files:       files,
		Error:       d.Error,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
		FinalizedAt: d.FinalizedAt,
	}, nil
}

func (s *MongoStore) ListQuestions(ctx context.Context) ([]catalog.Question, error) {
	cursor, err := s.questions.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []questionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]catalog.Question, 0, len(docs))
	for _, d := range docs {
		out = append(out, catalog.Question{
			ID:              d.ID,
			QuestionnaireID: d.QuestionnaireID,
			Principle:       catalog.Principle(d.Principle),
			Type:            catalog.AnswerType(d.Type),
			Importance:      d.Importance,
			Options:         d.Options,
			OptionRisks:     d.OptionRisks,
			Numeric:         d.Numeric,
		})
	}
	return out, nil
}

func (s *MongoStore) SaveQuestion(ctx context.Context, q catalog.Question) error {
	if err := catalog.Validate(q); err != nil {
		return err
	}
	doc := questionDoc{
		ID:              q.ID,
		QuestionnaireID: q.QuestionnaireID,
		Principle:       string(q.Principle),
		Type:            string(q.Type),
		Importance:      q.Importance,
		Options:         q.Options,
		OptionRisks:     q.OptionRisks,
		Numeric:         q.Numeric,
	}
	_, err := s.questions.ReplaceOne(ctx, bson.M{"_id": q.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save question: %w", err)
	}
	return nil
}

func (s *MongoStore) ListAnswers(ctx context.Context, projectID string) ([]catalog.Answer, error) {
	cursor, err := s.answers.Find(ctx, bson.M{"project_id": projectID},
		options.Find().SetSort(bson.D{{Key: "submitted_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []answerDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]catalog.Answer, 0, len(docs))
	for _, d := range docs {
		id, err := uuid.Parse(d.ID)
		if err != nil {
			return nil, fmt.Errorf("parse answer id: %w", err)
		}
		out = append(out, catalog.Answer{
			ID:              id,
			ProjectID:       d.ProjectID,
			QuestionnaireID: d.QuestionnaireID,
			QuestionID:      d.QuestionID,
			EvaluatorID:     d.EvaluatorID,
			EvaluatorRole:   d.EvaluatorRole,
			Selected:        d.Selected,
			Text:            d.Text,
			Number:          d.Number,
			SubmittedAt:     d.SubmittedAt,
		})
	}
	return out, nil
}

func (s *MongoStore) AppendAnswer(ctx context.Context, a *catalog.Answer) error {
	stampAnswer(a)
	_, err := s.answers.InsertOne(ctx, answerDoc{
		ID:              a.ID.String(),
		ProjectID:       a.ProjectID,
		QuestionnaireID: a.QuestionnaireID,
		QuestionID:      a.QuestionID,
		EvaluatorID:     a.EvaluatorID,
		EvaluatorRole:   a.EvaluatorRole,
		Selected:        a.Selected,
		Text:            a.Text,
		Number:          a.Number,
		SubmittedAt:     a.SubmittedAt,
	})
	if err != nil {
		return fmt.Errorf("append answer: %w", err)
	}
	return nil
}
