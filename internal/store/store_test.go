package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eeelify/Z-inspection-sub003/internal/catalog"
)

func TestStatusValues(t *testing.T) {
	statuses := []Status{StatusGenerating, StatusFinal, StatusArchived, StatusFailed}
	expected := []string{"generating", "final", "archived", "failed"}
	for i, s := range statuses {
		if string(s) != expected[i] {
			t.Errorf("expected %s, got %s", expected[i], s)
		}
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusGenerating, StatusFinal, true},
		{StatusGenerating, StatusFailed, true},
		{StatusFinal, StatusArchived, true},
		{StatusGenerating, StatusArchived, false},
		{StatusFinal, StatusGenerating, false},
		{StatusFinal, StatusFailed, false},
		{StatusFailed, StatusFinal, false},
		{StatusFailed, StatusGenerating, false},
		{StatusArchived, StatusFinal, false},
		{StatusArchived, StatusGenerating, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

// runReportStoreSuite exercises the lifecycle contract every backend shares.
func runReportStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()
	meta := SnapshotMeta{ModelVersion: "1.0.0", QuestionCount: 3, AnswerCount: 2, RiskLabel: "High",
		EvaluatorCount: 1, EvaluatorRoles: []string{"legal"}}

	t.Run("versions are sequential from one", func(t *testing.T) {
		s := newStore(t)
		for want := 1; want <= 3; want++ {
			a, err := s.CreateDraft(ctx, "p1", meta)
			require.NoError(t, err)
			assert.Equal(t, want, a.Version)
			assert.Equal(t, StatusGenerating, a.Status)
			assert.False(t, a.Latest)
		}
		other, err := s.CreateDraft(ctx, "p2", meta)
		require.NoError(t, err)
		assert.Equal(t, 1, other.Version)
	})

	t.Run("commit flips latest", func(t *testing.T) {
		s := newStore(t)
		v1, err := s.CreateDraft(ctx, "p1", meta)
		require.NoError(t, err)
		v2, err := s.CreateDraft(ctx, "p1", meta)
		require.NoError(t, err)

		latest, err := s.GetLatest(ctx, "p1")
		require.NoError(t, err)
		assert.Nil(t, latest)

		c1, err := s.CommitFinal(ctx, "p1", v1.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusFinal, c1.Status)
		assert.True(t, c1.Latest)
		require.NotNil(t, c1.FinalizedAt)

		_, err = s.CommitFinal(ctx, "p1", v2.ID)
		require.NoError(t, err)

		latest, err = s.GetLatest(ctx, "p1")
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, v2.ID, latest.ID)

		old, err := s.GetReport(ctx, v1.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusFinal, old.Status)
		assert.False(t, old.Latest)
		assert.Equal(t, meta.ModelVersion, old.Snapshot.ModelVersion)
		assert.Equal(t, []string{"legal"}, old.Snapshot.EvaluatorRoles)
	})

	t.Run("commit rejects foreign project and bad status", func(t *testing.T) {
		s := newStore(t)
		a, err := s.CreateDraft(ctx, "p1", meta)
		require.NoError(t, err)

		_, err = s.CommitFinal(ctx, "p2", a.ID)
		assert.ErrorIs(t, err, ErrProjectMismatch)

		_, err = s.CommitFinal(ctx, "p1", uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = s.MarkFailed(ctx, a.ID, "renderer crashed")
		require.NoError(t, err)
		_, err = s.CommitFinal(ctx, "p1", a.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)

		latest, err := s.GetLatest(ctx, "p1")
		require.NoError(t, err)
		assert.Nil(t, latest)
	})

	t.Run("failed commit leaves previous latest intact", func(t *testing.T) {
		s := newStore(t)
		v1, err := s.CreateDraft(ctx, "p1", meta)
		require.NoError(t, err)
		_, err = s.CommitFinal(ctx, "p1", v1.ID)
		require.NoError(t, err)

		_, err = s.CommitFinal(ctx, "p1", v1.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)

		latest, err := s.GetLatest(ctx, "p1")
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, v1.ID, latest.ID)
	})

	t.Run("mark failed is terminal", func(t *testing.T) {
		s := newStore(t)
		a, err := s.CreateDraft(ctx, "p1", meta)
		require.NoError(t, err)
		failed, err := s.MarkFailed(ctx, a.ID, "renderer crashed")
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, failed.Status)
		assert.False(t, failed.Latest)
		assert.Equal(t, "renderer crashed", failed.Error)

		_, err = s.MarkFailed(ctx, a.ID, "again")
		assert.ErrorIs(t, err, ErrInvalidTransition)
		_, err = s.Archive(ctx, a.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("archive only superseded finals", func(t *testing.T) {
		s := newStore(t)
		v1, err := s.CreateDraft(ctx, "p1", meta)
		require.NoError(t, err)
		_, err = s.Archive(ctx, v1.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)

		_, err = s.CommitFinal(ctx, "p1", v1.ID)
		require.NoError(t, err)
		_, err = s.Archive(ctx, v1.ID)
		assert.ErrorIs(t, err, ErrVersionConflict)

		v2, err := s.CreateDraft(ctx, "p1", meta)
		require.NoError(t, err)
		_, err = s.CommitFinal(ctx, "p1", v2.ID)
		require.NoError(t, err)

		archived, err := s.Archive(ctx, v1.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusArchived, archived.Status)
		assert.False(t, archived.Latest)

		_, err = s.Archive(ctx, v1.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("set files only while generating", func(t *testing.T) {
		s := newStore(t)
		a, err := s.CreateDraft(ctx, "p1", meta)
		require.NoError(t, err)
		files := []FileRef{{Kind: "json", URI: "file:///tmp/p1-v1.json", SHA256: "abc"}}
		require.NoError(t, s.SetFiles(ctx, a.ID, files))

		got, err := s.GetReport(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, files, got.Files)

		_, err = s.CommitFinal(ctx, "p1", a.ID)
		require.NoError(t, err)
		assert.ErrorIs(t, s.SetFiles(ctx, a.ID, nil), ErrInvalidTransition)
		assert.ErrorIs(t, s.SetFiles(ctx, uuid.New(), nil), ErrNotFound)
	})

	t.Run("list reports ordered by version", func(t *testing.T) {
		s := newStore(t)
		for i := 0; i < 3; i++ {
			_, err := s.CreateDraft(ctx, "p1", meta)
			require.NoError(t, err)
		}
		list, err := s.ListReports(ctx, "p1")
		require.NoError(t, err)
		require.Len(t, list, 3)
		for i, a := range list {
			assert.Equal(t, i+1, a.Version)
		}
		empty, err := s.ListReports(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("stale drafts", func(t *testing.T) {
		s := newStore(t)
		a, err := s.CreateDraft(ctx, "p1", meta)
		require.NoError(t, err)
		b, err := s.CreateDraft(ctx, "p1", meta)
		require.NoError(t, err)
		_, err = s.CommitFinal(ctx, "p1", b.ID)
		require.NoError(t, err)

		stale, err := s.ListStaleDrafts(ctx, time.Now().Add(time.Minute))
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, a.ID, stale[0].ID)

		stale, err = s.ListStaleDrafts(ctx, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.Empty(t, stale)
	})

	t.Run("get unknown report", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetReport(ctx, uuid.New())
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("catalog round trip", func(t *testing.T) {
		s := newStore(t)
		q := catalog.Question{ID: "q1", QuestionnaireID: "general", Principle: catalog.PrincipleTransparency,
			Type: catalog.TypeSingleChoice, Importance: 3, Options: []string{"yes", "no"},
			OptionRisks: map[string]float64{"yes": 0, "no": 3}}
		num := catalog.Question{ID: "q2", Principle: catalog.PrincipleRobustness, Type: catalog.TypeNumeric,
			Importance: 2, Numeric: &catalog.NumericMapping{Min: 0, Max: 100, RiskAtMin: 4, RiskAtMax: 0}}
		require.NoError(t, s.SaveQuestion(ctx, q))
		require.NoError(t, s.SaveQuestion(ctx, num))
		assert.Error(t, s.SaveQuestion(ctx, catalog.Question{ID: "bad", Principle: "vibes", Type: catalog.TypeOpenText}))

		questions, err := s.ListQuestions(ctx)
		require.NoError(t, err)
		require.Len(t, questions, 2)
		assert.Equal(t, q.OptionRisks, questions[0].OptionRisks)
		require.NotNil(t, questions[1].Numeric)
		assert.Equal(t, 100.0, questions[1].Numeric.Max)

		text := "we log access"
		t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		answers := []*catalog.Answer{
			{ProjectID: "p1", QuestionID: "q1", EvaluatorID: "e1", Selected: []string{"no"}, SubmittedAt: t0},
			{ProjectID: "p1", QuestionID: "q1", EvaluatorID: "e1", Selected: []string{"yes"}, SubmittedAt: t0.Add(time.Hour)},
			{ProjectID: "p1", QuestionID: "q3", EvaluatorID: "e1", Text: &text, SubmittedAt: t0.Add(2 * time.Hour)},
			{ProjectID: "p2", QuestionID: "q1", EvaluatorID: "e2", Selected: []string{"no"}, SubmittedAt: t0},
		}
		for _, a := range answers {
			require.NoError(t, s.AppendAnswer(ctx, a))
			assert.NotEqual(t, uuid.Nil, a.ID)
		}

		got, err := s.ListAnswers(ctx, "p1")
		require.NoError(t, err)
		require.Len(t, got, 3)
		current := catalog.Current(got)
		require.Len(t, current, 2)
		assert.Equal(t, []string{"yes"}, current[0].Selected)
		require.NotNil(t, current[1].Text)
		assert.Equal(t, text, *current[1].Text)
	})
}

// runConcurrencySuite checks the guarantees that only show under contention.
func runConcurrencySuite(t *testing.T, s ReportStore) {
	ctx := context.Background()
	const workers = 16

	var wg sync.WaitGroup
	drafts := make([]*ReportArtifact, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			drafts[i], errs[i] = s.CreateDraft(ctx, "race", SnapshotMeta{ModelVersion: "1.0.0"})
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for i := range drafts {
		require.NoError(t, errs[i])
		assert.False(t, seen[drafts[i].Version], "duplicate version %d", drafts[i].Version)
		seen[drafts[i].Version] = true
	}
	for v := 1; v <= workers; v++ {
		assert.True(t, seen[v], "missing version %d", v)
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.CommitFinal(ctx, "race", drafts[i].ID)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	list, err := s.ListReports(ctx, "race")
	require.NoError(t, err)
	latest := 0
	for _, a := range list {
		assert.Equal(t, StatusFinal, a.Status)
		if a.Latest {
			latest++
		}
	}
	assert.Equal(t, 1, latest)
}
