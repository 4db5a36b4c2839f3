package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prepdeck/prepdeck-backend/internal/config"
	"github.com/prepdeck/prepdeck-backend/internal/model"
	"github.com/rs/zerolog"
)

func newTestFixture() (*TestSessionService, *fakeSessionStore, *fakeCompletionQueue, *fakeClock) {
	store := newFakeSessionStore()
	questions := &fakeQuestionStore{questions: fixtureQuestions()}
	exams := &fakeExamCatalog{exams: map[string]*model.Exam{"az900": fixtureExam()}}
	queue := &fakeCompletionQueue{}
	cfg := &config.Config{
		DefaultTestMinutes:   90,
		DefaultTestQuestions: 75,
		ExpirySweepGrace:     2 * time.Minute,
	}

	svc := NewTestSessionService(store, questions, exams, queue, cfg, zerolog.Nop())
	clock := newFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	svc.now = clock.Now
	return svc, store, queue, clock
}

// answerCorrectly submits the right answer for a question through the
// session's displayed option order.
func answerCorrectly(t *testing.T, svc *TestSessionService, session *model.Session, q model.Question) {
	t.Helper()

	perm := session.OptionOrders[q.ID]
	displayed := make([]int, 0, len(q.CorrectAnswers))
	for _, original := range q.CorrectAnswers {
		found := -1
		for d, o := range perm {
			if o == original {
				found = d
				break
			}
		}
		if found < 0 {
			t.Fatalf("question %s: original index %d missing from permutation %v", q.ID, original, perm)
		}
		displayed = append(displayed, found)
	}

	_, err := svc.UpdateProgress(context.Background(), alice, session.ID, ProgressUpdate{
		Answer: &AnswerSubmission{QuestionID: q.ID, SelectedAnswers: displayed},
	})
	if err != nil {
		t.Fatalf("answer %s: %v", q.ID, err)
	}
}

func TestTestCreateSnapshotsExam(t *testing.T) {
	svc, _, _, _ := newTestFixture()

	result, err := svc.Create(context.Background(), alice, "az900", TestOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	sess := result.Session

	if sess.TimeLimitSeconds != 60*60 {
		t.Fatalf("time limit = %d, want 3600", sess.TimeLimitSeconds)
	}
	if sess.PassingScore != 70 {
		t.Fatalf("passing score = %d, want 70", sess.PassingScore)
	}
	if len(sess.QuestionsOrder) != 4 {
		t.Fatalf("questions = %d, want 4 (exam total)", len(sess.QuestionsOrder))
	}
	if result.RemainingSeconds != 3600 {
		t.Fatalf("remaining = %d, want 3600", result.RemainingSeconds)
	}

	// Every question carries a full permutation of its options.
	byID := map[string]model.Question{}
	for _, q := range fixtureQuestions() {
		byID[q.ID] = q
	}
	for _, id := range sess.QuestionsOrder {
		perm := sess.OptionOrders[id]
		if len(perm) != len(byID[id].Options) {
			t.Fatalf("question %s: permutation %v does not cover %d options", id, perm, len(byID[id].Options))
		}
		seen := map[int]bool{}
		for _, o := range perm {
			if o < 0 || o >= len(perm) || seen[o] {
				t.Fatalf("question %s: invalid permutation %v", id, perm)
			}
			seen[o] = true
		}
	}

	// Projections present options in permuted order and hide the answer key.
	for _, p := range result.Questions {
		if p.CorrectAnswers != nil {
			t.Fatalf("question %s projection leaks answer key", p.ID)
		}
		perm := sess.OptionOrders[p.ID]
		original := byID[p.ID].Options
		for d, o := range perm {
			if p.Options[d] != original[o] {
				t.Fatalf("question %s: option[%d] = %q, want %q", p.ID, d, p.Options[d], original[o])
			}
		}
	}
}

func TestTestCreateResumesWithinDeadline(t *testing.T) {
	svc, _, _, clock := newTestFixture()
	ctx := context.Background()

	first, err := svc.Create(ctx, alice, "az900", TestOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	clock.Advance(10 * time.Minute)

	second, err := svc.Create(ctx, alice, "az900", TestOptions{})
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	if !second.IsResuming || second.Session.ID != first.Session.ID {
		t.Fatalf("expected resume of %s, got %s (resuming=%v)", first.Session.ID, second.Session.ID, second.IsResuming)
	}
	if second.RemainingSeconds != 3600-600 {
		t.Fatalf("remaining = %d, want 3000", second.RemainingSeconds)
	}
}

func TestTestCreateExpiresOverdueAndStartsFresh(t *testing.T) {
	svc, store, queue, clock := newTestFixture()
	ctx := context.Background()

	first, err := svc.Create(ctx, alice, "az900", TestOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	clock.Advance(2 * time.Hour)

	second, err := svc.Create(ctx, alice, "az900", TestOptions{})
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	if second.IsResuming || second.Session.ID == first.Session.ID {
		t.Fatal("overdue session was resumed instead of replaced")
	}

	old, err := store.GetByID(ctx, first.Session.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if old.Status != model.SessionStatusExpired {
		t.Fatalf("old status = %s, want expired", old.Status)
	}
	if old.Score == nil || *old.Score != 0 {
		t.Fatalf("expired session score = %v, want 0", old.Score)
	}
	if old.CompletedAt == nil || *old.CompletedAt != first.Session.StartedAt+3600 {
		t.Fatal("expired session CompletedAt not pinned to deadline")
	}

	events := queue.all()
	if len(events) != 1 || events[0].Score != 0 || events[0].Passed {
		t.Fatalf("events = %+v, want one failed event", events)
	}
}

func TestTestUpdateProgressAfterDeadline(t *testing.T) {
	svc, store, _, clock := newTestFixture()
	ctx := context.Background()

	created, _ := svc.Create(ctx, alice, "az900", TestOptions{})
	id := created.Session.ID

	clock.Advance(61 * time.Minute)

	// The update is dropped; the caller gets the finalized session back.
	sess, err := svc.UpdateProgress(ctx, alice, id, ProgressUpdate{ToggleFlag: "q1"})
	if err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	if sess.Status != model.SessionStatusExpired {
		t.Fatalf("returned status = %s, want expired", sess.Status)
	}
	if len(sess.Flags) != 0 {
		t.Fatalf("dropped update still recorded flags %v", sess.Flags)
	}

	stored, _ := store.GetByID(ctx, id)
	if stored.Status != model.SessionStatusExpired {
		t.Fatalf("status = %s, want expired", stored.Status)
	}
	if stored.Score == nil {
		t.Fatal("expired session was not scored")
	}

	// Further updates on the now-terminal session conflict.
	if _, err := svc.UpdateProgress(ctx, alice, id, ProgressUpdate{ToggleFlag: "q1"}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
}

func TestTestCreateHonorsCallerOverrides(t *testing.T) {
	svc, _, _, _ := newTestFixture()

	result, err := svc.Create(context.Background(), alice, "az900", TestOptions{
		TimeLimitMinutes: 30,
		MaxQuestions:     2,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if result.Session.TimeLimitSeconds != 30*60 {
		t.Fatalf("time limit = %d, want 1800 (override beats exam's 60m)", result.Session.TimeLimitSeconds)
	}
	if len(result.Session.QuestionsOrder) != 2 {
		t.Fatalf("questions = %d, want 2 (override beats exam's 4)", len(result.Session.QuestionsOrder))
	}
	if result.RemainingSeconds != 1800 {
		t.Fatalf("remaining = %d, want 1800", result.RemainingSeconds)
	}
}

func TestTestCreateRejectsNegativeOverrides(t *testing.T) {
	svc, _, _, _ := newTestFixture()

	_, err := svc.Create(context.Background(), alice, "az900", TestOptions{TimeLimitMinutes: -1})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestTestUpdateProgressRejectsBookmarks(t *testing.T) {
	svc, _, _, _ := newTestFixture()
	ctx := context.Background()

	created, _ := svc.Create(ctx, alice, "az900", TestOptions{})

	_, err := svc.UpdateProgress(ctx, alice, created.Session.ID, ProgressUpdate{ToggleBookmark: "q1"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}

	// Flagging for review stays available.
	sess, err := svc.UpdateProgress(ctx, alice, created.Session.ID, ProgressUpdate{ToggleFlag: "q1"})
	if err != nil {
		t.Fatalf("ToggleFlag: %v", err)
	}
	if len(sess.Flags) != 1 || sess.Flags[0] != "q1" {
		t.Fatalf("flags = %v, want [q1]", sess.Flags)
	}
}

func TestTestSubmitScoresAndPublishes(t *testing.T) {
	svc, _, queue, clock := newTestFixture()
	ctx := context.Background()

	created, err := svc.Create(ctx, alice, "az900", TestOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	sess := created.Session

	byID := map[string]model.Question{}
	for _, q := range fixtureQuestions() {
		byID[q.ID] = q
	}

	// 3 of 4 correct, q4 untouched: 75%, passing at 70.
	answerCorrectly(t, svc, sess, byID["q1"])
	answerCorrectly(t, svc, sess, byID["q2"])
	answerCorrectly(t, svc, sess, byID["q3"])

	clock.Advance(30 * time.Minute)

	results, err := svc.Submit(ctx, alice, sess.ID)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	final := results.Session

	if final.Status != model.SessionStatusSubmitted {
		t.Fatalf("status = %s, want submitted", final.Status)
	}
	if final.Score == nil || *final.Score != 75 {
		t.Fatalf("score = %v, want 75", final.Score)
	}
	if final.CorrectCount != 3 || final.IncorrectCount != 0 || final.UnansweredCount != 1 {
		t.Fatalf("counts = %d/%d/%d, want 3/0/1", final.CorrectCount, final.IncorrectCount, final.UnansweredCount)
	}
	if final.Passed == nil || !*final.Passed {
		t.Fatal("75 >= 70 but not marked passed")
	}
	if final.CompletedAt == nil || *final.CompletedAt != clock.Now().Unix() {
		t.Fatal("CompletedAt not set to submit time")
	}

	if len(results.Breakdown) != 4 {
		t.Fatalf("breakdown len = %d, want 4", len(results.Breakdown))
	}
	for _, entry := range results.Breakdown {
		if entry.Question.CorrectAnswers == nil {
			t.Fatalf("breakdown for %s missing answer key", entry.Question.ID)
		}
	}

	events := queue.all()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].UserID != alice.UserID || events[0].Score != 75 || !events[0].Passed {
		t.Fatalf("event = %+v", events[0])
	}
}

func TestTestSubmitTwice(t *testing.T) {
	svc, _, _, _ := newTestFixture()
	ctx := context.Background()

	created, _ := svc.Create(ctx, alice, "az900", TestOptions{})
	if _, err := svc.Submit(ctx, alice, created.Session.ID); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := svc.Submit(ctx, alice, created.Session.ID); !errors.Is(err, ErrAlreadyEnded) {
		t.Fatalf("second submit: err = %v, want ErrAlreadyEnded", err)
	}
}

func TestTestSubmitAfterDeadlineFinalizesExpired(t *testing.T) {
	svc, _, _, clock := newTestFixture()
	ctx := context.Background()

	created, _ := svc.Create(ctx, alice, "az900", TestOptions{})
	clock.Advance(2 * time.Hour)

	results, err := svc.Submit(ctx, alice, created.Session.ID)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if results.Session.Status != model.SessionStatusExpired {
		t.Fatalf("status = %s, want expired", results.Session.Status)
	}
}

func TestTestAbandonSkipsScoring(t *testing.T) {
	svc, _, queue, _ := newTestFixture()
	ctx := context.Background()

	created, _ := svc.Create(ctx, alice, "az900", TestOptions{})
	sess, err := svc.Abandon(ctx, alice, created.Session.ID)
	if err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	if sess.Status != model.SessionStatusAbandoned {
		t.Fatalf("status = %s, want abandoned", sess.Status)
	}
	if sess.Score != nil {
		t.Fatalf("abandoned session has score %v", *sess.Score)
	}
	if len(queue.all()) != 0 {
		t.Fatal("abandon published a completion event")
	}
}

func TestTestResultsRequireTerminalState(t *testing.T) {
	svc, _, _, _ := newTestFixture()
	ctx := context.Background()

	created, _ := svc.Create(ctx, alice, "az900", TestOptions{})

	if _, err := svc.GetResults(ctx, alice, created.Session.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("results on active: err = %v, want ErrInvalidState", err)
	}

	if _, err := svc.Abandon(ctx, alice, created.Session.ID); err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	if _, err := svc.GetResults(ctx, alice, created.Session.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("results on abandoned: err = %v, want ErrInvalidState", err)
	}
}

func TestTestGetActiveLazyExpiry(t *testing.T) {
	svc, _, _, clock := newTestFixture()
	ctx := context.Background()

	created, _ := svc.Create(ctx, alice, "az900", TestOptions{})
	_ = created

	result, err := svc.GetActive(ctx, alice, "az900")
	if err != nil {
		t.Fatalf("GetActive: %v", err)
	}
	if !result.IsResuming {
		t.Fatal("GetActive should report resuming")
	}

	clock.Advance(2 * time.Hour)

	if _, err := svc.GetActive(ctx, alice, "az900"); !errors.Is(err, ErrAlreadyEnded) {
		t.Fatalf("err = %v, want ErrAlreadyEnded", err)
	}
	// Session is now finalized, so there is no active session left.
	if _, err := svc.GetActive(ctx, alice, "az900"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestTestViewHidesVerdictsInFlight(t *testing.T) {
	svc, _, _, _ := newTestFixture()
	ctx := context.Background()

	created, _ := svc.Create(ctx, alice, "az900", TestOptions{})
	byID := map[string]model.Question{}
	for _, q := range fixtureQuestions() {
		byID[q.ID] = q
	}
	answerCorrectly(t, svc, created.Session, byID["q1"])

	sess, err := svc.GetByID(ctx, alice, created.Session.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	view := sess.View()
	if view.Answers["q1"].IsCorrect {
		t.Fatal("in-flight view exposes per-answer verdict")
	}

	results, err := svc.Submit(ctx, alice, created.Session.ID)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !results.Session.Answers["q1"].IsCorrect {
		t.Fatal("terminal session must keep real verdicts")
	}
}

func TestTestExpireOverdueSweep(t *testing.T) {
	svc, store, queue, clock := newTestFixture()
	ctx := context.Background()

	created, _ := svc.Create(ctx, alice, "az900", TestOptions{})

	// Within the grace window nothing is swept.
	clock.Advance(61 * time.Minute)
	expired, err := svc.ExpireOverdue(ctx, 10)
	if err != nil {
		t.Fatalf("ExpireOverdue: %v", err)
	}
	if expired != 0 {
		t.Fatalf("swept %d sessions inside grace window", expired)
	}

	clock.Advance(5 * time.Minute)
	expired, err = svc.ExpireOverdue(ctx, 10)
	if err != nil {
		t.Fatalf("ExpireOverdue: %v", err)
	}
	if expired != 1 {
		t.Fatalf("swept %d sessions, want 1", expired)
	}

	sess, _ := store.GetByID(ctx, created.Session.ID)
	if sess.Status != model.SessionStatusExpired {
		t.Fatalf("status = %s, want expired", sess.Status)
	}
	if len(queue.all()) != 1 {
		t.Fatalf("events = %d, want 1", len(queue.all()))
	}

	// Idempotent: a second sweep finds nothing.
	if expired, _ := svc.ExpireOverdue(ctx, 10); expired != 0 {
		t.Fatalf("second sweep expired %d", expired)
	}
}

func TestTestFallbackDefaultsWhenExamUnconfigured(t *testing.T) {
	svc, _, _, _ := newTestFixture()
	bare := fixtureExam()
	bare.DurationMinutes = 0
	bare.TotalQuestions = 0
	svc.exams = &fakeExamCatalog{exams: map[string]*model.Exam{"az900": bare}}

	result, err := svc.Create(context.Background(), alice, "az900", TestOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if result.Session.TimeLimitSeconds != 90*60 {
		t.Fatalf("time limit = %d, want default 5400", result.Session.TimeLimitSeconds)
	}
}

func TestRoundedScore(t *testing.T) {
	cases := []struct {
		correct, total, want int
	}{
		{0, 0, 0},
		{0, 4, 0},
		{3, 4, 75},
		{1, 3, 33},
		{2, 3, 67},
		{1, 8, 13}, // 12.5 rounds half away from zero
		{4, 4, 100},
	}
	for _, tc := range cases {
		if got := roundedScore(tc.correct, tc.total); got != tc.want {
			t.Errorf("roundedScore(%d, %d) = %d, want %d", tc.correct, tc.total, got, tc.want)
		}
	}
}

func TestPermuteProjectionRemapsAnswerKey(t *testing.T) {
	p := model.QuestionProjection{
		ID:             "q",
		Options:        []string{"a", "b", "c"},
		CorrectAnswers: []int{2},
	}
	perm := []int{2, 0, 1} // displayed 0 shows original option c

	out := permuteProjection(p, perm)
	if out.Options[0] != "c" || out.Options[1] != "a" || out.Options[2] != "b" {
		t.Fatalf("options = %v", out.Options)
	}
	if len(out.CorrectAnswers) != 1 || out.CorrectAnswers[0] != 0 {
		t.Fatalf("remapped key = %v, want [0]", out.CorrectAnswers)
	}
}
