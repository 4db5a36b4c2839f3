package repository

import (
	"strings"
	"testing"

	"github.com/prepdeck/prepdeck-backend/internal/model"
)

func TestBuildSessionUpdateAlwaysBumpsVersion(t *testing.T) {
	query, args := buildSessionUpdate("s1", model.SessionPatch{TimeSpentDelta: 5})

	if !strings.Contains(query, "version = version + 1") {
		t.Fatalf("query missing version bump: %s", query)
	}
	if !strings.Contains(query, "updated_at = NOW()") {
		t.Fatalf("query missing updated_at: %s", query)
	}
	if !strings.Contains(query, "time_spent_seconds = time_spent_seconds + $2") {
		t.Fatalf("query missing time delta: %s", query)
	}
	if !strings.HasSuffix(strings.TrimSpace(query), "RETURNING "+sessionColumns) {
		t.Fatalf("query missing RETURNING clause: %s", query)
	}
	if len(args) != 2 || args[0] != "s1" || args[1] != 5 {
		t.Fatalf("args = %v", args)
	}
}

func TestBuildSessionUpdateMergesAnswers(t *testing.T) {
	patch := model.SessionPatch{
		AnswersMerge: map[string]model.Answer{
			"q1": {SelectedAnswers: []int{0}, IsCorrect: true},
		},
	}
	query, args := buildSessionUpdate("s1", patch)

	if !strings.Contains(query, "answers = answers || $2::jsonb") {
		t.Fatalf("answers must merge, not replace: %s", query)
	}
	raw, ok := args[1].([]byte)
	if !ok || !strings.Contains(string(raw), `"q1"`) {
		t.Fatalf("merge payload = %v", args[1])
	}
}

func TestBuildSessionUpdateVersionGuard(t *testing.T) {
	version := 7
	status := model.SessionStatusSubmitted
	query, args := buildSessionUpdate("s1", model.SessionPatch{
		Status:          &status,
		ExpectedVersion: &version,
	})

	if !strings.Contains(query, "WHERE id = $1 AND version = $3") {
		t.Fatalf("query missing version guard: %s", query)
	}
	if args[len(args)-1] != 7 {
		t.Fatalf("last arg = %v, want version 7", args[len(args)-1])
	}
}

func TestBuildSessionUpdateReplacesMarkLists(t *testing.T) {
	bookmarks := []string{"q1", "q2"}
	var flags []string
	query, args := buildSessionUpdate("s1", model.SessionPatch{
		Bookmarks: &bookmarks,
		Flags:     &flags,
	})

	if !strings.Contains(query, "bookmarks = $2::jsonb") || !strings.Contains(query, "flags = $3::jsonb") {
		t.Fatalf("query = %s", query)
	}
	// A nil slice serializes as an empty JSON array, never null.
	if raw := args[2].([]byte); string(raw) != "[]" {
		t.Fatalf("nil flags serialized as %s", raw)
	}
}
