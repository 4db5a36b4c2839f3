package service

import (
	"testing"

	"github.com/prepdeck/prepdeck-backend/internal/model"
)

func TestValidateAnswerSetSemantics(t *testing.T) {
	svc := NewQuestionService(nil)
	q := &model.QuestionProjection{
		Options:        []string{"a", "b", "c", "d"},
		CorrectAnswers: []int{1, 3},
	}

	cases := []struct {
		name     string
		selected []int
		want     bool
	}{
		{"exact match", []int{1, 3}, true},
		{"order independent", []int{3, 1}, true},
		{"duplicates collapse", []int{1, 1, 3}, true},
		{"partial", []int{1}, false},
		{"superset", []int{1, 3, 0}, false},
		{"disjoint", []int{0, 2}, false},
		{"empty", nil, false},
	}
	for _, tc := range cases {
		if got := svc.ValidateAnswer(q, tc.selected); got != tc.want {
			t.Errorf("%s: ValidateAnswer(%v) = %v, want %v", tc.name, tc.selected, got, tc.want)
		}
	}
}

func TestCheckQuestionRejectsMalformedEncodings(t *testing.T) {
	cases := []struct {
		name string
		q    model.Question
		ok   bool
	}{
		{"valid", model.Question{ID: "q", Options: []string{"a", "b"}, CorrectAnswers: []int{0}}, true},
		{"no options", model.Question{ID: "q", CorrectAnswers: []int{0}}, false},
		{"no answer key", model.Question{ID: "q", Options: []string{"a", "b"}}, false},
		{"index too high", model.Question{ID: "q", Options: []string{"a", "b"}, CorrectAnswers: []int{2}}, false},
		{"negative index", model.Question{ID: "q", Options: []string{"a", "b"}, CorrectAnswers: []int{-1}}, false},
	}
	for _, tc := range cases {
		err := checkQuestion(&tc.q)
		if (err == nil) != tc.ok {
			t.Errorf("%s: checkQuestion err = %v", tc.name, err)
		}
	}
}

func TestProjectStripsAnswerData(t *testing.T) {
	q := model.Question{
		ID:             "q1",
		Options:        []string{"a", "b"},
		CorrectAnswers: []int{1},
		Explanation:    "because",
	}

	hidden := q.Project(false)
	if hidden.CorrectAnswers != nil || hidden.Explanation != "" {
		t.Fatalf("blind projection leaks: %+v", hidden)
	}

	full := q.Project(true)
	if len(full.CorrectAnswers) != 1 || full.Explanation != "because" {
		t.Fatalf("full projection missing data: %+v", full)
	}
}

func TestToggleMember(t *testing.T) {
	list := toggleMember(nil, "a")
	if len(list) != 1 || list[0] != "a" {
		t.Fatalf("add: %v", list)
	}
	list = toggleMember(list, "b")
	list = toggleMember(list, "a")
	if len(list) != 1 || list[0] != "b" {
		t.Fatalf("remove: %v", list)
	}
}

func TestNewSessionIDFormat(t *testing.T) {
	id := newSessionID(model.SessionKindTest)
	if len(id) != len("test_")+32 {
		t.Fatalf("id %q has unexpected length", id)
	}
	if id[:5] != "test_" {
		t.Fatalf("id %q missing kind prefix", id)
	}
	if id == newSessionID(model.SessionKindTest) {
		t.Fatal("ids are not unique")
	}
}
