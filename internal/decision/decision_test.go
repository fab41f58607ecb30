package decision

import (
	"math"
	"testing"

	"github.com/marcus/taskforge/internal/db"
)

func TestChooseEmptyOptions(t *testing.T) {
	e := NewEngine(nil)

	d := e.Choose(map[string]any{}, nil)
	if d.Chosen != "" {
		t.Errorf("Chosen = %q, want empty", d.Chosen)
	}
	if d.Confidence != 0 {
		t.Errorf("Confidence = %f, want 0", d.Confidence)
	}
	if d.Reasoning != "no suitable option" {
		t.Errorf("Reasoning = %q", d.Reasoning)
	}
}

func TestChoosePicksHighestScore(t *testing.T) {
	e := NewEngine(nil)

	options := []Option{
		{Name: "small-patch", Priority: 5, Complexity: 2, SuccessProbability: 0.9},
		{Name: "rewrite", Priority: 5, Complexity: 9, SuccessProbability: 0.5, ResourceCost: 8},
	}
	d := e.Choose(nil, options)
	if d.Chosen != "small-patch" {
		t.Errorf("Chosen = %q, want small-patch", d.Chosen)
	}
	if d.Confidence <= 0 || d.Confidence > 1 {
		t.Errorf("Confidence = %f, want (0,1]", d.Confidence)
	}
}

func TestScoreFormula(t *testing.T) {
	opt := Option{
		Priority:           5,
		Urgent:             true,
		Complexity:         4,
		SuccessProbability: 0.8,
		ResourceCost:       3,
	}
	// 5*10 + 25 + (10-4)*5 + 0.8*30 - 3*2 = 123
	want := 123.0
	if got := Score(nil, opt); math.Abs(got-want) > 1e-9 {
		t.Errorf("Score() = %f, want %f", got, want)
	}
}

func TestScoreErrorSeverityBonus(t *testing.T) {
	ctx := map[string]any{"error_severity": 2.0}
	fixer := Option{Priority: 5, FixesErrors: true}
	other := Option{Priority: 5}

	diff := Score(ctx, fixer) - Score(ctx, other)
	if math.Abs(diff-30.0) > 1e-9 {
		t.Errorf("severity bonus = %f, want 30", diff)
	}

	// Severity as int counts too; context without severity adds nothing.
	if got := Score(map[string]any{"error_severity": 2}, fixer); math.Abs(got-Score(ctx, fixer)) > 1e-9 {
		t.Error("int severity scored differently from float severity")
	}
	if got := Score(nil, fixer); math.Abs(got-Score(nil, other)) > 1e-9 {
		t.Error("fixer got severity bonus without context severity")
	}
}

func TestChooseDeterministic(t *testing.T) {
	ctx := map[string]any{"error_severity": 3}
	options := []Option{
		{Name: "a", Priority: 6, Complexity: 3, SuccessProbability: 0.7},
		{Name: "b", Priority: 6, Complexity: 3, SuccessProbability: 0.7},
		{Name: "c", Priority: 8, Complexity: 5, SuccessProbability: 0.6, FixesErrors: true},
	}

	first := NewEngine(nil).Choose(ctx, options)
	for i := 0; i < 10; i++ {
		d := NewEngine(nil).Choose(ctx, options)
		if d.Chosen != first.Chosen || d.Confidence != first.Confidence {
			t.Fatalf("run %d: (%q, %f) != (%q, %f)", i, d.Chosen, d.Confidence, first.Chosen, first.Confidence)
		}
	}
}

func TestChooseTieGoesToFirst(t *testing.T) {
	options := []Option{
		{Name: "first", Priority: 5},
		{Name: "second", Priority: 5},
	}
	d := NewEngine(nil).Choose(nil, options)
	if d.Chosen != "first" {
		t.Errorf("Chosen = %q, want first on tie", d.Chosen)
	}
}

func TestConfidenceCapped(t *testing.T) {
	options := []Option{
		{Name: "max", Priority: 10, Urgent: true, SuccessProbability: 1.0},
	}
	d := NewEngine(nil).Choose(nil, options)
	if d.Confidence != 1.0 {
		t.Errorf("Confidence = %f, want capped at 1.0", d.Confidence)
	}
}

func TestHistory(t *testing.T) {
	e := NewEngine(nil)
	e.Choose(nil, []Option{{Name: "one", Priority: 5}})
	e.Choose(nil, []Option{{Name: "two", Priority: 5}})

	hist := e.History(0)
	if len(hist) != 2 {
		t.Fatalf("History() = %d entries, want 2", len(hist))
	}
	if hist[0].Chosen != "two" {
		t.Errorf("History()[0].Chosen = %q, want most recent first", hist[0].Chosen)
	}

	if got := len(e.History(1)); got != 1 {
		t.Errorf("History(1) = %d entries, want 1", got)
	}
}

func TestHistoryPersisted(t *testing.T) {
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	defer database.Close()

	e := NewEngine(database)
	d := e.Choose(map[string]any{"error_severity": 1}, []Option{{Name: "fix", Priority: 7, FixesErrors: true}})

	var chosen string
	var confidence float64
	err = database.SQL().QueryRow(`SELECT chosen, confidence FROM decision_history WHERE id = ?`, d.ID).
		Scan(&chosen, &confidence)
	if err != nil {
		t.Fatalf("query decision_history: %v", err)
	}
	if chosen != "fix" {
		t.Errorf("persisted chosen = %q, want fix", chosen)
	}
	if confidence != d.Confidence {
		t.Errorf("persisted confidence = %f, want %f", confidence, d.Confidence)
	}
}
