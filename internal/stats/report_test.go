package stats

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/verte-zerg/sotaque/internal/model"
	"github.com/verte-zerg/sotaque/internal/store"
)

func TestBuildReport(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(dir, "sotaque.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})

	for i := 0; i < 3; i++ {
		if err := st.RecordOutcomes(ctx, "ana", []string{"hospital"}, []string{"the", "hospital"}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	for lesson, score := range []int{100, 60, 85} {
		if err := st.SaveLessonScore(ctx, "ana", "travel", lesson, score); err != nil {
			t.Fatalf("save score: %v", err)
		}
	}
	if err := st.SaveModuleProgress(ctx, "ana", "travel", 3); err != nil {
		t.Fatalf("save progress: %v", err)
	}
	if err := st.MarkExamCompleted(ctx, "ana", "travel", 70); err != nil {
		t.Fatalf("mark exam: %v", err)
	}
	if _, err := st.AddXP(ctx, "ana", 320); err != nil {
		t.Fatalf("add xp: %v", err)
	}

	modules := []model.Module{
		{Name: "travel", Phrases: make([]model.Phrase, 10)},
		{Name: "casual", Phrases: make([]model.Phrase, 4)},
	}
	report, err := BuildReport(ctx, st, "ana", modules, 30)
	if err != nil {
		t.Fatalf("build report: %v", err)
	}
	if report.Tier.Name != "SILVER" {
		t.Fatalf("expected SILVER, got %s", report.Tier.Name)
	}
	if len(report.WeakWords) != 1 || report.WeakWords[0].Word != "hospital" {
		t.Fatalf("unexpected weak words %+v", report.WeakWords)
	}
	if len(report.Modules) != 2 {
		t.Fatalf("expected 2 modules, got %d", len(report.Modules))
	}
	travel := report.Modules[0]
	if travel.Reached != 3 || travel.Mastered != 2 || !travel.ExamCompleted || len(travel.Scores) != 3 {
		t.Fatalf("unexpected travel report %+v", travel)
	}
	casual := report.Modules[1]
	if casual.Reached != 0 || casual.ExamCompleted || len(casual.Scores) != 0 {
		t.Fatalf("unexpected casual report %+v", casual)
	}

	var buf bytes.Buffer
	if err := RenderReport(&buf, report); err != nil {
		t.Fatalf("render: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"SILVER", "320 XP", "480 to GOLD", "travel", "3/10", "hospital", "Weak Words"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestSparkline(t *testing.T) {
	if got := Sparkline([]float64{0, 50, 100}); got != " +@" {
		t.Fatalf("unexpected sparkline %q", got)
	}
	if got := Sparkline([]float64{70, 70}); got != "++" {
		t.Fatalf("unexpected flat sparkline %q", got)
	}
}

func TestAccuracy(t *testing.T) {
	if got := Accuracy(model.WeakWord{ErrorCount: 1, TotalSeen: 4}); got != 0.75 {
		t.Fatalf("expected 0.75, got %f", got)
	}
	if got := Accuracy(model.WeakWord{}); got != 1 {
		t.Fatalf("expected 1, got %f", got)
	}
}
