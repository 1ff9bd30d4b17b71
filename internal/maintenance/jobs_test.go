package maintenance

import (
	"context"
	"log/slog"
	"testing"

	"github.com/anyclaude/anyclaude-proxy/internal/cluster"
)

func TestAffinitySweepJob_ClearsOversizedNodes(t *testing.T) {
	table := cluster.NewTable([]cluster.NodeSpec{
		{ID: "a", URL: "http://a"},
		{ID: "b", URL: "http://b"},
	})

	a, _ := table.Get("a")
	b, _ := table.Get("b")
	a.RememberFingerprint("fp1")
	a.RememberFingerprint("fp2")
	b.RememberFingerprint("fp1")

	job := &AffinitySweepJob{Table: table, MaxPerNode: 1, Logger: slog.Default()}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if a.AffinityCount() != 0 {
		t.Fatalf("expected node a swept, got %d entries", a.AffinityCount())
	}
	if b.AffinityCount() != 1 {
		t.Fatalf("expected node b untouched, got %d entries", b.AffinityCount())
	}
}

func TestAffinitySweepJob_NoOpWithoutTable(t *testing.T) {
	job := &AffinitySweepJob{Logger: slog.Default()}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestAffinitySweepJob_DefaultSchedule(t *testing.T) {
	job := &AffinitySweepJob{}
	if job.Schedule() != "*/15 * * * *" {
		t.Fatalf("unexpected default schedule: %q", job.Schedule())
	}
}
