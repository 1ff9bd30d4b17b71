package maintenance

import (
	"context"
	"log/slog"

	"github.com/anyclaude/anyclaude-proxy/internal/cluster"
)

// AffinitySweepJob bounds the growth of each cluster node's remembered
// cache fingerprints, which are never otherwise expired. Nodes holding
// more than MaxPerNode fingerprints have their affinity set cleared; the
// router falls back to its non-cache-aware strategies until affinity is
// rebuilt by new traffic.
type AffinitySweepJob struct {
	Table        *cluster.Table
	MaxPerNode   int
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "*/15 * * * *"
}

var _ Job = (*AffinitySweepJob)(nil)

func (j *AffinitySweepJob) Name() string { return "cluster_affinity_sweep" }

func (j *AffinitySweepJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "*/15 * * * *"
}

func (j *AffinitySweepJob) Run(_ context.Context) error {
	if j.Table == nil || j.MaxPerNode <= 0 {
		return nil
	}
	var swept int
	j.Table.Range(func(n *cluster.Node) bool {
		if n.AffinityCount() > j.MaxPerNode {
			n.ForgetAffinity()
			swept++
		}
		return true
	})
	if swept > 0 {
		j.Logger.Info("maintenance: cleared oversized affinity sets", "nodes", swept)
	}
	return nil
}
