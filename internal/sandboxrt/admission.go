package sandboxrt

import (
	"context"
	"fmt"
	"time"

	"github.com/haasonsaas/nexus/internal/controlplane"
	"github.com/haasonsaas/nexus/pkg/orchestration"
)

// DefaultAdmissionLimitTokens is the soft context-window ceiling a new task
// is checked against before it's allowed to run.
const DefaultAdmissionLimitTokens = 128_000

// AdmitTask reports whether sandbox has room under limit (DefaultAdmissionLimitTokens
// when limit <= 0) for a new task, comparing against the sandbox's most
// recently observed context length. It returns controlplane.ErrConflict
// wrapped in an OrchestrationError, never mutating state itself.
func AdmitTask(sandbox *orchestration.Sandbox, limit int) error {
	if limit <= 0 {
		limit = DefaultAdmissionLimitTokens
	}
	if sandbox.LastContextLength >= limit {
		return controlplane.NewError(controlplane.ErrConflict, "AdmitTask",
			fmt.Errorf("context length %d meets or exceeds admission limit %d", sandbox.LastContextLength, limit))
	}
	return nil
}

// ClearContext resets a sandbox's context accounting window, the effect of
// the sandbox's context/clear operation, and persists the result.
func ClearContext(ctx context.Context, store controlplane.Store, sandboxID string, now time.Time) (*orchestration.Sandbox, error) {
	sb, err := store.GetSandbox(ctx, sandboxID)
	if err != nil {
		return nil, err
	}
	cleared := sb.ClearContextCutoff(now)
	if err := store.UpdateSandbox(ctx, &cleared); err != nil {
		return nil, err
	}
	return &cleared, nil
}
