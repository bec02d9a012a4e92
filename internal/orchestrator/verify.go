package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var errEmptyNamespace = errors.New("namespace has no vectors")

// verify polls the namespace until it holds vectors and answers a probe
// query. Failing that, the operation ends DEGRADED; it never returns an
// error because index latency is expected.
func (o *Orchestrator) verify(ctx context.Context, res *Result) {
	o.transition(ctx, res, StateVerifying, "")

	var (
		delay    = o.cfg.VerifyInitialDelay
		verified bool
		lastErr  error
	)
	for attempt := 1; attempt <= o.cfg.VerifyAttempts; attempt++ {
		count, err := o.probe(ctx, res.TenantID)
		res.VectorCount = count
		if err == nil {
			verified = true
			break
		}
		lastErr = err
		o.logger.Debug(ctx, "verification probe failed", zap.Int("attempt", attempt), zap.Error(err))
		if attempt == o.cfg.VerifyAttempts {
			break
		}
		if err := o.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
		delay *= 2
	}

	if res.Stats.FailedBatches > 0 {
		res.warn(fmt.Sprintf("%d embedding batches skipped", res.Stats.FailedBatches))
	}
	switch {
	case !verified:
		res.warn(fmt.Sprintf("%v: %v", ErrVerificationTimeout, lastErr))
		o.transition(ctx, res, StateDegraded, ErrVerificationTimeout.Error())
	case res.Stats.Exhausted:
		res.warn(fmt.Sprintf("embedding rate limit exhausted, %d chunks not indexed", len(res.Stats.SkippedIDs)))
		o.transition(ctx, res, StateDegraded, "embedding rate limit exhausted")
	default:
		o.transition(ctx, res, StateVerified, fmt.Sprintf("%d vectors", res.VectorCount))
	}
}

// probe returns the vector count and nil once the namespace is non-empty
// and a query returns at least one match.
func (o *Orchestrator) probe(ctx context.Context, tenantID string) (int, error) {
	info, err := o.sync.Describe(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	if info.VectorCount == 0 {
		return 0, errEmptyNamespace
	}
	vec, err := o.embedder.EmbedQuery(ctx, verificationQuery)
	if err != nil {
		return info.VectorCount, fmt.Errorf("embedding probe query: %w", err)
	}
	hits, err := o.sync.Query(ctx, tenantID, vec, 1)
	if err != nil {
		return info.VectorCount, fmt.Errorf("probe query: %w", err)
	}
	if len(hits) == 0 {
		return info.VectorCount, errors.New("probe query returned no matches")
	}
	return info.VectorCount, nil
}
