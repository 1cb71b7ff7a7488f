// Package saga implements all-or-nothing bulk persistence without a
// database transaction: every key in a batch is attempted, outcomes are
// collected, and on any failure the keys that did succeed are compensated.
package saga

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/symbiote-h2020/Registry-sub000/errors"
	"github.com/symbiote-h2020/Registry-sub000/message"
	"github.com/symbiote-h2020/Registry-sub000/metric"
	"github.com/symbiote-h2020/Registry-sub000/store"
)

// Report is the outcome of applying one batch
type Report struct {
	// Results holds the per-key outcome of the original writes, complete
	// even when the batch was compensated
	Results map[string]store.Result

	// Committed is true when every key succeeded and no compensation ran
	Committed bool

	// CompensationFailures lists keys whose compensation itself failed.
	// These are unrecoverable: the store may retain partial state, and
	// operators have to reconcile manually.
	CompensationFailures []string
}

// FirstFailure returns the message of the first failed key in key order,
// or an empty string when the batch committed
func (r Report) FirstFailure() string {
	keys := make([]string, 0, len(r.Results))
	for k := range r.Results {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !r.Results[k].OK() {
			return r.Results[k].Message
		}
	}
	return ""
}

// CompensationError returns an error naming the keys whose compensation
// failed, or nil when compensation fully succeeded (or never ran). It
// matches errors.ErrCompensationFailed under errors.Is.
func (r Report) CompensationError() error {
	if len(r.CompensationFailures) == 0 {
		return nil
	}
	return fmt.Errorf("%w: keys [%s] left in partial state",
		errors.ErrCompensationFailed, strings.Join(r.CompensationFailures, ", "))
}

// Engine applies keyed batches against the document store
type Engine struct {
	store   store.DocumentStore
	logger  *slog.Logger
	metrics *metric.Metrics
}

// NewEngine creates a bulk persistence engine
func NewEngine(docStore store.DocumentStore, logger *slog.Logger, metrics *metric.Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: docStore, logger: logger, metrics: metrics}
}

// Apply writes the whole batch under the given operation type. Every key
// is attempted regardless of earlier failures so the final report is
// complete; if any key failed, every key that succeeded is compensated:
// creations are deleted, modifications and removals are restored from the
// pre-image captured before the write.
func (e *Engine) Apply(
	ctx context.Context,
	kind message.EntityKind,
	batch message.KeyedBatch,
	op message.OperationType,
) Report {
	results := make(map[string]store.Result, len(batch))
	snapshots := make(map[string]message.Entity)

	// Deterministic application order keeps logs and tests stable
	keys := batch.Keys()
	sort.Strings(keys)

	for _, key := range keys {
		entity := batch[key]

		switch op {
		case message.OpCreation:
			results[key] = e.store.Save(ctx, kind, entity)

		case message.OpModification, message.OpRemoval:
			// Capture the pre-image first; without it the write cannot
			// be compensated and must not happen
			prior := e.store.FindByID(ctx, kind, entity.GetID())
			if !prior.OK() {
				results[key] = prior
				continue
			}
			snapshots[key] = prior.Entity

			if op == message.OpModification {
				results[key] = e.store.Update(ctx, kind, entity)
			} else {
				res := e.store.Delete(ctx, kind, entity.GetID())
				res.Entity = prior.Entity
				results[key] = res
			}

		default:
			results[key] = store.Result{
				Status:  store.StatusStoreError,
				Message: "unsupported operation type: " + op.String(),
				Entity:  entity,
			}
		}
	}

	failed := false
	for _, res := range results {
		if !res.OK() {
			failed = true
			break
		}
	}

	if !failed {
		return Report{Results: results, Committed: true}
	}

	compFailures := e.compensate(ctx, kind, op, keys, results, snapshots)
	if e.metrics != nil {
		e.metrics.CompensationsTotal.WithLabelValues(op.String()).Inc()
	}

	report := Report{
		Results:              results,
		Committed:            false,
		CompensationFailures: compFailures,
	}
	if err := report.CompensationError(); err != nil {
		e.logger.Error("Batch left in partial state",
			"kind", kind.String(),
			"operation", op.String(),
			"error", err)
	}
	return report
}

// compensate reverts every key whose original write succeeded
func (e *Engine) compensate(
	ctx context.Context,
	kind message.EntityKind,
	op message.OperationType,
	keys []string,
	results map[string]store.Result,
	snapshots map[string]message.Entity,
) []string {
	var failures []string

	for _, key := range keys {
		res := results[key]
		if !res.OK() {
			continue
		}

		var comp store.Result
		switch op {
		case message.OpCreation:
			comp = e.store.Delete(ctx, kind, res.Entity.GetID())
		case message.OpModification, message.OpRemoval:
			comp = e.store.Restore(ctx, kind, snapshots[key])
		}

		if !comp.OK() {
			// Unrecoverable: no further automatic action, operators
			// reconcile from the log
			e.logger.Error("Compensation failed",
				"kind", kind.String(),
				"operation", op.String(),
				"key", key,
				"id", res.Entity.GetID(),
				"error", comp.Message)
			failures = append(failures, key)
			continue
		}

		e.logger.Info("Compensated batch entry",
			"kind", kind.String(),
			"operation", op.String(),
			"key", key,
			"id", res.Entity.GetID())
	}

	return failures
}
