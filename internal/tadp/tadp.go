// Package tadp implements the Transaction Aggregated Decision Processor.
// TADP scores every client in a batch and aggregates typology cases into one
// deterministic result.
package tadp

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/trancheready/internal/domain"
	"github.com/opensource-finance/trancheready/internal/metrics"
	"github.com/opensource-finance/trancheready/internal/rules"
	"github.com/opensource-finance/trancheready/internal/tracing"
)

// Options tune the processor.
type Options struct {
	// Workers bounds per-client parallelism; values below 2 score sequentially.
	Workers int

	// LookbackMonths derives a lookback for batches that arrive without one.
	LookbackMonths int

	// Now supplies "today" when a batch has neither a lookback nor transactions.
	Now func() time.Time
}

// Processor turns a batch into a Result.
type Processor struct {
	engine *rules.Engine
	opts   Options
}

// NewProcessor creates a processor backed by engine.
func NewProcessor(engine *rules.Engine, opts Options) *Processor {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.LookbackMonths < 1 {
		opts.LookbackMonths = 18
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Processor{engine: engine, opts: opts}
}

// Ruleset returns the active ruleset.
func (p *Processor) Ruleset() *domain.Ruleset {
	return p.engine.Ruleset()
}

// clientOutcome is one client's slot in the output.
type clientOutcome struct {
	score domain.ScoreRecord
	cases []domain.Case
}

// Process validates and scores b. Scores follow input client order and cases
// follow client order then detector order, whatever the worker count.
func (p *Processor) Process(ctx context.Context, b domain.Batch) (*domain.Result, error) {
	start := time.Now()
	rs := p.engine.Ruleset()

	ctx, span := tracing.StartSpan(ctx, "tadp.Process",
		tracing.RulesetID(rs.ID),
		tracing.Clients(len(b.Clients)),
		tracing.Transactions(len(b.Transactions)),
	)
	defer span.End()

	lookback := b.Lookback
	if lookback.IsZero() {
		lookback = domain.LookbackFromTransactions(b.Transactions, p.opts.LookbackMonths, p.opts.Now())
	}

	if err := domain.ValidateBatch(b.Clients, b.Transactions, lookback); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid batch")
		metrics.ObserveBatch("invalid", time.Since(start))
		return nil, err
	}

	byClient := groupByClient(b.Transactions)
	outcomes := make([]clientOutcome, len(b.Clients))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for i, c := range b.Clients {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			score, cases := p.engine.ScoreClient(c, byClient[c.ClientID], lookback)
			outcomes[i] = clientOutcome{score: score, cases: cases}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scoring interrupted")
		metrics.ObserveBatch("error", time.Since(start))
		return nil, err
	}

	result := aggregate(rs, lookback, outcomes)

	span.SetAttributes(
		attribute.Int("result.cases", len(result.Cases)),
		attribute.Int("result.high", result.Counts.High),
	)
	metrics.ObserveBatch("scored", time.Since(start))
	for _, s := range result.Scores {
		metrics.ClientsScoredTotal.WithLabelValues(string(s.Band)).Inc()
	}
	for _, c := range result.Cases {
		metrics.CasesTotal.WithLabelValues(string(c.Type)).Inc()
	}

	return result, nil
}

// aggregate flattens per-client outcomes into a Result, attaching case
// severity and band counts. Cases is never nil.
func aggregate(rs *domain.Ruleset, lookback domain.Lookback, outcomes []clientOutcome) *domain.Result {
	result := &domain.Result{
		Scores:  make([]domain.ScoreRecord, 0, len(outcomes)),
		Cases:   []domain.Case{},
		Ruleset: rs.Meta(lookback),
	}

	for _, o := range outcomes {
		result.Scores = append(result.Scores, o.score)
		result.Counts.Add(o.score.Band)
		for _, c := range o.cases {
			c.Severity = rs.SeverityOf(c.Type)
			result.Cases = append(result.Cases, c)
		}
	}
	return result
}

// groupByClient buckets transactions by client_id, preserving input order.
// Transactions for unknown clients are simply never looked up.
func groupByClient(txs []domain.Transaction) map[string][]domain.Transaction {
	out := make(map[string][]domain.Transaction)
	for _, tx := range txs {
		out[tx.ClientID] = append(out[tx.ClientID], tx)
	}
	return out
}

// IsInvalidRecord reports whether err is a precondition violation on the batch.
func IsInvalidRecord(err error) bool {
	var ire *domain.InvalidRecordError
	return errors.As(err, &ire)
}

// TopClients returns up to n score records ordered by score descending, ties
// kept in input order.
func TopClients(r *domain.Result, n int) []domain.ScoreRecord {
	top := slices.Clone(r.Scores)
	slices.SortStableFunc(top, func(a, b domain.ScoreRecord) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if n >= 0 && n < len(top) {
		top = top[:n]
	}
	return top
}
