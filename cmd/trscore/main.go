// trscore scores a batch of normalized clients and transactions offline.
//
// Usage:
//
//	trscore -clients clients.json -transactions transactions.json -out result.json -manifest manifest.json
//	trscore -sample
//
// The inputs are JSON arrays of normalized records. The result is written as
// JSON; with -manifest a SHA-256 manifest of the inputs and the result is
// written alongside it.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/trancheready/internal/config"
	"github.com/opensource-finance/trancheready/internal/domain"
	"github.com/opensource-finance/trancheready/internal/evidence"
	"github.com/opensource-finance/trancheready/internal/logging"
	"github.com/opensource-finance/trancheready/internal/manifest"
	"github.com/opensource-finance/trancheready/internal/rules"
	"github.com/opensource-finance/trancheready/internal/tadp"
)

// Exit codes.
const (
	exitOK = iota
	exitError
	exitInvalidInput
)

type options struct {
	clientsPath      string
	transactionsPath string
	rulesetPath      string
	lookbackMonths   int
	start, end       string
	workers          int
	outPath          string
	manifestPath     string
	sample           bool
}

func main() {
	var opts options
	flag.StringVar(&opts.clientsPath, "clients", "", "Path to a JSON array of normalized clients")
	flag.StringVar(&opts.transactionsPath, "transactions", "", "Path to a JSON array of normalized transactions")
	flag.StringVar(&opts.rulesetPath, "ruleset", "", "Optional JSON ruleset overriding the default")
	flag.IntVar(&opts.lookbackMonths, "lookback-months", 18, "Lookback derived from the latest transaction when -start/-end are not set")
	flag.StringVar(&opts.start, "start", "", "Lookback start (YYYY-MM-DD)")
	flag.StringVar(&opts.end, "end", "", "Lookback end (YYYY-MM-DD)")
	flag.IntVar(&opts.workers, "workers", 4, "Number of clients scored concurrently")
	flag.StringVar(&opts.outPath, "out", "-", "Result file, - for stdout")
	flag.StringVar(&opts.manifestPath, "manifest", "", "Optional path for a SHA-256 manifest of inputs and result")
	flag.BoolVar(&opts.sample, "sample", false, "Score the built-in sample dataset")
	flag.Parse()

	logger := logging.New(os.Getenv("TR_LOG_LEVEL"), "text")

	if err := run(context.Background(), opts, os.Stdout, os.Stderr); err != nil {
		var invalid *domain.InvalidRecordError
		if errors.As(err, &invalid) {
			logger.Error("invalid input", "record", invalid.Record, "index", invalid.Index,
				"id", invalid.ID, "field", invalid.Field, "reason", invalid.Reason)
			os.Exit(exitInvalidInput)
		}
		logger.Error("scoring failed", "error", err)
		os.Exit(exitError)
	}
	os.Exit(exitOK)
}

func run(ctx context.Context, opts options, stdout, stderr io.Writer) error {
	inputs := make(map[string][]byte)

	var batch domain.Batch
	switch {
	case opts.sample:
		batch = evidence.SampleBatch()
	case opts.clientsPath == "":
		return errors.New("-clients is required (or use -sample)")
	default:
		data, err := readJSON(opts.clientsPath, func(data []byte) (err error) {
			batch.Clients, err = domain.DecodeClients(data)
			return err
		})
		if err != nil {
			return err
		}
		inputs[filepath.Base(opts.clientsPath)] = data

		if opts.transactionsPath != "" {
			data, err := readJSON(opts.transactionsPath, func(data []byte) (err error) {
				batch.Transactions, err = domain.DecodeTransactions(data)
				return err
			})
			if err != nil {
				return err
			}
			inputs[filepath.Base(opts.transactionsPath)] = data
		}
	}

	lookback, err := parseLookback(opts.start, opts.end)
	if err != nil {
		return err
	}
	if !lookback.IsZero() {
		batch.Lookback = lookback
	}

	rs, err := config.LoadRuleset(opts.rulesetPath)
	if err != nil {
		return err
	}
	engine, err := rules.NewEngine(rs)
	if err != nil {
		return err
	}
	processor := tadp.NewProcessor(engine, tadp.Options{
		Workers:        opts.workers,
		LookbackMonths: opts.lookbackMonths,
	})

	result, err := processor.Process(ctx, batch)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	out = append(out, '\n')

	if opts.outPath == "-" {
		if _, err := stdout.Write(out); err != nil {
			return err
		}
	} else if err := os.WriteFile(opts.outPath, out, 0o644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}

	if opts.manifestPath != "" {
		name := "result.json"
		if opts.outPath != "-" {
			name = filepath.Base(opts.outPath)
		}
		inputs[name] = out

		m := manifest.Build(inputs, rs.ID, uuid.New().String()[:8], time.Now())
		raw, err := m.Marshal()
		if err != nil {
			return fmt.Errorf("encode manifest: %w", err)
		}
		if err := os.WriteFile(opts.manifestPath, raw, 0o644); err != nil {
			return fmt.Errorf("write manifest: %w", err)
		}
	}

	c := result.Counts
	fmt.Fprintf(stderr, "ruleset %s, lookback %s..%s: %d clients (%d high, %d medium, %d low), %d cases\n",
		result.Ruleset.RulesetID, result.Ruleset.Lookback.Start, result.Ruleset.Lookback.End,
		c.Total, c.High, c.Medium, c.Low, len(result.Cases))
	return nil
}

func readJSON(path string, decode func([]byte) error) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := decode(data); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return data, nil
}

// parseLookback requires both bounds or neither.
func parseLookback(start, end string) (domain.Lookback, error) {
	if start == "" && end == "" {
		return domain.Lookback{}, nil
	}
	if start == "" || end == "" {
		return domain.Lookback{}, errors.New("-start and -end must be given together")
	}
	s, err := domain.ParseDate(start)
	if err != nil {
		return domain.Lookback{}, fmt.Errorf("-start: %w", err)
	}
	e, err := domain.ParseDate(end)
	if err != nil {
		return domain.Lookback{}, fmt.Errorf("-end: %w", err)
	}
	return domain.Lookback{Start: s, End: e}, nil
}
