// Package evidence builds tamper-evident evidence packs from scored batches
// and keeps them retrievable by token for verification.
package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/trancheready/internal/cache"
	"github.com/opensource-finance/trancheready/internal/domain"
	"github.com/opensource-finance/trancheready/internal/manifest"
	"github.com/opensource-finance/trancheready/internal/metrics"
	"github.com/opensource-finance/trancheready/internal/tadp"
)

// Pack file names.
const (
	FileClients      = "clients.json"
	FileTransactions = "transactions.json"
	FileScores       = "scores.json"
	FileCases        = "cases.json"
)

// Summary limits, matching what the upload page shows.
const (
	topClients   = 5
	summaryCases = 20
)

// Pack is a stored evidence pack.
type Pack struct {
	Token     string             `json:"token"`
	BuildID   string             `json:"build_id"`
	TenantID  string             `json:"tenant_id"`
	Counts    domain.Counts      `json:"counts"`
	Manifest  *manifest.Manifest `json:"manifest"`
	Files     map[string][]byte  `json:"files"`
	CreatedAt time.Time          `json:"created_at"`
}

// Receipt is returned to the caller after a pack is built.
type Receipt struct {
	Token       string               `json:"token"`
	BuildID     string               `json:"build_id"`
	Counts      domain.Counts        `json:"counts"`
	Top         []domain.ScoreRecord `json:"top"`
	Cases       []domain.Case        `json:"cases"`
	Ruleset     domain.RulesetMeta   `json:"rulesetMeta"`
	VerifyURL   string               `json:"verify_url"`
	DownloadURL string               `json:"download_url"`
}

// Verification is the outcome of re-hashing a stored pack.
type Verification struct {
	Token      string              `json:"token"`
	Verified   bool                `json:"verified"`
	Manifest   *manifest.Manifest  `json:"manifest"`
	Mismatches []manifest.Mismatch `json:"mismatches"`
}

// Builder scores batches and stores the resulting packs.
type Builder struct {
	processor *tadp.Processor
	store     *Store
	publicURL string
	now       func() time.Time
}

// NewBuilder creates a builder. publicURL prefixes the links in receipts.
func NewBuilder(processor *tadp.Processor, store *Store, publicURL string) *Builder {
	return &Builder{
		processor: processor,
		store:     store,
		publicURL: strings.TrimRight(publicURL, "/"),
		now:       time.Now,
	}
}

// Build scores b and stores the pack for tenantID.
func (b *Builder) Build(ctx context.Context, tenantID string, batch domain.Batch) (*Receipt, error) {
	result, err := b.processor.Process(ctx, batch)
	if err != nil {
		return nil, err
	}

	files, err := packFiles(batch, result)
	if err != nil {
		return nil, err
	}

	pack := &Pack{
		Token:     newToken(),
		BuildID:   uuid.New().String()[:8],
		TenantID:  tenantID,
		Counts:    result.Counts,
		Files:     files,
		CreatedAt: b.now().UTC(),
	}
	pack.Manifest = manifest.Build(files, result.Ruleset.RulesetID, pack.BuildID, pack.CreatedAt)

	raw, err := pack.Manifest.Marshal()
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	pack.Files[manifest.FileName] = raw

	if err := b.store.Put(ctx, pack); err != nil {
		return nil, err
	}
	metrics.PacksBuiltTotal.Inc()

	cases := result.Cases
	if len(cases) > summaryCases {
		cases = cases[:summaryCases]
	}
	return &Receipt{
		Token:       pack.Token,
		BuildID:     pack.BuildID,
		Counts:      result.Counts,
		Top:         tadp.TopClients(result, topClients),
		Cases:       cases,
		Ruleset:     result.Ruleset,
		VerifyURL:   b.publicURL + "/packs/" + pack.Token,
		DownloadURL: b.publicURL + "/packs/" + pack.Token + "/files/" + manifest.FileName,
	}, nil
}

// packFiles serializes the inputs and outputs that the manifest covers.
func packFiles(batch domain.Batch, result *domain.Result) (map[string][]byte, error) {
	clients := batch.Clients
	if clients == nil {
		clients = []domain.Client{}
	}
	txs := batch.Transactions
	if txs == nil {
		txs = []domain.Transaction{}
	}

	contents := map[string]any{
		FileClients:      clients,
		FileTransactions: txs,
		FileScores:       result.Scores,
		FileCases:        result.Cases,
	}

	files := make(map[string][]byte, len(contents)+1)
	for name, v := range contents {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		files[name] = data
	}
	return files, nil
}

func newToken() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// Store keeps packs in the tenant-scoped cache.
type Store struct {
	cache domain.Cache
	ttl   time.Duration
}

// NewStore creates a pack store whose entries expire after ttl.
func NewStore(c domain.Cache, ttl time.Duration) *Store {
	return &Store{cache: c, ttl: ttl}
}

func packKey(token string) string {
	return "pack:" + token
}

// Put stores pack under its token.
func (s *Store) Put(ctx context.Context, pack *Pack) error {
	if err := cache.SetJSON(ctx, s.cache, pack.TenantID, packKey(pack.Token), pack, s.ttl); err != nil {
		return fmt.Errorf("store pack: %w", err)
	}
	return nil
}

// Get returns the pack for token, or domain.ErrNotFound when missing or expired.
func (s *Store) Get(ctx context.Context, tenantID, token string) (*Pack, error) {
	var pack Pack
	found, err := cache.GetJSON(ctx, s.cache, tenantID, packKey(token), &pack)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.ErrNotFound
	}
	return &pack, nil
}

// File returns one file of a stored pack.
func (s *Store) File(ctx context.Context, tenantID, token, name string) ([]byte, error) {
	pack, err := s.Get(ctx, tenantID, token)
	if err != nil {
		return nil, err
	}
	data, ok := pack.Files[name]
	if !ok {
		return nil, fmt.Errorf("pack file %q: %w", name, domain.ErrNotFound)
	}
	return data, nil
}

// Verify re-hashes a stored pack against its manifest.
func (s *Store) Verify(ctx context.Context, tenantID, token string) (*Verification, error) {
	pack, err := s.Get(ctx, tenantID, token)
	if err != nil {
		return nil, err
	}
	mismatches := manifest.Verify(pack.Manifest, pack.Files)
	if mismatches == nil {
		mismatches = []manifest.Mismatch{}
	}
	return &Verification{
		Token:      token,
		Verified:   len(mismatches) == 0,
		Manifest:   pack.Manifest,
		Mismatches: mismatches,
	}, nil
}
