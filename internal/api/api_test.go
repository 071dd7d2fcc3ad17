package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/trancheready/internal/bus"
	"github.com/opensource-finance/trancheready/internal/cache"
	"github.com/opensource-finance/trancheready/internal/domain"
	"github.com/opensource-finance/trancheready/internal/evidence"
	"github.com/opensource-finance/trancheready/internal/rules"
	"github.com/opensource-finance/trancheready/internal/tadp"
	"github.com/opensource-finance/trancheready/internal/worker"
)

// createTestServer builds a community-tier server with an async worker.
// configure may adjust the config and deps before the server is built.
func createTestServer(t *testing.T, configure func(*domain.ServerConfig, *Deps)) *Server {
	t.Helper()

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
		MaxBodyBytes: 1 << 20,
	}

	engine, err := rules.NewEngine(domain.DefaultRuleset())
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}
	processor := tadp.NewProcessor(engine, tadp.Options{Workers: 2})

	c := cache.NewLRUCache(1000)
	b := bus.NewChannelBus(100)
	store := evidence.NewStore(c, time.Hour)

	w := worker.NewWorker(b, c, processor)
	if err := w.Start(worker.Config{}); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}
	t.Cleanup(func() {
		_ = w.Stop()
		_ = b.Close()
	})

	deps := Deps{
		Cache:     c,
		Bus:       b,
		Processor: processor,
		Packs:     evidence.NewBuilder(processor, store, "http://localhost:8080"),
		PackStore: store,
		Async:     true,
		ResultTTL: time.Minute,
		Version:   "test-v1",
	}
	if configure != nil {
		configure(&cfg, &deps)
	}
	return NewServer(cfg, deps)
}

func doRequest(server *Server, method, path, tenantID string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if tenantID != "" {
		req.Header.Set(TenantIDHeader, tenantID)
	}

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func sampleBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(evidence.SampleBatch())
	if err != nil {
		t.Fatalf("failed to encode sample: %v", err)
	}
	return body
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to parse response: %v: %s", err, rr.Body.String())
	}
}

func TestHealthEndpoints(t *testing.T) {
	server := createTestServer(t, nil)

	t.Run("Health", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/health", "", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}

		var resp map[string]string
		decode(t, rr, &resp)
		if resp["status"] != "healthy" {
			t.Errorf("expected healthy, got %s", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version test-v1, got %s", resp["version"])
		}
	})

	t.Run("Ready", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/ready", "", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/metrics", "", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "trancheready_packs_built_total") {
			t.Error("expected trancheready metrics in exposition")
		}
	})

	t.Run("RequestIDEchoed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(RequestIDHeader, "req-123")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if got := rr.Header().Get(RequestIDHeader); got != "req-123" {
			t.Errorf("expected request id echoed, got %q", got)
		}
		if rr.Header().Get(TraceIDHeader) == "" {
			t.Error("expected trace id header")
		}
	})
}

func TestTenantMiddleware(t *testing.T) {
	server := createTestServer(t, nil)

	t.Run("MissingTenantID", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/ruleset", "", nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidTenantID", func(t *testing.T) {
		for _, id := range []string{"tenant.a", "tenant*", "a b", strings.Repeat("x", 200)} {
			rr := doRequest(server, http.MethodGet, "/ruleset", id, nil)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("tenant %q: expected 400, got %d", id, rr.Code)
			}
		}
	})

	t.Run("CORSPreflight", func(t *testing.T) {
		rr := doRequest(server, http.MethodOptions, "/evaluate", "", nil)
		if rr.Code != http.StatusNoContent {
			t.Errorf("expected 204, got %d", rr.Code)
		}
		if rr.Header().Get("Access-Control-Allow-Origin") == "" {
			t.Error("expected CORS headers")
		}
	})
}

func TestRulesetEndpoint(t *testing.T) {
	server := createTestServer(t, nil)

	rr := doRequest(server, http.MethodGet, "/ruleset", "tenant-001", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp RulesetResponse
	decode(t, rr, &resp)
	if resp.Ruleset == nil || resp.Ruleset.ID != domain.DefaultRulesetID {
		t.Errorf("unexpected ruleset %+v", resp.Ruleset)
	}
	if len(resp.Ruleset.Profile) != 7 {
		t.Errorf("expected 7 profile rules, got %d", len(resp.Ruleset.Profile))
	}
}

func TestEvaluateEndpoint(t *testing.T) {
	server := createTestServer(t, nil)

	t.Run("SampleBatch", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/evaluate", "tenant-001", sampleBody(t))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var result domain.Result
		decode(t, rr, &result)
		if result.Counts != (domain.Counts{Total: 4, Medium: 2, Low: 2}) {
			t.Errorf("unexpected counts %+v", result.Counts)
		}
		if len(result.Cases) != 3 {
			t.Errorf("expected 3 cases, got %d", len(result.Cases))
		}
		if result.Ruleset.RulesetID != domain.DefaultRulesetID {
			t.Errorf("expected ruleset id %s, got %s", domain.DefaultRulesetID, result.Ruleset.RulesetID)
		}
	})

	t.Run("EmptyBatch", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/evaluate", "tenant-001", []byte(`{}`))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		if !strings.Contains(rr.Body.String(), `"cases":[]`) {
			t.Errorf("expected empty cases array, got %s", rr.Body.String())
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/evaluate", "tenant-001", []byte("not-json"))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("WrongFieldType", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/evaluate", "tenant-001", []byte(`{"clients": 5}`))
		if rr.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected 422, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("UnrecognisedFlag", func(t *testing.T) {
		body := []byte(`{"clients": [{"client_id": "C-1", "pep_flag": "maybe"}]}`)
		rr := doRequest(server, http.MethodPost, "/evaluate", "tenant-001", body)
		if rr.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected 422, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("InvalidRecord", func(t *testing.T) {
		batch := evidence.SampleBatch()
		batch.Transactions[2].TxID = batch.Transactions[0].TxID
		body, _ := json.Marshal(batch)

		rr := doRequest(server, http.MethodPost, "/evaluate", "tenant-001", body)
		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			Error   string                     `json:"error"`
			Invalid *domain.InvalidRecordError `json:"invalid"`
		}
		decode(t, rr, &resp)
		if resp.Invalid == nil || resp.Invalid.Field != "tx_id" || resp.Invalid.Index != 2 {
			t.Errorf("unexpected invalid record %+v", resp.Invalid)
		}
	})

	t.Run("DecodeErrorNamesRecord", func(t *testing.T) {
		tests := []struct {
			name   string
			body   string
			record string
			index  int
			id     string
			field  string
		}{
			{
				name: "transaction date",
				body: `{"clients": [{"client_id": "C-1"}], "transactions": [
					{"tx_id": "T-1", "client_id": "C-1", "date": "2025-03-01", "amount": 1, "currency": "AUD", "direction": "in"},
					{"tx_id": "T-2", "client_id": "C-1", "date": "not-a-date", "amount": 1, "currency": "AUD", "direction": "in"}]}`,
				record: domain.RecordTransaction, index: 1, id: "T-2", field: "date",
			},
			{
				name:   "sanctions flag",
				body:   `{"clients": [{"client_id": "C-1"}, {"client_id": "C-2", "pep_flag": "no", "sanctions_flag": "perhaps"}]}`,
				record: domain.RecordClient, index: 1, id: "C-2", field: "sanctions_flag",
			},
			{
				name:   "lookback bound",
				body:   `{"lookback": {"start": "2025-01-01", "end": "soon"}}`,
				record: domain.RecordLookback, index: -1, field: "end",
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rr := doRequest(server, http.MethodPost, "/evaluate", "tenant-001", []byte(tt.body))
				if rr.Code != http.StatusUnprocessableEntity {
					t.Fatalf("expected 422, got %d: %s", rr.Code, rr.Body.String())
				}

				var resp struct {
					Invalid *domain.InvalidRecordError `json:"invalid"`
				}
				decode(t, rr, &resp)
				if resp.Invalid == nil {
					t.Fatalf("expected invalid record, got %s", rr.Body.String())
				}
				got := *resp.Invalid
				if got.Record != tt.record || got.Index != tt.index || got.ID != tt.id || got.Field != tt.field {
					t.Errorf("unexpected invalid record %+v", got)
				}
			})
		}
	})

	t.Run("LenientKYCDate", func(t *testing.T) {
		body := []byte(`{
			"clients": [{"client_id": "C-1", "pep_flag": "Yes", "kyc_last_reviewed_at": "n/a"}],
			"lookback": {"start": "2024-01-01", "end": "2025-06-30"}
		}`)
		rr := doRequest(server, http.MethodPost, "/evaluate", "tenant-001", body)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var result domain.Result
		decode(t, rr, &result)
		if len(result.Scores) != 1 {
			t.Fatalf("expected 1 score, got %d", len(result.Scores))
		}
		score := result.Scores[0]
		if score.Score != 20 || len(score.Reasons) != 1 || score.Reasons[0].RuleID != "pep" {
			t.Errorf("expected only the pep finding, got %+v", score)
		}
	})

	t.Run("BodyTooLarge", func(t *testing.T) {
		small := createTestServer(t, func(cfg *domain.ServerConfig, _ *Deps) {
			cfg.MaxBodyBytes = 64
		})
		rr := doRequest(small, http.MethodPost, "/evaluate", "tenant-001", sampleBody(t))
		if rr.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("expected 413, got %d: %s", rr.Code, rr.Body.String())
		}
	})
}

func TestBatchEndpoints(t *testing.T) {
	server := createTestServer(t, nil)
	tenantID := "tenant-async"

	// poll waits for the batch to leave pending.
	poll := func(t *testing.T, batchID string) *httptest.ResponseRecorder {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			rr := doRequest(server, http.MethodGet, "/batches/"+batchID, tenantID, nil)
			if rr.Code != http.StatusAccepted {
				return rr
			}
			time.Sleep(10 * time.Millisecond)
		}
		t.Fatal("timeout waiting for batch")
		return nil
	}

	submit := func(t *testing.T, body []byte) string {
		t.Helper()
		rr := doRequest(server, http.MethodPost, "/batches", tenantID, body)
		if rr.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp SubmitResponse
		decode(t, rr, &resp)
		if resp.BatchID == "" || resp.Status != worker.StatusPending {
			t.Fatalf("unexpected submit response %+v", resp)
		}
		return resp.BatchID
	}

	t.Run("Scored", func(t *testing.T) {
		batchID := submit(t, sampleBody(t))

		rr := poll(t, batchID)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var st worker.BatchStatus
		decode(t, rr, &st)
		if st.Status != worker.StatusScored || st.Result == nil {
			t.Fatalf("unexpected status %+v", st)
		}
		if st.Result.Counts.Total != 4 {
			t.Errorf("expected 4 clients, got %d", st.Result.Counts.Total)
		}
	})

	t.Run("Rejected", func(t *testing.T) {
		batch := evidence.SampleBatch()
		batch.Clients[3].ClientID = batch.Clients[0].ClientID
		body, _ := json.Marshal(batch)

		rr := poll(t, submit(t, body))
		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422, got %d: %s", rr.Code, rr.Body.String())
		}

		var st worker.BatchStatus
		decode(t, rr, &st)
		if st.Invalid == nil || st.Invalid.Field != "client_id" {
			t.Errorf("unexpected invalid record %+v", st.Invalid)
		}
	})

	t.Run("UnknownBatch", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/batches/does-not-exist", tenantID, nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rr.Code)
		}
	})

	t.Run("OtherTenant", func(t *testing.T) {
		batchID := submit(t, sampleBody(t))
		poll(t, batchID)

		rr := doRequest(server, http.MethodGet, "/batches/"+batchID, "tenant-other", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected 404 for another tenant, got %d", rr.Code)
		}
	})

	t.Run("AsyncDisabled", func(t *testing.T) {
		syncOnly := createTestServer(t, func(_ *domain.ServerConfig, deps *Deps) {
			deps.Async = false
		})
		rr := doRequest(syncOnly, http.MethodPost, "/batches", tenantID, sampleBody(t))
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected 503, got %d", rr.Code)
		}
	})
}

func TestPackEndpoints(t *testing.T) {
	server := createTestServer(t, nil)
	tenantID := "tenant-packs"

	rr := doRequest(server, http.MethodPost, "/packs/sample", tenantID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var receipt evidence.Receipt
	decode(t, rr, &receipt)
	if receipt.Token == "" {
		t.Fatal("expected a pack token")
	}
	if receipt.Counts.Total != 4 || len(receipt.Top) != 4 || len(receipt.Cases) != 3 {
		t.Errorf("unexpected receipt %+v", receipt)
	}
	if receipt.VerifyURL != "http://localhost:8080/packs/"+receipt.Token {
		t.Errorf("unexpected verify url %s", receipt.VerifyURL)
	}

	t.Run("Verify", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/packs/"+receipt.Token, tenantID, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var v evidence.Verification
		decode(t, rr, &v)
		if !v.Verified {
			t.Errorf("expected verified pack, mismatches %+v", v.Mismatches)
		}
		if v.Manifest == nil || len(v.Manifest.Files) != 4 {
			t.Errorf("unexpected manifest %+v", v.Manifest)
		}
	})

	t.Run("File", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/packs/"+receipt.Token+"/files/scores.json", tenantID, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if !strings.Contains(rr.Header().Get("Content-Disposition"), "scores.json") {
			t.Errorf("unexpected disposition %q", rr.Header().Get("Content-Disposition"))
		}

		var scores []domain.ScoreRecord
		decode(t, rr, &scores)
		if len(scores) != 4 {
			t.Errorf("expected 4 scores, got %d", len(scores))
		}
	})

	t.Run("MissingFile", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/packs/"+receipt.Token+"/files/other.json", tenantID, nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rr.Code)
		}
	})

	t.Run("HiddenFile", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/packs/"+receipt.Token+"/files/.env", tenantID, nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("UnknownToken", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/packs/nope", tenantID, nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rr.Code)
		}
	})

	t.Run("OtherTenant", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/packs/"+receipt.Token, "tenant-other", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rr.Code)
		}
	})

	t.Run("UploadedBatch", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/packs", tenantID, sampleBody(t))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var other evidence.Receipt
		decode(t, rr, &other)
		if other.Token == receipt.Token {
			t.Error("expected a fresh token per pack")
		}
	})

	t.Run("InvalidUpload", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/packs", tenantID, []byte(`{"transactions": [{"tx_id": "T-1"}]}`))
		if rr.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected 422, got %d: %s", rr.Code, rr.Body.String())
		}
	})
}

func TestRateLimit(t *testing.T) {
	server := createTestServer(t, func(_ *domain.ServerConfig, deps *Deps) {
		deps.RateLimit = 2
	})

	for i := range 2 {
		if rr := doRequest(server, http.MethodGet, "/ruleset", "tenant-limited", nil); rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rr.Code)
		}
	}

	rr := doRequest(server, http.MethodGet, "/ruleset", "tenant-limited", nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	// Other tenants have their own window.
	if rr := doRequest(server, http.MethodGet, "/ruleset", "tenant-fresh", nil); rr.Code != http.StatusOK {
		t.Errorf("expected 200 for another tenant, got %d", rr.Code)
	}
}
