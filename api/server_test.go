package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opencatalog/piiguard/audit"
	"github.com/opencatalog/piiguard/catalog"
	"github.com/opencatalog/piiguard/connector"
	"github.com/opencatalog/piiguard/detect"
	"github.com/opencatalog/piiguard/govstore"
	"github.com/opencatalog/piiguard/lifecycle"
	"github.com/opencatalog/piiguard/policy"
	"github.com/opencatalog/piiguard/rules"
	"github.com/opencatalog/piiguard/scan"
)

type fixture struct {
	server  *httptest.Server
	catalog *catalog.MemoryStore
	conn    *connector.MemoryConnector
	store   *govstore.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	db, err := govstore.OpenDB(govstore.InMemoryDBConfig(), logger)
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		catalog: catalog.NewMemoryStore(),
		conn:    connector.NewMemoryConnector(),
		store:   govstore.NewStore(db, logger),
	}
	registry := rules.NewRegistry(db, logger)

	connectors := connector.NewRegistry()
	connectors.Register("warehouse", f.conn)

	content := detect.NewContentCollector(connectors, logger)
	orchestrator := scan.NewOrchestrator(scan.Config{
		Catalog:  f.catalog,
		Registry: registry,
		Store:    f.store,
		Collectors: []detect.Collector{
			detect.NewMetadataCollector(),
			detect.NewPatternCollector(),
			content,
		},
		Content:  content,
		Enforcer: policy.NewEnforcer(policy.NewConnectorVerifier(connectors, 50, 0, logger), logger),
		Recorder: audit.NewMemoryRecorder(),
		Logger:   logger,
	})

	sync := lifecycle.NewSynchronizer(registry, f.store, f.catalog, nil, audit.NewMemoryRecorder(), nil, logger)

	srv := NewServer(registry, sync, orchestrator, f.store, nil, logger)
	f.server = httptest.NewServer(srv.Handler())
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) (*http.Response, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		assert.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	assert.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	assert.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp, env
}

func ruleBody(id, piiType string, hints ...string) map[string]interface{} {
	return map[string]interface{}{
		"id":                id,
		"pii_type":          piiType,
		"sensitivity":       "medium",
		"column_name_hints": hints,
		"enabled":           true,
	}
}

// TestRulesCRUD exercises the envelope format across the rule endpoints.
func TestRulesCRUD(t *testing.T) {
	f := newFixture(t)

	resp, env := f.do(t, http.MethodPost, "/api/quality/rules/", ruleBody("pii-email", "EMAIL", "email"))
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.True(t, env.Success)

	// Duplicate IDs conflict.
	resp, env = f.do(t, http.MethodPost, "/api/quality/rules/", ruleBody("pii-email", "EMAIL", "email"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.False(t, env.Success)
	assert.NotEmpty(t, env.Error)

	// Invalid payloads are rejected with a field hint.
	resp, _ = f.do(t, http.MethodPost, "/api/quality/rules/", ruleBody("", "EMAIL", "email"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, env = f.do(t, http.MethodGet, "/api/quality/rules/pii-email/", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, env.Success)

	resp, _ = f.do(t, http.MethodGet, "/api/quality/rules/missing/", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/quality/rules/pii-email/disable", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, "/api/quality/rules/pii-email/", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/quality/rules/pii-email/", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

type rulesPage struct {
	Rules      []rules.Definition `json:"rules"`
	Pagination struct {
		Total  int `json:"total"`
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
	} `json:"pagination"`
}

func decodeData(t *testing.T, env envelope, into interface{}) {
	t.Helper()
	raw, err := json.Marshal(env.Data)
	assert.NoError(t, err)
	assert.NoError(t, json.Unmarshal(raw, into))
}

// TestListRulesPagination checks the enabled filter and limit/offset
// paging.
func TestListRulesPagination(t *testing.T) {
	f := newFixture(t)

	f.do(t, http.MethodPost, "/api/quality/rules/", ruleBody("rule-a", "A", "a"))
	f.do(t, http.MethodPost, "/api/quality/rules/", ruleBody("rule-b", "B", "b"))
	f.do(t, http.MethodPost, "/api/quality/rules/", ruleBody("rule-c", "C", "c"))
	f.do(t, http.MethodPost, "/api/quality/rules/rule-c/disable", nil)

	_, env := f.do(t, http.MethodGet, "/api/quality/rules/?limit=2", nil)
	var page rulesPage
	decodeData(t, env, &page)
	assert.Len(t, page.Rules, 2)
	assert.Equal(t, 3, page.Pagination.Total)

	_, env = f.do(t, http.MethodGet, "/api/quality/rules/?limit=2&offset=2", nil)
	decodeData(t, env, &page)
	assert.Len(t, page.Rules, 1)
	assert.Equal(t, "rule-c", page.Rules[0].ID)

	_, env = f.do(t, http.MethodGet, "/api/quality/rules/?enabled=true", nil)
	decodeData(t, env, &page)
	assert.Len(t, page.Rules, 2)

	resp, _ := f.do(t, http.MethodGet, "/api/quality/rules/?enabled=banana", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// TestClassifyEndpoints drives the manual classify/unclassify flow over
// HTTP.
func TestClassifyEndpoints(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/quality/rules/", ruleBody("pii-email", "EMAIL", "email"))

	ref := catalog.ColumnRef{DataSourceID: "warehouse", Database: "app", Schema: "public", Table: "users", Column: "email"}
	f.catalog.AddColumn(catalog.Column{Ref: ref, DataType: "varchar"})

	resp, env := f.do(t, http.MethodPost, "/api/classify", map[string]string{
		"column_key": ref.Key(),
		"rule_id":    "pii-email",
		"actor":      "alice",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, env.Success)

	var page struct {
		Classifications []govstore.Record `json:"classifications"`
	}
	_, env = f.do(t, http.MethodGet, "/api/classifications?pii_type=email", nil)
	decodeData(t, env, &page)
	assert.Len(t, page.Classifications, 1)

	resp, _ = f.do(t, http.MethodPost, "/api/unclassify", map[string]string{
		"column_key": ref.Key(),
		"actor":      "alice",
		"reason":     "wrong",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var excl struct {
		Exclusions []govstore.Exclusion `json:"exclusions"`
	}
	_, env = f.do(t, http.MethodGet, "/api/exclusions", nil)
	decodeData(t, env, &excl)
	assert.Len(t, excl.Exclusions, 1)

	// Missing rule and malformed keys are client errors.
	resp, _ = f.do(t, http.MethodPost, "/api/classify", map[string]string{
		"column_key": ref.Key(),
		"rule_id":    "missing",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/classify", map[string]string{
		"column_key": "not-a-key",
		"rule_id":    "pii-email",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// TestUnclassifyRuleIDPassthrough checks the rule named in the request
// is the one excluded, even when the column is not classified.
func TestUnclassifyRuleIDPassthrough(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/quality/rules/", ruleBody("pii-email", "EMAIL", "email"))

	ref := catalog.ColumnRef{DataSourceID: "warehouse", Database: "app", Schema: "public", Table: "users", Column: "notes"}
	f.catalog.AddColumn(catalog.Column{Ref: ref, DataType: "varchar"})

	resp, env := f.do(t, http.MethodPost, "/api/unclassify", map[string]string{
		"column_key": ref.Key(),
		"rule_id":    "pii-email",
		"actor":      "alice",
		"reason":     "never pii",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, env.Success)

	excluded, err := f.store.IsExcluded(ref.Key(), "pii-email")
	assert.NoError(t, err)
	assert.True(t, excluded)
}

// TestScanAndIssuesEndpoints runs a scan over HTTP and reads the
// resulting issue.
func TestScanAndIssuesEndpoints(t *testing.T) {
	f := newFixture(t)

	body := ruleBody("pii-email", "EMAIL", "email")
	body["require_masking"] = true
	f.do(t, http.MethodPost, "/api/quality/rules/", body)

	ref := catalog.ColumnRef{DataSourceID: "warehouse", Database: "app", Schema: "public", Table: "users", Column: "email"}
	f.catalog.AddColumn(catalog.Column{Ref: ref, DataType: "varchar"})
	f.conn.SetValues(ref, []string{"a@example.com", "b@example.com"})

	resp, env := f.do(t, http.MethodPost, "/api/scan", map[string]string{})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var summary scan.Summary
	decodeData(t, env, &summary)
	assert.Equal(t, 1, summary.Classified)
	assert.Equal(t, 1, summary.IssuesOpened)

	var issues struct {
		Issues []govstore.Issue `json:"issues"`
	}
	_, env = f.do(t, http.MethodGet, "/api/issues?status=open", nil)
	decodeData(t, env, &issues)
	assert.Len(t, issues.Issues, 1)

	resp, _ = f.do(t, http.MethodGet, "/api/issues?status=weird", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, env = f.do(t, http.MethodGet, "/api/stats", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var stats govstore.Stats
	decodeData(t, env, &stats)
	assert.Equal(t, 1, stats.Classifications)
	assert.Equal(t, 1, stats.OpenIssues)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.server.URL + "/healthz")
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
