package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/pario-ai/flowsmith/pkg/dispatch"
	"github.com/pario-ai/flowsmith/pkg/models"
	"github.com/pario-ai/flowsmith/pkg/pipeline"
)

// fakeGenerator returns canned pipeline results.
type fakeGenerator struct {
	resp *pipeline.Response
	err  error
	last models.GenerationRequest
}

func (f *fakeGenerator) Handle(_ context.Context, req models.GenerationRequest) (*pipeline.Response, error) {
	f.last = req
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return f.resp, f.err
}

func (f *fakeGenerator) Analyze(_ context.Context, req models.GenerationRequest) (*pipeline.Analysis, error) {
	f.last = req
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &pipeline.Analysis{
		Language: models.Language{Code: "en", Name: "English"},
		Profile:  models.ComplexityProfile{Score: 1.5, Recommendation: models.RecommendGenerate},
		Model:    models.ModelProfile{Model: "gpt-4o-mini", Tier: models.TierFast, Fidelity: models.FidelityFull},
		Dispatch: dispatch.ModeSync,
	}, nil
}

type fakeJobs map[string]*models.GenerationJob

func (f fakeJobs) Get(_ context.Context, id string) (*models.GenerationJob, error) {
	if j, ok := f[id]; ok {
		return j, nil
	}
	return nil, models.ErrNotFound
}

// fakeCache implements CacheStatter for testing.
type fakeCache struct {
	stats models.CacheStats
}

func (f *fakeCache) Stats(context.Context) (models.CacheStats, error) { return f.stats, nil }

type fakeUsage struct {
	rows   []models.UsageSummary
	filter models.DiagramType
}

func (f *fakeUsage) Summary(_ context.Context, dt models.DiagramType) ([]models.UsageSummary, error) {
	f.filter = dt
	return f.rows, nil
}

func newServer(gen Generator) *Server {
	if gen == nil {
		gen = &fakeGenerator{}
	}
	return New(gen, nil, nil, nil, "test")
}

func sendAndReceive(t *testing.T, srv *Server, req Request) Response {
	t.Helper()
	line, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	line = append(line, '\n')

	var out bytes.Buffer
	if err := srv.Run(context.Background(), bytes.NewReader(line), &out); err != nil {
		t.Fatal(err)
	}

	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nraw: %s", err, out.String())
	}
	return resp
}

func callTool(t *testing.T, srv *Server, name, args string) ToolCallResult {
	t.Helper()
	params, _ := json.Marshal(ToolCallParams{Name: name, Arguments: json.RawMessage(args)})
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  "tools/call",
		Params:  params,
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	data, _ := json.Marshal(resp.Result)
	var result ToolCallResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatal(err)
	}
	if len(result.Content) == 0 {
		t.Fatal("expected content")
	}
	return result
}

func TestInitialize(t *testing.T) {
	srv := newServer(nil)
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  "initialize",
	})

	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var result InitializeResult
	json.Unmarshal(data, &result)

	if result.ProtocolVersion != "2024-11-05" {
		t.Errorf("protocol version = %s, want 2024-11-05", result.ProtocolVersion)
	}
	if result.ServerInfo.Name != "flowsmith" {
		t.Errorf("server name = %s, want flowsmith", result.ServerInfo.Name)
	}
}

func TestToolsList(t *testing.T) {
	srv := newServer(nil)
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`2`),
		Method:  "tools/list",
	})

	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var result ToolsListResult
	json.Unmarshal(data, &result)

	if len(result.Tools) != len(toolHandlers) {
		t.Errorf("got %d tools, want %d", len(result.Tools), len(toolHandlers))
	}
	for _, tool := range result.Tools {
		if _, ok := toolHandlers[tool.Name]; !ok {
			t.Errorf("listed tool %s has no handler", tool.Name)
		}
		if tool.Annotations == nil {
			t.Errorf("tool %s has no annotations", tool.Name)
			continue
		}
		if readOnly := tool.Name != "flowsmith_generate"; tool.Annotations.ReadOnlyHint != readOnly {
			t.Errorf("tool %s readOnlyHint = %v, want %v", tool.Name, tool.Annotations.ReadOnlyHint, readOnly)
		}
	}
}

func TestToolCallGenerateDocument(t *testing.T) {
	gen := &fakeGenerator{resp: &pipeline.Response{
		Outcome:  pipeline.OutcomeDocument,
		Document: `<bpmn:definitions id="d"/>`,
		Cached:   true,
	}}
	srv := newServer(gen)

	result := callTool(t, srv, "flowsmith_generate", `{"prompt":"start, approve, end","diagram_type":"bpmn","skip_cache":true}`)
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", result.Content[0].Text)
	}
	text := result.Content[0].Text
	if !strings.Contains(text, "bpmn:definitions") || !strings.Contains(text, "cached") {
		t.Errorf("unexpected output: %s", text)
	}
	if !gen.last.SkipCache || gen.last.DiagramType != models.DiagramBPMN {
		t.Errorf("arguments not forwarded: %+v", gen.last)
	}
}

func TestToolCallGenerateQueuedAndSplit(t *testing.T) {
	gen := &fakeGenerator{resp: &pipeline.Response{Outcome: pipeline.OutcomeQueued, JobID: "job-1", EstimatedTime: "1m10s"}}
	srv := newServer(gen)
	text := callTool(t, srv, "flowsmith_generate", `{"prompt":"big","diagram_type":"pid"}`).Content[0].Text
	if !strings.Contains(text, "job-1") || !strings.Contains(text, "1m10s") {
		t.Errorf("unexpected queued output: %s", text)
	}

	gen.resp = &pipeline.Response{Outcome: pipeline.OutcomeSplit, SubPrompts: []string{"first part", "second part"}, Reasoning: "score 9.1"}
	text = callTool(t, srv, "flowsmith_generate", `{"prompt":"huge","diagram_type":"bpmn"}`).Content[0].Text
	if !strings.Contains(text, "second part") || !strings.Contains(text, "2 parts") {
		t.Errorf("unexpected split output: %s", text)
	}
}

func TestToolCallGenerateErrors(t *testing.T) {
	srv := newServer(&fakeGenerator{})
	result := callTool(t, srv, "flowsmith_generate", `{"prompt":"","diagram_type":"bpmn"}`)
	if !result.IsError || !strings.Contains(result.Content[0].Text, "input") {
		t.Errorf("expected input error, got %+v", result)
	}

	gen := &fakeGenerator{err: models.NewError(models.KindRateLimited, "", models.ErrRateLimited)}
	result = callTool(t, newServer(gen), "flowsmith_generate", `{"prompt":"start, end","diagram_type":"bpmn"}`)
	if !result.IsError || !strings.Contains(result.Content[0].Text, "rate_limited") {
		t.Errorf("expected rate limit error, got %+v", result)
	}
}

func TestToolCallAnalyze(t *testing.T) {
	srv := newServer(nil)
	text := callTool(t, srv, "flowsmith_analyze", `{"prompt":"start, approve, end","diagram_type":"dmn"}`).Content[0].Text
	for _, want := range []string{"generate", "gpt-4o-mini", "sync"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in output: %s", want, text)
		}
	}
}

func TestToolCallJobStatus(t *testing.T) {
	done := time.Now()
	jobs := fakeJobs{
		"ok":  {ID: "ok", Status: models.JobCompleted, Document: "<dmn:definitions/>", CompletedAt: &done},
		"bad": {ID: "bad", Status: models.JobFailed, ErrorKind: models.KindValidation, ErrorMessage: "could not produce a valid diagram"},
	}
	srv := New(&fakeGenerator{}, jobs, nil, nil, "test")

	if text := callTool(t, srv, "flowsmith_job_status", `{"job_id":"ok"}`).Content[0].Text; !strings.Contains(text, "<dmn:definitions/>") {
		t.Errorf("expected document, got: %s", text)
	}
	if text := callTool(t, srv, "flowsmith_job_status", `{"job_id":"bad"}`).Content[0].Text; !strings.Contains(text, "validation") {
		t.Errorf("expected failure kind, got: %s", text)
	}
	if r := callTool(t, srv, "flowsmith_job_status", `{"job_id":"nope"}`); !r.IsError {
		t.Error("expected isError for unknown job")
	}
	if r := callTool(t, srv, "flowsmith_job_status", `{}`); !r.IsError {
		t.Error("expected isError for missing job_id")
	}
}

func TestToolCallNotConfigured(t *testing.T) {
	srv := newServer(nil)
	for _, name := range []string{"flowsmith_cache_stats", "flowsmith_usage", "flowsmith_audit_search", "flowsmith_job_status"} {
		text := callTool(t, srv, name, `{}`).Content[0].Text
		if !strings.Contains(text, "not configured") {
			t.Errorf("%s: expected 'not configured', got: %s", name, text)
		}
	}
}

func TestToolCallCacheStats(t *testing.T) {
	cache := &fakeCache{stats: models.CacheStats{Entries: 42, Hits: 10, SemanticHits: 3, Misses: 5}}
	srv := New(&fakeGenerator{}, nil, cache, nil, "test")

	text := callTool(t, srv, "flowsmith_cache_stats", `{}`).Content[0].Text
	if !strings.Contains(text, "42") || !strings.Contains(text, "66.7%") {
		t.Errorf("unexpected cache stats output: %s", text)
	}
}

func TestToolCallUsage(t *testing.T) {
	usage := &fakeUsage{rows: []models.UsageSummary{
		{Model: "gpt-4o", DiagramType: models.DiagramPID, RequestCount: 4, TotalAttempts: 6, TotalTokens: 9000},
	}}
	srv := New(&fakeGenerator{}, nil, nil, usage, "test")

	text := callTool(t, srv, "flowsmith_usage", `{"diagram_type":"pid"}`).Content[0].Text
	if !strings.Contains(text, "gpt-4o") || !strings.Contains(text, "9000") {
		t.Errorf("unexpected usage output: %s", text)
	}
	if usage.filter != models.DiagramPID {
		t.Errorf("filter = %q, want pid", usage.filter)
	}
}

func TestUnknownTool(t *testing.T) {
	result := callTool(t, newServer(nil), "pario_budget", `{}`)
	if !result.IsError {
		t.Error("expected isError=true for unknown tool")
	}
}

func TestNotificationNoResponse(t *testing.T) {
	srv := newServer(nil)

	line, _ := json.Marshal(Request{
		JSONRPC: "2.0",
		Method:  "notifications/initialized",
	})
	line = append(line, '\n')

	var out bytes.Buffer
	_ = srv.Run(context.Background(), bytes.NewReader(line), &out)

	if out.Len() != 0 {
		t.Errorf("expected no output for notification, got: %s", out.String())
	}
}

func TestPing(t *testing.T) {
	resp := sendAndReceive(t, newServer(nil), Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`3`),
		Method:  "ping",
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	if string(resp.ID) != "3" {
		t.Errorf("id = %s, want 3", resp.ID)
	}
}

func TestUnknownMethod(t *testing.T) {
	srv := newServer(nil)
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`9`),
		Method:  "unknown/method",
	})

	if resp.Error == nil {
		t.Fatal("expected error for unknown method")
	}
	if resp.Error.Code != CodeMethodNotFound {
		t.Errorf("error code = %d, want %d", resp.Error.Code, CodeMethodNotFound)
	}
}
