package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/pario-ai/flowsmith/pkg/models"
)

// Tool argument structs.

type generateArgs struct {
	Prompt      string `json:"prompt"`
	DiagramType string `json:"diagram_type"`
	Language    string `json:"language"`
	SkipCache   bool   `json:"skip_cache"`
	AgentMode   bool   `json:"agent_mode"`
}

func (a generateArgs) request() models.GenerationRequest {
	return models.GenerationRequest{
		Prompt:      a.Prompt,
		DiagramType: models.DiagramType(a.DiagramType),
		Language:    a.Language,
		SkipCache:   a.SkipCache,
		AgentMode:   a.AgentMode,
	}
}

type jobArgs struct {
	JobID string `json:"job_id"`
}

type usageArgs struct {
	DiagramType string `json:"diagram_type"`
}

type auditSearchArgs struct {
	DiagramType string `json:"diagram_type"`
	Outcome     string `json:"outcome"`
	Model       string `json:"model"`
	Since       string `json:"since"`
}

// toolHandler is a function that handles a tool call.
type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

// toolHandlers maps tool names to their handlers.
var toolHandlers = map[string]toolHandler{
	"flowsmith_generate":     handleGenerate,
	"flowsmith_analyze":      handleAnalyze,
	"flowsmith_job_status":   handleJobStatus,
	"flowsmith_cache_stats":  handleCacheStats,
	"flowsmith_usage":        handleUsage,
	"flowsmith_audit_search": handleAuditSearch,
}

var requestSchema = map[string]any{
	"type":     "object",
	"required": []string{"prompt", "diagram_type"},
	"properties": map[string]any{
		"prompt": map[string]any{
			"type":        "string",
			"description": "Natural-language description of the process or decision",
		},
		"diagram_type": map[string]any{
			"type":        "string",
			"enum":        []string{"bpmn", "pid", "dmn"},
			"description": "Kind of document to produce",
		},
		"language": map[string]any{
			"type":        "string",
			"description": "Language code for labels (optional, detected from the prompt)",
		},
		"skip_cache": map[string]any{
			"type":        "boolean",
			"description": "Always generate, ignoring cached documents (optional)",
		},
		"agent_mode": map[string]any{
			"type":        "boolean",
			"description": "Use the smart model tier and provider-assisted complexity refinement (optional)",
		},
	},
}

// allTools is the list of tool definitions exposed via tools/list.
var allTools = []ToolDefinition{
	{
		Name:        "flowsmith_generate",
		Description: "Generate a validated BPMN, P&ID or DMN XML document from a description. Large requests return a job ID or a list of sub-prompts instead.",
		InputSchema: requestSchema,
		Annotations: &ToolAnnotations{Title: "Generate diagram", OpenWorldHint: true},
	},
	{
		Name:        "flowsmith_analyze",
		Description: "Show the complexity profile, chosen model and dispatch mode for a description without generating anything.",
		InputSchema: requestSchema,
		Annotations: readOnly("Analyze complexity"),
	},
	{
		Name:        "flowsmith_job_status",
		Description: "Show the status of a background generation job and its document once completed.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"job_id"},
			"properties": map[string]any{
				"job_id": map[string]any{
					"type":        "string",
					"description": "The job ID returned by flowsmith_generate",
				},
			},
		},
		Annotations: readOnly("Job status"),
	},
	{
		Name:        "flowsmith_cache_stats",
		Description: "Show diagram cache statistics (entries, exact and semantic hits, misses, hit rate).",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Annotations: readOnly("Cache statistics"),
	},
	{
		Name:        "flowsmith_usage",
		Description: "Show generation usage grouped by model and diagram type.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"diagram_type": map[string]any{
					"type":        "string",
					"description": "Filter by diagram type (optional)",
				},
			},
		},
		Annotations: readOnly("Usage summary"),
	},
	{
		Name:        "flowsmith_audit_search",
		Description: "Search the generation audit log with optional filters.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"diagram_type": map[string]any{
					"type":        "string",
					"description": "Filter by diagram type (optional)",
				},
				"outcome": map[string]any{
					"type":        "string",
					"description": "Filter by outcome: generated, cached, split, queued, failed (optional)",
				},
				"model": map[string]any{
					"type":        "string",
					"description": "Filter by model (optional)",
				},
				"since": map[string]any{
					"type":        "string",
					"description": "Start date in YYYY-MM-DD format (optional)",
				},
			},
		},
		Annotations: readOnly("Search audit log"),
	},
}

func readOnly(title string) *ToolAnnotations {
	return &ToolAnnotations{Title: title, ReadOnlyHint: true, IdempotentHint: true}
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
	}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
		IsError: true,
	}
}

func handleGenerate(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args generateArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	resp, err := s.gen.Handle(ctx, args.request())
	if err != nil {
		return errorResult(formatError(err))
	}
	return textResult(formatResponse(resp))
}

func handleAnalyze(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args generateArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	a, err := s.gen.Analyze(ctx, args.request())
	if err != nil {
		return errorResult(formatError(err))
	}
	return textResult(formatAnalysis(a))
}

func handleJobStatus(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.jobs == nil {
		return textResult("Background jobs are not configured.")
	}
	var args jobArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	if args.JobID == "" {
		return errorResult("job_id is required")
	}
	job, err := s.jobs.Get(ctx, args.JobID)
	if errors.Is(err, models.ErrNotFound) {
		return errorResult("No job with ID " + args.JobID)
	}
	if err != nil {
		return errorResult("Error fetching job: " + err.Error())
	}
	return textResult(formatJob(job))
}

func handleCacheStats(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.cache == nil {
		return textResult("Cache is not configured.")
	}
	stats, err := s.cache.Stats(ctx)
	if err != nil {
		return errorResult("Error fetching cache stats: " + err.Error())
	}
	return textResult(formatCacheStats(stats))
}

func handleUsage(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.usage == nil {
		return textResult("Usage tracking is not configured.")
	}
	var args usageArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	rows, err := s.usage.Summary(ctx, models.DiagramType(args.DiagramType))
	if err != nil {
		return errorResult("Error fetching usage: " + err.Error())
	}
	return textResult(formatSummary(rows))
}

func handleAuditSearch(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.auditor == nil {
		return textResult("Audit logging is not configured.")
	}
	var args auditSearchArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}

	opts := models.AuditQueryOpts{
		DiagramType: models.DiagramType(args.DiagramType),
		Outcome:     args.Outcome,
		Model:       args.Model,
		Limit:       50,
	}
	if args.Since != "" {
		t, err := time.Parse("2006-01-02", args.Since)
		if err != nil {
			return errorResult("Invalid since date (use YYYY-MM-DD): " + err.Error())
		}
		opts.Since = t
	}

	entries, err := s.auditor.Query(ctx, opts)
	if err != nil {
		return errorResult("Error searching audit log: " + err.Error())
	}
	return textResult(formatAuditEntries(entries))
}
