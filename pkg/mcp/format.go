package mcp

import (
	"fmt"
	"strings"

	"github.com/pario-ai/flowsmith/pkg/models"
	"github.com/pario-ai/flowsmith/pkg/pipeline"
)

// formatError renders a generation error with its kind so the caller can
// decide between retrying later and rephrasing.
func formatError(err error) string {
	return fmt.Sprintf("Generation failed (%s): %s", models.KindOf(err), models.UserMessage(err))
}

// formatResponse renders a pipeline response. Documents are returned as is
// so the client can save them.
func formatResponse(r *pipeline.Response) string {
	var b strings.Builder
	switch r.Outcome {
	case pipeline.OutcomeQueued:
		fmt.Fprintf(&b, "The request was moved to a background job.\n")
		fmt.Fprintf(&b, "  Job ID:         %s\n", r.JobID)
		fmt.Fprintf(&b, "  Estimated time: %s\n", r.EstimatedTime)
		b.WriteString("Poll flowsmith_job_status with this job ID.\n")
	case pipeline.OutcomeSplit:
		fmt.Fprintf(&b, "The description is too complex for one diagram (%s).\n", r.Reasoning)
		fmt.Fprintf(&b, "Generate these %d parts separately:\n", len(r.SubPrompts))
		for i, p := range r.SubPrompts {
			fmt.Fprintf(&b, "\n--- part %d ---\n%s\n", i+1, p)
		}
	default:
		switch {
		case r.Similarity != nil:
			fmt.Fprintf(&b, "<!-- cached, similarity %.3f -->\n", *r.Similarity)
		case r.Cached:
			b.WriteString("<!-- cached -->\n")
		}
		b.WriteString(r.Document)
	}
	return b.String()
}

// formatAnalysis formats a dry-run routing decision.
func formatAnalysis(a *pipeline.Analysis) string {
	var b strings.Builder
	p := a.Profile
	fmt.Fprintf(&b, "Complexity Analysis\n")
	fmt.Fprintf(&b, "  Language:       %s\n", a.Language.Code)
	fmt.Fprintf(&b, "  Score:          %.2f\n", p.Score)
	fmt.Fprintf(&b, "  Recommendation: %s\n", p.Recommendation)
	fmt.Fprintf(&b, "  Signals:        %d actors, %d gateways, %d events, %d timers, %d loops\n",
		p.Counts.Actors, p.Counts.Gateways, p.Counts.Events, p.Counts.Timers, p.Counts.Loops)
	fmt.Fprintf(&b, "  Length:         %d characters, ~%d elements, ~%d output tokens\n",
		p.Length, p.EstimatedElements, p.EstimatedOutputTokens)
	fmt.Fprintf(&b, "  Model:          %s (%s tier, %s fidelity)\n", a.Model.Model, a.Model.Tier, a.Model.Fidelity)
	if a.Dispatch != "" {
		fmt.Fprintf(&b, "  Dispatch:       %s (~%s)\n", a.Dispatch, a.EstimatedTime)
	}
	for _, r := range p.Reasons {
		fmt.Fprintf(&b, "  Note:           %s\n", r)
	}
	if a.SimplifiedPrompt != "" {
		fmt.Fprintf(&b, "\nSimplified prompt:\n%s\n", a.SimplifiedPrompt)
	}
	if len(a.SubPrompts) > 0 {
		fmt.Fprintf(&b, "\nSuggested split into %d parts.\n", len(a.SubPrompts))
	}
	return b.String()
}

// formatJob formats a background job.
func formatJob(j *models.GenerationJob) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Job %s: %s\n", j.ID, j.Status)
	fmt.Fprintf(&b, "  Created: %s\n", j.CreatedAt.Format("2006-01-02 15:04:05"))
	if j.CompletedAt != nil {
		fmt.Fprintf(&b, "  Done:    %s\n", j.CompletedAt.Format("2006-01-02 15:04:05"))
	}
	switch j.Status {
	case models.JobFailed:
		fmt.Fprintf(&b, "  Error:   %s (%s)\n", j.ErrorMessage, j.ErrorKind)
	case models.JobCompleted:
		b.WriteString("\n")
		b.WriteString(j.Document)
	}
	return b.String()
}

// formatSummary formats usage summaries as a text table.
func formatSummary(rows []models.UsageSummary) string {
	if len(rows) == 0 {
		return "No usage data found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-25s %-6s %8s %8s %8s %10s %10s\n",
		"Model", "Type", "Requests", "Cached", "Attempts", "Tokens", "Avg ms")
	b.WriteString(strings.Repeat("-", 81) + "\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-25s %-6s %8d %8d %8d %10d %10.0f\n",
			r.Model, r.DiagramType, r.RequestCount, r.CachedCount, r.TotalAttempts, r.TotalTokens, r.AvgLatencyMs)
	}
	return b.String()
}

// formatCacheStats formats cache stats as text.
func formatCacheStats(stats models.CacheStats) string {
	total := stats.Hits + stats.Misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	return fmt.Sprintf("Cache Statistics\n"+
		"  Entries:       %d\n"+
		"  Embedded:      %d\n"+
		"  Hits:          %d\n"+
		"  Semantic hits: %d\n"+
		"  Misses:        %d\n"+
		"  Hit Rate:      %.1f%%\n",
		stats.Entries, stats.WithEmbeddings, stats.Hits, stats.SemanticHits, stats.Misses, hitRate)
}

// formatAuditEntries formats audit entries as a text table.
func formatAuditEntries(entries []models.AuditEntry) string {
	if len(entries) == 0 {
		return "No audit entries found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-38s %-6s %-10s %-20s %8s %8s\n",
		"Time", "Request", "Type", "Outcome", "Model", "Attempts", "ms")
	b.WriteString(strings.Repeat("-", 116) + "\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%-20s %-38s %-6s %-10s %-20s %8d %8d\n",
			e.CreatedAt.Format("2006-01-02 15:04:05"), e.RequestID, e.DiagramType, e.Outcome,
			e.Model, e.Attempts, e.LatencyMs)
	}
	return b.String()
}
