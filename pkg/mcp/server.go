package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/pario-ai/flowsmith/pkg/models"
	"github.com/pario-ai/flowsmith/pkg/pipeline"
)

// Generator runs and analyzes generation requests.
type Generator interface {
	Handle(ctx context.Context, req models.GenerationRequest) (*pipeline.Response, error)
	Analyze(ctx context.Context, req models.GenerationRequest) (*pipeline.Analysis, error)
}

// JobReader looks up background jobs.
type JobReader interface {
	Get(ctx context.Context, id string) (*models.GenerationJob, error)
}

// CacheStatter provides cache statistics without coupling to a concrete cache implementation.
type CacheStatter interface {
	Stats(ctx context.Context) (models.CacheStats, error)
}

// UsageReader reports aggregated usage.
type UsageReader interface {
	Summary(ctx context.Context, dt models.DiagramType) ([]models.UsageSummary, error)
}

// AuditSearcher queries the audit log.
type AuditSearcher interface {
	Query(ctx context.Context, opts models.AuditQueryOpts) ([]models.AuditEntry, error)
}

// Server is a minimal MCP server that communicates over stdio using JSON-RPC 2.0.
type Server struct {
	gen     Generator
	jobs    JobReader
	cache   CacheStatter
	usage   UsageReader
	auditor AuditSearcher
	version string
	logger  *slog.Logger
}

// New creates a new MCP Server. Any dependency except gen may be nil; the
// matching tools then report that the feature is not configured.
func New(gen Generator, jobs JobReader, cache CacheStatter, usage UsageReader, version string) *Server {
	return &Server{
		gen:     gen,
		jobs:    jobs,
		cache:   cache,
		usage:   usage,
		version: version,
		logger:  slog.Default(),
	}
}

// SetAuditor enables the audit search tool.
func (s *Server) SetAuditor(a AuditSearcher) { s.auditor = a }

// SetLogger sets the logger. Logs must not go to the protocol stream.
func (s *Server) SetLogger(l *slog.Logger) { s.logger = l }

// Run reads JSON-RPC requests from r line-by-line and writes responses to w.
// It blocks until r is closed or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(w, *errorResponse(nil, CodeParseError, "parse error"))
			continue
		}

		resp := s.dispatch(ctx, &req)
		if resp == nil {
			// notification, no response
			continue
		}
		s.writeResponse(w, *resp)
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "notifications/initialized":
		return nil
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	case "ping":
		return resultResponse(req.ID, map[string]any{})
	default:
		if len(req.ID) == 0 {
			return nil
		}
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method))
	}
}

func (s *Server) handleInitialize(req *Request) *Response {
	return resultResponse(req.ID, InitializeResult{
		ProtocolVersion: protocolVersion,
		ServerInfo:      ServerInfo{Name: serverName, Version: s.version},
		Instructions: "Use flowsmith_generate to turn a process or decision description into BPMN, P&ID or DMN XML. " +
			"Large descriptions may return a job ID to poll with flowsmith_job_status, or a list of parts to generate separately.",
	})
}

func (s *Server) handleToolsList(req *Request) *Response {
	return resultResponse(req.ID, ToolsListResult{Tools: allTools})
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "invalid params")
	}

	handler, ok := toolHandlers[params.Name]
	if !ok {
		return resultResponse(req.ID, errorResult(fmt.Sprintf("unknown tool: %s", params.Name)))
	}

	s.logger.Debug("mcp tool call", "tool", params.Name)
	return resultResponse(req.ID, handler(ctx, s, params.Arguments))
}

func (s *Server) writeResponse(w io.Writer, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("mcp: marshal error", "error", err)
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		s.logger.Error("mcp: write error", "error", err)
	}
}
