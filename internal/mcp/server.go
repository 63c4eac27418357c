package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"

	"azure-search-mcp/internal/logging"
	"azure-search-mcp/internal/prompts"
	"azure-search-mcp/internal/services"
	"azure-search-mcp/internal/workflow"
	"azure-search-mcp/pkg/models"
)

const (
	defaultToolTimeout = 30 * time.Second
	lookupConcurrency  = 4
)

// Options configures the MCP server.
type Options struct {
	Name        string
	Version     string
	ToolTimeout time.Duration
	Logger      *logging.Logger
}

// Server exposes search tools, prompts and resources over MCP.
type Server struct {
	mcpServer   *server.MCPServer
	router      *workflow.Router
	searcher    services.Searcher
	prompts     *prompts.Store
	logger      *logging.Logger
	toolTimeout time.Duration
	tools       map[string]server.ToolHandlerFunc
}

// NewServer creates the MCP server and registers everything it serves.
func NewServer(router *workflow.Router, searcher services.Searcher, store *prompts.Store, opts Options) *Server {
	if opts.Name == "" {
		opts.Name = "azure-search-mcp"
	}
	if opts.Version == "" {
		opts.Version = "0.1.0"
	}
	if opts.ToolTimeout <= 0 {
		opts.ToolTimeout = defaultToolTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}

	s := &Server{
		mcpServer: server.NewMCPServer(
			opts.Name,
			opts.Version,
			server.WithToolCapabilities(true),
			server.WithPromptCapabilities(true),
			server.WithResourceCapabilities(false, true),
			server.WithRecovery(),
		),
		router:      router,
		searcher:    searcher,
		prompts:     store,
		logger:      opts.Logger,
		toolTimeout: opts.ToolTimeout,
		tools:       make(map[string]server.ToolHandlerFunc),
	}

	s.registerTools()
	s.registerPrompts()
	s.registerResources()
	return s
}

// GetMCPServer returns the underlying protocol server.
func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio serves MCP over the given streams until ctx is cancelled or
// the input is closed.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(s.logger.StdLogger())
	return stdio.Listen(ctx, in, out)
}

func (s *Server) registerTools() {
	topK := mcp.WithNumber("top_k",
		mcp.Description("Number of documents to return (default: 5)"),
		mcp.DefaultNumber(models.DefaultTopK),
		mcp.Min(1),
	)
	query := mcp.WithString("query", mcp.Required(), mcp.Description("The search query to find relevant documents"))

	s.addTool(
		mcp.NewTool(
			"search_documents",
			mcp.WithDescription("Search for relevant documents in Azure AI Search with AI-enhanced analysis and formatting"),
			query,
			topK,
			mcp.WithString("format_type",
				mcp.Description("Format type: 'structured' (default), 'summary', or 'analysis'"),
				mcp.Enum(string(models.FormatStructured), string(models.FormatSummary), string(models.FormatAnalysis)),
				mcp.DefaultString(string(models.FormatStructured)),
			),
			mcp.WithString("filter", mcp.Description("Optional OData filter expression, e.g. \"year eq 2024\"")),
		),
		s.handleSearch(""),
	)

	s.addTool(
		mcp.NewTool(
			"search_and_summarize",
			mcp.WithDescription("Search for documents and provide a concise summary of findings"),
			query,
			topK,
		),
		s.handleSearch(models.FormatSummary),
	)

	s.addTool(
		mcp.NewTool(
			"search_with_analysis",
			mcp.WithDescription("Search for documents and provide detailed relevance analysis"),
			query,
			topK,
		),
		s.handleSearch(models.FormatAnalysis),
	)

	s.addTool(
		mcp.NewTool(
			"get_document_context",
			mcp.WithDescription("Retrieve specific documents by their IDs for detailed context"),
			mcp.WithString("document_ids", mcp.Required(), mcp.Description("Comma-separated list of document IDs to retrieve")),
			mcp.WithBoolean("format_output",
				mcp.Description("Whether to format the output for readability (default: true)"),
				mcp.DefaultBool(true),
			),
		),
		s.handleGetDocumentContext,
	)
}

func (s *Server) addTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	handler = s.instrument(tool.Name, handler)
	s.tools[tool.Name] = handler
	s.mcpServer.AddTool(tool, handler)
}

// CallTool invokes a registered tool directly, bypassing the transport.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	handler, ok := s.tools[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return handler(ctx, req)
}

// instrument bounds a tool call with the tool timeout and logs its outcome.
func (s *Server) instrument(name string, next server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, cancel := context.WithTimeout(ctx, s.toolTimeout)
		defer cancel()

		start := time.Now()
		res, err := next(ctx, request)
		elapsed := time.Since(start)

		switch {
		case err != nil:
			s.logger.Error("Tool call failed", "tool", name, "duration_ms", elapsed.Milliseconds(), "error", err)
		case res != nil && res.IsError:
			s.logger.Warn("Tool call returned an error", "tool", name, "duration_ms", elapsed.Milliseconds())
		default:
			s.logger.Info("Tool call completed", "tool", name, "duration_ms", elapsed.Milliseconds())
		}
		return res, err
	}
}

func (s *Server) handleSearch(fixed models.Format) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		format := fixed
		if format == "" {
			format = models.Format(request.GetString("format_type", string(s.prompts.Catalog().DefaultFormat())))
		}

		q := models.Query{
			Text:   request.GetString("query", ""),
			TopK:   request.GetInt("top_k", models.DefaultTopK),
			Format: format,
			Filter: request.GetString("filter", ""),
		}

		st := s.router.Run(ctx, q)
		if st.Failed() {
			return errorResult(st.Err), nil
		}
		return mcp.NewToolResultText(st.Output), nil
	}
}

func (s *Server) handleGetDocumentContext(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ids := parseIDs(request.GetArguments()["document_ids"])
	if len(ids) == 0 {
		return errorResult(services.NewQueryError("No valid document IDs provided")), nil
	}
	formatOutput := request.GetBool("format_output", true)

	found := make([]*models.Document, len(ids))
	failures := make([]error, len(ids))
	var g errgroup.Group
	g.SetLimit(lookupConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			doc, err := s.searcher.Lookup(ctx, id)
			if err != nil {
				s.logger.Warn("Document lookup failed", "id", id, "error", err)
				failures[i] = err
				return nil
			}
			found[i] = doc
			return nil
		})
	}
	_ = g.Wait()
	if err := allFailed(failures); err != nil {
		return errorResult(err), nil
	}

	docs := make([]models.Document, 0, len(found))
	for _, d := range found {
		if d != nil {
			docs = append(docs, *d)
		}
	}

	if !formatOutput {
		data, err := json.MarshalIndent(docs, "", "  ")
		if err != nil {
			return errorResult(err), nil
		}
		res := mcp.NewToolResultText(string(data))
		res.StructuredContent = map[string]any{"documents": docs}
		return res, nil
	}

	if len(docs) == 0 {
		return mcp.NewToolResultText("No documents found for the provided IDs"), nil
	}
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		content := d.Content
		if strings.TrimSpace(content) == "" {
			content = "No content available"
		}
		parts = append(parts, fmt.Sprintf("**%s** (id: %s)\n%s", d.Title("Untitled"), d.ID, content))
	}
	return mcp.NewToolResultText(strings.Join(parts, "\n\n---\n\n")), nil
}

// parseIDs accepts a comma-separated string or an array of strings and
// returns the unique, non-empty ids in order.
// allFailed returns the first lookup error when every lookup failed.
func allFailed(failures []error) error {
	for _, err := range failures {
		if err == nil {
			return nil
		}
	}
	if len(failures) == 0 {
		return nil
	}
	return failures[0]
}

func parseIDs(raw any) []string {
	var candidates []string
	switch v := raw.(type) {
	case string:
		candidates = strings.Split(v, ",")
	case []string:
		candidates = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				candidates = append(candidates, s)
			}
		}
	}

	seen := make(map[string]bool, len(candidates))
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		ids = append(ids, c)
	}
	return ids
}

// errorResult reports err to the client without leaking internal detail.
func errorResult(err error) *mcp.CallToolResult {
	code := services.ErrorCode(err)
	msg := services.PublicMessage(err)
	res := mcp.NewToolResultError(fmt.Sprintf("Error [%s]: %s", code, msg))
	res.StructuredContent = map[string]any{"code": code, "message": msg}
	return res
}

// MountHTTPHandlers serves the streamable HTTP transport at /mcp and the SSE
// transport at /mcp/sse with messages posted to /mcp/message.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	streamable := server.NewStreamableHTTPServer(mcpServer, server.WithEndpointPath("/mcp"))
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.Handle("/mcp", streamable)
	mux.Handle("/mcp/sse", sseServer.SSEHandler())
	mux.Handle("/mcp/message", sseServer.MessageHandler())
}
