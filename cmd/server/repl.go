package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// toolCaller is the part of the MCP server the REPL drives.
type toolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
}

const replHelp = `Azure AI Search Server - Standalone Mode
Available commands:
  search <query> - Search for documents (structured format)
  summary <query> - Search and provide summary
  analysis <query> - Search with relevance analysis
  get <doc_ids> - Get document context
  quit - Exit`

type replCommand struct {
	tool   string
	label  string
	format string
	arg    string
}

var replCommands = map[string]replCommand{
	"search":   {tool: "search_documents", label: "Search Results", format: "structured", arg: "query"},
	"summary":  {tool: "search_documents", label: "Summary", format: "summary", arg: "query"},
	"analysis": {tool: "search_documents", label: "Analysis", format: "analysis", arg: "query"},
	"get":      {tool: "get_document_context", label: "Document Context", arg: "document_ids"},
}

// runREPL reads commands from in until quit, EOF or ctx cancellation.
func runREPL(ctx context.Context, in io.Reader, out io.Writer, srv toolCaller) error {
	fmt.Fprintln(out, replHelp)

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		fmt.Fprint(out, "\n> ")
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case line, ok = <-lines:
		}
		if !ok {
			select {
			case err := <-scanErr:
				return err
			default:
				return nil
			}
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if lower := strings.ToLower(line); lower == "quit" || lower == "exit" {
			return nil
		}

		name, rest, _ := strings.Cut(line, " ")
		rest = strings.TrimSpace(rest)
		if rest == "" {
			fmt.Fprintln(out, "Please provide a query or document IDs")
			continue
		}
		cmd, known := replCommands[name]
		if !known {
			fmt.Fprintln(out, "Unknown command. Use 'search', 'summary', 'analysis', 'get', or 'quit'")
			continue
		}

		args := map[string]any{cmd.arg: rest}
		if cmd.format != "" {
			args["format_type"] = cmd.format
		}
		res, err := srv.CallTool(ctx, cmd.tool, args)
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "\n%s:\n%s\n", cmd.label, resultText(res))
	}
}

func resultText(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if text, ok := c.(mcp.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}
