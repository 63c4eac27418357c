package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"gopkg.in/yaml.v3"

	"azure-search-mcp/internal/prompts"
	"azure-search-mcp/pkg/models"
)

const (
	catalogURI  = "prompts://catalog"
	workflowURI = "workflow://graph"
)

func (s *Server) registerPrompts() {
	catalog := s.prompts.Catalog()

	for _, f := range catalog.Formats() {
		s.mcpServer.AddPrompt(
			mcp.NewPrompt("format_"+string(f.Format),
				mcp.WithPromptDescription(fmt.Sprintf("Format documents in %s style: %s", f.Format, f.Description)),
				mcp.WithArgument("query", mcp.ArgumentDescription("The original search query"), mcp.RequiredArgument()),
				mcp.WithArgument("documents", mcp.ArgumentDescription("The documents to format")),
				mcp.WithArgument("num_results", mcp.ArgumentDescription("How many documents are included")),
			),
			s.handleFormatPrompt(f.Format),
		)
	}

	for _, p := range catalog.Personas() {
		s.mcpServer.AddPrompt(
			mcp.NewPrompt("persona_"+p.Key,
				mcp.WithPromptDescription(fmt.Sprintf("Answer a query as %s", p.Name)),
				mcp.WithArgument("query", mcp.ArgumentDescription("The query to respond to"), mcp.RequiredArgument()),
			),
			s.handlePersonaPrompt(p.Key),
		)
	}

	s.mcpServer.AddPrompt(
		mcp.NewPrompt("search_query_optimization",
			mcp.WithPromptDescription("Optimize search queries for better results"),
			mcp.WithArgument("query", mcp.ArgumentDescription("The search query to optimize"), mcp.RequiredArgument()),
		),
		s.handleTemplatePrompt("query_optimizer", "Optimized search query"),
	)

	s.mcpServer.AddPrompt(
		mcp.NewPrompt("document_analysis",
			mcp.WithPromptDescription("Analyze document relevance and extract insights"),
			mcp.WithArgument("documents", mcp.ArgumentDescription("Documents to analyze"), mcp.RequiredArgument()),
			mcp.WithArgument("query", mcp.ArgumentDescription("The original search query"), mcp.RequiredArgument()),
		),
		s.handleTemplatePrompt("relevance_analyzer", "Document relevance analysis"),
	)
}

func promptVars(args map[string]string) map[string]string {
	vars := map[string]string{
		prompts.VarQuery:      args["query"],
		prompts.VarDocuments:  args["documents"],
		prompts.VarNumResults: args["num_results"],
	}
	if vars[prompts.VarNumResults] == "" {
		vars[prompts.VarNumResults] = "Several"
	}
	return vars
}

func userPrompt(description, text string) *mcp.GetPromptResult {
	return mcp.NewGetPromptResult(description, []mcp.PromptMessage{
		mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(text)),
	})
}

func (s *Server) handleFormatPrompt(f models.Format) func(context.Context, mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return func(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		tmpl, err := s.prompts.TemplateFor(f)
		if err != nil {
			return nil, err
		}
		text, err := tmpl.Render(promptVars(request.Params.Arguments))
		if err != nil {
			return nil, err
		}
		return userPrompt(fmt.Sprintf("Format documents in %s style", f), text), nil
	}
}

func (s *Server) handlePersonaPrompt(key string) func(context.Context, mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return func(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		p, ok := s.prompts.Catalog().Persona(key)
		if !ok {
			return nil, fmt.Errorf("unknown persona %q", key)
		}

		text := fmt.Sprintf("Acting as %s: %s\n\n"+
			"Please respond to the following query with the characteristics and expertise of %s:\n\n"+
			"<query>\n%s\n</query>\n\n**Response:**",
			p.Name, strings.TrimSpace(p.Description), p.Name, request.Params.Arguments["query"])
		return userPrompt("Persona prompt for "+p.Name, text), nil
	}
}

func (s *Server) handleTemplatePrompt(name, description string) func(context.Context, mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return func(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		tmpl, ok := s.prompts.Catalog().Template(name)
		if !ok {
			return nil, fmt.Errorf("prompt template %q is not in the catalog", name)
		}
		text, err := tmpl.Render(promptVars(request.Params.Arguments))
		if err != nil {
			return nil, err
		}
		return userPrompt(description, text), nil
	}
}

type catalogSummary struct {
	Source        string           `yaml:"source"`
	DefaultFormat string           `yaml:"default_format"`
	Personas      []personaSummary `yaml:"personas"`
	Templates     []templateInfo   `yaml:"templates"`
	Formats       []formatInfo     `yaml:"output_formats"`
}

type personaSummary struct {
	Key         string `yaml:"key"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type templateInfo struct {
	Name      string   `yaml:"name"`
	Persona   string   `yaml:"persona"`
	Variables []string `yaml:"variables"`
}

type formatInfo struct {
	Format      string `yaml:"format"`
	Description string `yaml:"description"`
	Template    string `yaml:"template"`
}

// CatalogSummary renders the active prompt catalog as YAML.
func CatalogSummary(c *prompts.Catalog) (string, error) {
	sum := catalogSummary{Source: c.Source(), DefaultFormat: string(c.DefaultFormat())}
	for _, p := range c.Personas() {
		sum.Personas = append(sum.Personas, personaSummary{Key: p.Key, Name: p.Name, Description: strings.TrimSpace(p.Description)})
	}
	for _, t := range c.Templates() {
		sum.Templates = append(sum.Templates, templateInfo{Name: t.Name, Persona: t.Persona, Variables: t.Variables})
	}
	for _, f := range c.Formats() {
		sum.Formats = append(sum.Formats, formatInfo{Format: string(f.Format), Description: f.Description, Template: f.Template})
	}
	out, err := yaml.Marshal(sum)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcp.NewResource(catalogURI, "Prompt catalog",
			mcp.WithResourceDescription("Personas, prompt templates and output formats currently loaded"),
			mcp.WithMIMEType("application/yaml"),
		),
		func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			text, err := CatalogSummary(s.prompts.Catalog())
			if err != nil {
				return nil, err
			}
			return []mcp.ResourceContents{
				mcp.TextResourceContents{URI: catalogURI, MIMEType: "application/yaml", Text: text},
			}, nil
		},
	)

	s.mcpServer.AddResource(
		mcp.NewResource(workflowURI, "Search workflow graph",
			mcp.WithResourceDescription("Steps and transitions of the search workflow"),
			mcp.WithMIMEType("application/json"),
		),
		func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			data, err := json.MarshalIndent(s.router.Describe(), "", "  ")
			if err != nil {
				return nil, err
			}
			return []mcp.ResourceContents{
				mcp.TextResourceContents{URI: workflowURI, MIMEType: "application/json", Text: string(data)},
			}, nil
		},
	)
}
