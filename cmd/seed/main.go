package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"azure-search-mcp/internal/config"
	"azure-search-mcp/internal/logging"
	"azure-search-mcp/internal/services"
	"azure-search-mcp/pkg/models"
)

// seedNamespace keeps generated document ids stable across runs so that
// re-seeding merges instead of duplicating.
var seedNamespace = uuid.MustParse("6f1f5d2e-3c1a-4b8e-9a47-2d7c0b9e51a4")

type seedDoc struct {
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

var sampleDocs = []seedDoc{
	{
		Title:    "2024 Proxy Statement: Executive Compensation",
		Content:  "The CEO's total compensation for fiscal 2024 was $14.2 million, consisting of a $1.3 million base salary, a $2.9 million annual cash incentive and $10.0 million in long-term equity awards. Pay is weighted toward performance share units tied to three-year relative total shareholder return.",
		Metadata: map[string]any{"category": "compensation", "year": 2024},
	},
	{
		Title:    "Compensation Committee Charter",
		Content:  "The committee reviews and approves corporate goals relevant to CEO compensation, evaluates the CEO's performance against those goals and sets the CEO's compensation level. It retains an independent consultant and meets at least four times per year.",
		Metadata: map[string]any{"category": "governance", "year": 2023},
	},
	{
		Title:    "Say-on-Pay Results",
		Content:  "Shareholders approved the advisory vote on named executive officer compensation with 91% support. Feedback from investor outreach led to a higher share of performance-based equity in the CEO's target pay mix.",
		Metadata: map[string]any{"category": "compensation", "year": 2024},
	},
	{
		Title:    "Clawback Policy",
		Content:  "Incentive-based compensation received by current or former executive officers is subject to recovery if the company is required to prepare an accounting restatement. The policy covers the three completed fiscal years preceding the restatement.",
		Metadata: map[string]any{"category": "governance", "year": 2023},
	},
	{
		Title:    "Director Compensation Program",
		Content:  "Non-employee directors receive an annual cash retainer of $100,000 and an annual equity grant valued at $190,000. Committee chairs receive additional retainers ranging from $20,000 to $30,000.",
		Metadata: map[string]any{"category": "compensation", "year": 2024},
	},
}

func main() {
	var envFile, file string

	cmd := &cobra.Command{
		Use:          "seed",
		Short:        "Upload sample documents into the configured search index",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return seed(cmd.Context(), envFile, file)
		},
	}
	cmd.Flags().StringVar(&envFile, "env", "", "Path to .env file")
	cmd.Flags().StringVar(&file, "file", "", "JSON array of documents to upload (default: built-in samples)")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func seed(ctx context.Context, envFile, file string) error {
	cfg, err := config.LoadConfig(envFile)
	if err != nil {
		return err
	}
	logger := logging.NewLogger(cfg.Server.LogLevel)
	defer func() { _ = logger.Sync() }()

	docs, err := loadDocuments(file)
	if err != nil {
		return err
	}

	client := services.NewAzureSearchClient(services.SearchClientConfig{
		Endpoint:     cfg.Search.Endpoint,
		APIKey:       cfg.Search.APIKey,
		Index:        cfg.Search.IndexName,
		APIVersion:   cfg.Search.APIVersion,
		KeyField:     cfg.Search.KeyField,
		ContentField: cfg.Search.ContentField,
		Timeout:      cfg.Search.Timeout,
		MaxTopK:      cfg.Search.MaxTopK,
		MaxRetries:   cfg.Search.MaxRetries,
	}, nil)

	logger.Info("Seeding index", "index", cfg.Search.IndexName, "documents", len(docs))
	accepted, err := client.Upload(ctx, docs)
	if err != nil {
		logger.Error("Seeding failed", "accepted", accepted, "error", err)
		return err
	}
	logger.Info("Seeding complete!", "accepted", accepted)
	return nil
}

// loadDocuments reads seed documents from path, or returns the built-in
// samples when path is empty.
func loadDocuments(path string) ([]models.Document, error) {
	raw := sampleDocs
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		raw = nil
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	docs := make([]models.Document, 0, len(raw))
	for i, d := range raw {
		if strings.TrimSpace(d.Content) == "" {
			return nil, fmt.Errorf("document %d has no content", i)
		}
		id := d.ID
		if id == "" {
			id = uuid.NewSHA1(seedNamespace, []byte(d.Title+"\x00"+d.Content)).String()
		}
		meta := make(map[string]any, len(d.Metadata)+1)
		for k, v := range d.Metadata {
			meta[k] = v
		}
		if d.Title != "" {
			meta["title"] = d.Title
		}
		docs = append(docs, models.Document{ID: id, Content: d.Content, Metadata: meta})
	}
	return docs, nil
}
