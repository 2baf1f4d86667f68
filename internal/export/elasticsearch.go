package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/wimjan123/tweede-kamer-scraper/internal/models"
)

// Elasticsearch indexes transcripts for full-text search, one document per
// session keyed by meeting id so re-harvests update in place.
type Elasticsearch struct {
	es    *elasticsearch.Client
	index string
	log   *slog.Logger
}

// NewElasticsearch instantiates the Elasticsearch exporter.
func NewElasticsearch(addr, index string, logger *slog.Logger) (*Elasticsearch, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{addr},
	}

	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Elasticsearch{es: es, index: index, log: logger}, nil
}

func (c *Elasticsearch) Name() string { return "elasticsearch" }

// Export writes the transcript into the index.
func (c *Elasticsearch) Export(ctx context.Context, t models.Transcript) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      c.index,
		DocumentID: t.MeetingID,
		Body:       bytes.NewReader(payload),
		Refresh:    "false",
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("index transcript: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("index transcript failed: %s", strings.TrimSpace(string(body)))
	}

	return nil
}

// Ping checks if Elasticsearch is available.
func (c *Elasticsearch) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping failed: %s", res.Status())
	}

	return nil
}
