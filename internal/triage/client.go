// Package triage talks to the external classifier service and applies its
// verdicts to newly ingested tickets.
package triage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/deskpipe-io/deskpipe/internal/roster"
	"github.com/deskpipe-io/deskpipe/internal/ticket"
)

// Result is the classifier's verdict on a ticket. The typed fields carry
// the raw values from the service; callers validate them against the
// enums and skip what doesn't parse. Every other field the service
// returns (reasoning, can_auto_resolve, suggested_assignee_team, and
// whatever it adds next) lands verbatim in Extra, which is preserved on
// the ticket's reasoning map.
type Result struct {
	Category          string
	Priority          string
	Confidence        float64
	SuggestedAssignee string
	Tags              []string
	Extra             map[string]any
}

// consumed lists the response keys the pipeline interprets itself.
var consumed = []string{"category", "priority", "confidence", "suggested_assignee", "tags"}

func (r *Result) UnmarshalJSON(data []byte) error {
	var w struct {
		Category          string   `json:"category"`
		Priority          string   `json:"priority"`
		Confidence        float64  `json:"confidence"`
		SuggestedAssignee string   `json:"suggested_assignee"`
		Tags              []string `json:"tags"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range consumed {
		delete(all, k)
	}
	if len(all) == 0 {
		all = nil
	}
	*r = Result{
		Category:          w.Category,
		Priority:          w.Priority,
		Confidence:        w.Confidence,
		SuggestedAssignee: w.SuggestedAssignee,
		Tags:              w.Tags,
		Extra:             all,
	}
	return nil
}

// Request is the analysis payload: the full ticket plus the agents the
// classifier may suggest.
type Request struct {
	Ticket          *ticket.Ticket `json:"ticket"`
	AvailableAgents []roster.Agent `json:"available_agents"`
}

// Client calls the analysis service over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{},
	}
}

// AnalyzeTriage classifies a fresh ticket.
func (c *Client) AnalyzeTriage(ctx context.Context, req Request) (*Result, error) {
	return c.analyze(ctx, "/analyze/triage", req, 30*time.Second)
}

// AnalyzeCode asks for a deeper code-level analysis. The longer timeout
// covers repository inspection on the service side.
func (c *Client) AnalyzeCode(ctx context.Context, req Request) (*Result, error) {
	return c.analyze(ctx, "/analyze/code", req, 60*time.Second)
}

// AnalyzeSupport asks for a suggested support response.
func (c *Client) AnalyzeSupport(ctx context.Context, req Request) (*Result, error) {
	return c.analyze(ctx, "/analyze/support", req, 30*time.Second)
}

func (c *Client) analyze(ctx context.Context, path string, req Request, timeout time.Duration) (*Result, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("triage: no analysis service configured")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("triage: encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("triage: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("triage: %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("triage: %s: status %d", path, resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("triage: decode response: %w", err)
	}
	return &result, nil
}
