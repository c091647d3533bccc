package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"google.golang.org/genai"

	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/core"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/dictionary"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/worker"
)

type Config struct {
	APIKey string
	Model  string

	// BaseURL overrides the Gemini API base URL. Useful for proxies/testing.
	BaseURL string
}

// generateFunc returns the raw JSON text of one structured response.
type generateFunc func(ctx context.Context, prompt string) (string, error)

// Describer fills data dictionary descriptions and units with Gemini.
type Describer struct {
	generate generateFunc
	samples  map[string][]string
	opts     worker.Options
}

var _ dictionary.Describer = (*Describer)(nil)

func New(ctx context.Context, cfg Config, opts worker.Options) (*Describer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, core.Configf("GEMINI_API_KEY", "is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, core.Configf("GEMINI_MODEL", "is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	model := strings.TrimSpace(cfg.Model)
	return &Describer{
		generate: func(ctx context.Context, prompt string) (string, error) {
			resp, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), &genai.GenerateContentConfig{
				CandidateCount:   1,
				ResponseMIMEType: "application/json",
				ResponseSchema:   outputSchema,
			})
			if err != nil {
				return "", classifyErr(err)
			}
			return resp.Text(), nil
		},
		opts: opts,
	}, nil
}

// SetSamples attaches example values per column to the prompts.
func (d *Describer) SetSamples(samples map[string][]string) {
	d.samples = samples
}

type responseSchema struct {
	Description string `json:"description"`
	Unit        string `json:"unit"`
}

var outputSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"description": {Type: genai.TypeString},
		"unit":        {Type: genai.TypeString},
	},
	Required: []string{"description", "unit"},
}

// Describe requests one description per entry. Columns that still fail after
// retries come back unchanged; the joined error lists them.
func (d *Describer) Describe(ctx context.Context, entries []dictionary.Entry) ([]dictionary.Entry, error) {
	results, err := worker.ProcessAll(ctx, entries, d.describeOne, d.opts)
	if err != nil {
		return nil, err
	}
	out := make([]dictionary.Entry, len(results))
	for i, r := range results {
		out[i] = r.Output
	}
	return out, worker.Errors(results)
}

func (d *Describer) describeOne(ctx context.Context, e dictionary.Entry) (dictionary.Entry, error) {
	text, err := d.generate(ctx, buildPrompt(e, d.samples[e.Column]))
	if err != nil {
		return e, fmt.Errorf("describe %s: %w", e.Column, err)
	}
	parsed, err := parseResponse(text)
	if err != nil {
		return e, fmt.Errorf("describe %s: %w", e.Column, err)
	}
	e.Description = parsed.Description
	if e.Unit == "" {
		e.Unit = parsed.Unit
	}
	return e, nil
}

func parseResponse(text string) (responseSchema, error) {
	var parsed responseSchema
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		// A truncated or malformed answer usually comes out fine on a second
		// try; more attempts rarely help.
		return parsed, &core.LimitedTransientError{Err: fmt.Errorf("gemini: parse structured json: %w", err), ExtraRetries: 1}
	}
	parsed.Description = strings.TrimSpace(parsed.Description)
	parsed.Unit = strings.TrimSpace(parsed.Unit)
	if parsed.Description == "" {
		return parsed, errors.New("gemini: empty description")
	}
	return parsed, nil
}

func buildPrompt(e dictionary.Entry, samples []string) string {
	// Only column metadata and a few example values leave the process; never whole records.
	var b strings.Builder
	b.WriteString(strings.TrimSpace(`
You document columns of a cleaned health-records table for a data dictionary.

Return ONLY a single JSON object with these keys:
- description (string; one sentence, plain language)
- unit (string; unit of measure, or empty string when the column has none)

Rules:
- Describe what the column records, not how it was cleaned.
- Do not include extra keys.
`))
	fmt.Fprintf(&b, "\n\nColumn: %s\nType: %s\n", e.Column, e.InferredType)
	if len(e.AllowedValues) > 0 {
		fmt.Fprintf(&b, "Allowed values: %s\n", strings.Join(e.AllowedValues, ", "))
	}
	if len(samples) > 0 {
		fmt.Fprintf(&b, "Example values: %s\n", strings.Join(samples, ", "))
	}
	return b.String()
}

func classifyErr(err error) error {
	// Wrap transient failures so the worker pool will retry with backoff.
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Code/100 == 5 {
			return &core.TransientError{Err: err}
		}
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) && (ne.Timeout() || ne.Temporary()) {
		return &core.TransientError{Err: err}
	}
	return err
}
