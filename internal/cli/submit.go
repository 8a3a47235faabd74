package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"jobsync/internal/ingest"
)

type SubmitCmd struct {
	File      string `arg:"" optional:"" help:"JSON file holding one posting or an array of postings; stdin when omitted or '-'."`
	Source    string `help:"Source to set on postings that lack one (defaults to config default_source)."`
	BatchSize int    `name:"batch-size" default:"100" help:"Postings per batch request."`
}

// SubmitReport totals every batch sent by one submit run.
type SubmitReport struct {
	Submitted int                `json:"submitted"`
	Created   int                `json:"created"`
	Updated   int                `json:"updated"`
	Failed    int                `json:"failed"`
	Errors    []ingest.ItemError `json:"errors"`
}

func (c *SubmitCmd) Run(ctx *Context) error {
	data, err := c.read(ctx.In)
	if err != nil {
		return err
	}
	items, err := decodeRecords(data)
	if err != nil {
		return err
	}
	source := c.Source
	if source == "" {
		source = ctx.Config.DefaultSource
	}
	if source != "" {
		for _, it := range items {
			if _, ok := it["source"]; !ok {
				it["source"] = source
			}
		}
	}

	size := c.BatchSize
	if size <= 0 || size > ingest.DefaultMaxBatch {
		size = ingest.DefaultMaxBatch
	}
	runCtx := ctx.runContext()
	report := SubmitReport{Errors: []ingest.ItemError{}}
	for start := 0; start < len(items); start += size {
		if err := runCtx.Err(); err != nil {
			return fmt.Errorf("submit stopped after %d postings: %w", report.Submitted, err)
		}
		end := min(start+size, len(items))
		ctx.Logger.Debug().Int("from", start).Int("to", end).Msg("submitting batch")
		sum, err := ctx.Client.SubmitBatch(runCtx, items[start:end])
		if err != nil {
			return fmt.Errorf("batch %d-%d: %w", start, end-1, err)
		}
		report.Submitted += end - start
		report.Created += sum.Created
		report.Updated += sum.Updated
		report.Failed += sum.Failed
		for _, e := range sum.Errors {
			e.Index += start
			report.Errors = append(report.Errors, e)
		}
	}

	if ctx.JSONOutput {
		return writeJSON(ctx.Out, report)
	}
	ctx.UI.Successf("Submitted %d: %d created, %d updated, %d failed", report.Submitted, report.Created, report.Updated, report.Failed)
	for _, e := range report.Errors {
		ctx.UI.Warnf("  #%d %s: %s", e.Index, e.JobURL, e.Error)
	}
	return nil
}

func (c *SubmitCmd) read(stdin io.Reader) ([]byte, error) {
	if c.File == "" || c.File == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(c.File)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", c.File, err)
	}
	return data, nil
}

// decodeRecords accepts a single object, an array, or {"jobs": [...]}.
func decodeRecords(data []byte) ([]map[string]any, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("no input")
	}
	if data[0] == '[' {
		var items []map[string]any
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("decode postings: %w", err)
		}
		if len(items) == 0 {
			return nil, fmt.Errorf("no postings in input")
		}
		for i, it := range items {
			if it == nil {
				return nil, fmt.Errorf("postings[%d] is null", i)
			}
		}
		return items, nil
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("decode posting: %w", err)
	}
	if jobs, ok := obj["jobs"].([]any); ok {
		items := make([]map[string]any, 0, len(jobs))
		for i, j := range jobs {
			m, ok := j.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("jobs[%d] is not an object", i)
			}
			items = append(items, m)
		}
		if len(items) == 0 {
			return nil, fmt.Errorf("no postings in input")
		}
		return items, nil
	}
	return []map[string]any{obj}, nil
}
