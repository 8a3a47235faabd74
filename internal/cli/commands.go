package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"jobsync/internal/client"
	"jobsync/internal/models"
)

type VersionCmd struct{}

func (v *VersionCmd) Run(ctx *Context) error {
	_, err := fmt.Fprintln(ctx.Out, ctx.Version)
	return err
}

type ConfigCmd struct {
	Init InitConfigCmd `cmd:"" help:"Write a default config file."`
	Path PathConfigCmd `cmd:"" help:"Print config directory."`
}

type InitConfigCmd struct{}

type PathConfigCmd struct{}

func (c *InitConfigCmd) Run(ctx *Context) error {
	path, err := InitConfig()
	if err != nil {
		return err
	}
	if path == "" {
		ctx.UI.Infof("Config already initialized at %s", ctx.ConfigDir)
		return nil
	}
	ctx.UI.Infof("Created: %s", path)
	return nil
}

func (c *PathConfigCmd) Run(ctx *Context) error {
	_, err := fmt.Fprintln(ctx.Out, ctx.ConfigDir)
	return err
}

type ListCmd struct {
	Source  string `help:"Only this source."`
	Company string `help:"Company substring."`
	Search  string `help:"Title or company substring."`
	Sort    string `help:"Column to sort by (scraped_at, created_at, updated_at, company, title, source); prefix - for descending." default:"-scraped_at"`
	Limit   int    `help:"Page size." default:"50"`
	Offset  int    `help:"Rows to skip."`
}

func (c *ListCmd) Run(ctx *Context) error {
	page, err := ctx.Client.List(ctx.runContext(), client.ListQuery{
		Source:  c.Source,
		Company: c.Company,
		Search:  c.Search,
		Sort:    c.Sort,
		Limit:   c.Limit,
		Offset:  c.Offset,
	})
	if err != nil {
		return err
	}
	if ctx.JSONOutput {
		return writeJSON(ctx.Out, page.Postings)
	}
	if len(page.Postings) == 0 {
		ctx.UI.Infof("No postings.")
		return nil
	}
	rows := make([][]string, 0, len(page.Postings))
	for _, p := range page.Postings {
		rows = append(rows, []string{
			string(p.Source),
			p.Company,
			p.Title,
			ctx.UI.Muted(p.ScrapedAt.UTC().Format(time.DateTime)),
			ctx.UI.LinkText(p.JobURL),
		})
	}
	ctx.UI.Table([]string{"SOURCE", "COMPANY", "TITLE", "SCRAPED", "URL"}, rows)
	fmt.Fprintf(ctx.Err, "%d-%d of %d\n", page.Offset+1, page.Offset+len(page.Postings), page.Total)
	return nil
}

type StatsCmd struct{}

func (c *StatsCmd) Run(ctx *Context) error {
	stats, err := ctx.Client.Stats(ctx.runContext())
	if err != nil {
		return err
	}
	if ctx.JSONOutput {
		return writeJSON(ctx.Out, stats)
	}
	rows := make([][]string, 0, len(models.Sources))
	for _, src := range models.Sources {
		s, ok := stats.BySource[src]
		if !ok {
			continue
		}
		rows = append(rows, []string{string(src), strconv.FormatInt(s.Count, 10), s.LatestScrape.UTC().Format(time.DateTime)})
	}
	ctx.UI.Table([]string{"SOURCE", "COUNT", "LATEST"}, rows)
	ctx.UI.Infof("Total: %d", stats.Total)
	return nil
}

type DeleteCmd struct {
	ID string `arg:"" help:"Posting id."`
}

func (c *DeleteCmd) Run(ctx *Context) error {
	if err := ctx.Client.Delete(ctx.runContext(), c.ID); err != nil {
		return err
	}
	ctx.UI.Successf("Deleted %s", c.ID)
	return nil
}

type SyncCmd struct {
	Source string `help:"Only forward postings of this source."`
	Since  string `help:"Forward postings updated after this time (RFC3339 or YYYY-MM-DD) instead of the cursor."`
}

func (c *SyncCmd) Run(ctx *Context) error {
	since, err := parseSince(c.Since)
	if err != nil {
		return err
	}
	res, err := ctx.Client.Sync(ctx.runContext(), c.Source, since)
	if err != nil {
		return err
	}
	ctx.Logger.Debug().Int("synced", res.Synced).Int("failed", res.Failed).Msg("sync pass finished")
	if ctx.JSONOutput {
		return writeJSON(ctx.Out, res.PassResult)
	}
	if res.NoOp {
		ctx.UI.Infof("Nothing new to sync.")
		return nil
	}
	if res.Failed > 0 {
		ctx.UI.Warnf("Synced %d of %d; %d failed", res.Synced, res.Total, res.Failed)
	} else {
		ctx.UI.Successf("Synced %d of %d", res.Synced, res.Total)
	}
	pairs := []string{"total synced", strconv.FormatInt(res.TotalSyncedAllTime, 10)}
	if res.NextSyncFrom != nil {
		pairs = append(pairs, "next sync from", res.NextSyncFrom.UTC().Format(time.RFC3339))
	}
	if res.Report != "" {
		pairs = append(pairs, "report", res.Report)
	}
	ctx.UI.Fields(pairs...)
	return nil
}

type StatusCmd struct {
	Source string `help:"Show the cursor of this source's filtered passes."`
}

func (c *StatusCmd) Run(ctx *Context) error {
	st, err := ctx.Client.Status(ctx.runContext(), c.Source)
	if err != nil {
		return err
	}
	if ctx.JSONOutput {
		return writeJSON(ctx.Out, st)
	}
	last := "never"
	if st.LastSyncAt != nil {
		last = st.LastSyncAt.UTC().Format(time.RFC3339)
	}
	ctx.UI.Fields(
		"last sync", last,
		"last count", strconv.FormatInt(st.LastSyncCount, 10),
		"total synced", strconv.FormatInt(st.TotalSynced, 10),
		"pending", strconv.FormatInt(st.PendingJobs, 10),
	)
	return nil
}

type HealthCmd struct{}

func (c *HealthCmd) Run(ctx *Context) error {
	status, err := ctx.Client.Health(ctx.runContext())
	if err != nil {
		return err
	}
	if ctx.JSONOutput {
		return writeJSON(ctx.Out, map[string]string{"status": status})
	}
	ctx.UI.Successf("API %s", status)
	return nil
}

func parseSince(v string) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.DateOnly} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid --since %q: want RFC3339 or YYYY-MM-DD", v)
}
