// Package cli implements the jobsync command line: submitting harvested postings and
// driving sync passes against a running API.
package cli

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"

	"jobsync/internal/client"
	"jobsync/internal/ui"
)

type CLI struct {
	Color   string `help:"Color output: auto, always, never." enum:"auto,always,never" default:"auto"`
	JSON    bool   `help:"JSON output to stdout; disables colors."`
	Verbose bool   `help:"Enable debug logging."`
	APIURL  string `name:"api-url" help:"API base URL (overrides config)."`
	APIKey  string `name:"api-key" help:"API key (overrides config)."`

	VersionFlag kong.VersionFlag `help:"Print version."`

	Version VersionCmd `cmd:"" help:"Print version."`
	Config  ConfigCmd  `cmd:"" help:"Manage configuration."`
	Submit  SubmitCmd  `cmd:"" help:"Submit postings from a JSON file or stdin."`
	List    ListCmd    `cmd:"" help:"List stored postings."`
	Stats   StatsCmd   `cmd:"" help:"Show per-source counts."`
	Delete  DeleteCmd  `cmd:"" help:"Delete a posting by id."`
	Sync    SyncCmd    `cmd:"" help:"Run a sync pass now."`
	Status  StatusCmd  `cmd:"" help:"Show the sync cursor and backlog."`
	Health  HealthCmd  `cmd:"" help:"Check the API and its store."`
}

// Context is handed to every command's Run. Ctx is cancelled on interrupt.
type Context struct {
	Ctx        context.Context
	In         io.Reader
	Out        io.Writer
	Err        io.Writer
	UI         *ui.UI
	Config     Config
	ConfigDir  string
	Logger     zerolog.Logger
	JSONOutput bool
	Version    string
	Client     *client.Client
}

// NewClient builds the API client from config and flag overrides.
func (c *CLI) NewClient(cfg Config) *client.Client {
	url, key := cfg.APIURL, cfg.APIKey
	if c.APIURL != "" {
		url = c.APIURL
	}
	if c.APIKey != "" {
		key = c.APIKey
	}
	return client.New(url, key, time.Duration(cfg.TimeoutSeconds)*time.Second)
}

func (c *Context) runContext() context.Context {
	if c.Ctx == nil {
		return context.Background()
	}
	return c.Ctx
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
