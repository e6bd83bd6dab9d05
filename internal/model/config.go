package model

import (
	"io"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

const (
	HistoryFile   = "file"
	HistorySQLite = "sqlite"

	LogStderr  = "stderr"
	LogStdout  = "stdout"
	LogDiscard = "discard"

	DefaultListen        = "127.0.0.1:8390"
	DefaultNotifyTimeout = 5 * time.Second
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
}

type Config struct {
	Version int           `json:"version" yaml:"version"` // fixed 0 for now
	Server  Server        `json:"server" yaml:"server"`
	Catalog CatalogConfig `json:"catalog" yaml:"catalog"`
	History HistoryConfig `json:"history" yaml:"history"`
	Runs    Runs          `json:"runs" yaml:"runs"`
	Cron    CronConfig    `json:"cron" yaml:"cron"`
}

// Server configures the daemon process.
type Server struct {
	Listen        string   `json:"listen,omitempty" yaml:"listen"`
	Verbose       bool     `json:"verbose,omitempty" yaml:"verbose"`
	Log           string   `json:"log,omitempty" yaml:"log"` // "stderr"|"stdout"|"discard"|path
	NotifyTimeout Duration `json:"notify_timeout,omitempty" yaml:"notify_timeout"`
}

// CatalogConfig locates the Job and Task catalog, .toml selects TOML
// encoding, anything else is YAML.
type CatalogConfig struct {
	Path Path `json:"path,omitempty" yaml:"path"`
}

type HistoryConfig struct {
	Backend string `json:"backend,omitempty" yaml:"backend"` // "file"|"sqlite"
	Path    Path   `json:"path,omitempty" yaml:"path"`
}

// Runs configures how tasks are executed.
type Runs struct {
	Rsync  string `json:"rsync,omitempty" yaml:"rsync"`
	LogDir Path   `json:"log_dir,omitempty" yaml:"log_dir,omitempty"`
}

type CronConfig struct {
	Active bool `json:"active,omitempty" yaml:"active"`
}

// DefaultConfig returns the configuration used when there is no config
// file. dir is the directory for the catalog and the history.
func DefaultConfig(dir string) Config {
	return Config{
		Version: 0,
		Server: Server{
			Listen:        DefaultListen,
			Log:           LogStderr,
			NotifyTimeout: Duration(DefaultNotifyTimeout),
		},
		Catalog: CatalogConfig{Path: Path(filepath.Join(dir, "catalog.yaml"))},
		History: HistoryConfig{
			Backend: HistoryFile,
			Path:    Path(filepath.Join(dir, "history.log")),
		},
		Runs: Runs{Rsync: "rsync"},
		Cron: CronConfig{Active: true},
	}
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
// Missing values are taken from dflt.
func LoadConfig(r io.Reader, dflt Config) (Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return Config{}, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return Config{}, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return Config{}, err
	}
	// cron.active is the only boolean which defaults to true
	if !unified.LookupPath(cue.ParsePath("cron.active")).Exists() {
		out.Cron.Active = dflt.Cron.Active
	}

	return out.withDefaults(dflt), nil
}

func (c Config) withDefaults(d Config) Config {
	c.Server.Listen = or(c.Server.Listen, d.Server.Listen)
	c.Server.Log = or(c.Server.Log, d.Server.Log)
	c.Server.NotifyTimeout = or(c.Server.NotifyTimeout, d.Server.NotifyTimeout)
	c.Catalog.Path = or(c.Catalog.Path, d.Catalog.Path)
	c.History.Backend = or(c.History.Backend, d.History.Backend)
	c.History.Path = or(c.History.Path, d.History.Path)
	c.Runs.Rsync = or(c.Runs.Rsync, d.Runs.Rsync)
	c.Runs.LogDir = or(c.Runs.LogDir, d.Runs.LogDir)
	return c
}

func or[T comparable](v, dflt T) T {
	var zero T
	if v == zero {
		return dflt
	}
	return v
}
