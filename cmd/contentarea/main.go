// contentarea renders and inspects content area meta fields from the
// command line, using a YAML fixture in place of the CMS database.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/dannyswat/contentarea"
	"github.com/dannyswat/contentarea/internal/boltmeta"
)

type globalOptions struct {
	Config   string `long:"config" short:"c" default:"contentarea.yaml" description:"configuration file"`
	LogLevel string `long:"log-level" description:"override the configured log level"`
}

var global globalOptions

type fixtureRecord struct {
	Ref                    contentarea.EntityRef `yaml:"ref"`
	contentarea.RecordData `yaml:",inline"`
}

type fixture struct {
	Records []fixtureRecord `yaml:"records"`
}

func loadFixture(path string, store *contentarea.MemoryStore) ([]contentarea.EntityRef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var f fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	refs := make([]contentarea.EntityRef, 0, len(f.Records))
	for _, r := range f.Records {
		store.Receive(r.Ref, r.RecordData)
		refs = append(refs, r.Ref)
	}
	return refs, nil
}

func setup() (*contentarea.Config, *logrus.Logger, error) {
	cfg, err := contentarea.LoadConfig(global.Config)
	if err != nil {
		return nil, nil, err
	}
	if global.LogLevel != "" {
		cfg.LogLevel = global.LogLevel
	}
	logger := cfg.NewLogger()
	logger.SetOutput(os.Stderr)
	return cfg, logger, nil
}

type parseCommand struct {
	Args struct {
		File string `positional-arg-name:"file" description:"block markup file, - for stdin"`
	} `positional-args:"yes" required:"yes"`
}

func (c *parseCommand) Execute(_ []string) error {
	var (
		data []byte
		err  error
	)
	if c.Args.File == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(c.Args.File)
	}
	if err != nil {
		return err
	}
	blocks, err := contentarea.Parse(string(data))
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(blocks)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}

type renderCommand struct {
	Store    string `long:"store" short:"s" description:"YAML fixture with records"`
	DB       string `long:"db" description:"bolt file written by the publish command"`
	Post     int64  `long:"post" short:"p" required:"yes" description:"post id"`
	Key      string `long:"key" short:"k" description:"meta key, defaults to the instance or extra_content_area"`
	Instance string `long:"instance" short:"i" description:"configured instance to take attributes from"`
}

func (c *renderCommand) Execute(_ []string) error {
	if (c.Store == "") == (c.DB == "") {
		return fmt.Errorf("exactly one of --store and --db is required")
	}
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	attrs := contentarea.BlockAttributes{MetaKey: contentarea.DefaultMetaKey}
	if c.Instance != "" {
		inst, ok := cfg.Instance(c.Instance)
		if !ok {
			return fmt.Errorf("unknown instance %q", c.Instance)
		}
		attrs = inst
	}
	if c.Key != "" {
		attrs.MetaKey = c.Key
	}

	metrics := contentarea.NewMetrics(prometheus.NewRegistry())
	var meta contentarea.MetaReader
	if c.DB != "" {
		db, err := boltmeta.Open(c.DB, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		meta = db
	} else {
		store := contentarea.NewMemoryStore(
			contentarea.WithStoreLogger(logger),
			contentarea.WithStoreMetrics(metrics),
		)
		if _, err := loadFixture(c.Store, store); err != nil {
			return err
		}
		meta = store
	}
	renderer := contentarea.NewRenderer(meta,
		contentarea.WithDebugDisplay(cfg.Debug.Display),
		contentarea.WithRendererLogger(logger),
		contentarea.WithRendererMetrics(metrics),
	)
	fmt.Println(renderer.Render(context.Background(), c.Post, attrs))
	return nil
}

type publishCommand struct {
	Store string `long:"store" short:"s" required:"yes" description:"YAML fixture with records"`
	DB    string `long:"db" required:"yes" description:"bolt file to write"`
}

func (c *publishCommand) Execute(_ []string) error {
	_, logger, err := setup()
	if err != nil {
		return err
	}
	db, err := boltmeta.Open(c.DB, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	store := contentarea.NewMemoryStore(
		contentarea.WithStoreLogger(logger),
		contentarea.WithPublisher(db),
	)
	refs, err := loadFixture(c.Store, store)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		if err := store.Save(ref); err != nil {
			return err
		}
	}
	logger.WithField("action", "publish").
		WithField("records", len(refs)).
		Info("fixture published")
	return nil
}

type filterCommand struct {
	Instance string `long:"instance" short:"i" required:"yes" description:"configured instance"`
}

func (c *filterCommand) Execute(_ []string) error {
	cfg, _, err := setup()
	if err != nil {
		return err
	}
	attrs, ok := cfg.Instance(c.Instance)
	if !ok {
		return fmt.Errorf("unknown instance %q", c.Instance)
	}
	fmt.Printf("meta key:        %s\n", attrs.MetaKey)
	fmt.Printf("insertable:      %s\n", strings.Join(attrs.Filter.Resolve(cfg.KnownVariants), ", "))
	fmt.Printf("default variant: %s\n", attrs.Filter.DefaultVariantOr(cfg.KnownVariants, cfg.DefaultVariant))
	return nil
}

func main() {
	parser := flags.NewParser(&global, flags.Default)
	parser.AddCommand("parse", "Parse block markup", "Print the block tree of a markup file as YAML.", &parseCommand{})
	parser.AddCommand("render", "Render a content area", "Render the published meta field of a post to HTML.", &renderCommand{})
	parser.AddCommand("publish", "Publish a fixture", "Write the records of a YAML fixture into a bolt file.", &publishCommand{})
	parser.AddCommand("filter", "Show an instance's block filter", "Print the insertable variants of a configured instance.", &filterCommand{})

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
