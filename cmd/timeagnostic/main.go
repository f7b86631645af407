package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/coolbeans/timeagnostic/pkg/agnostic"
	"github.com/coolbeans/timeagnostic/pkg/config"
	"github.com/coolbeans/timeagnostic/pkg/errors"
	"github.com/coolbeans/timeagnostic/pkg/instant"
	"github.com/coolbeans/timeagnostic/pkg/logger"
	"github.com/coolbeans/timeagnostic/pkg/server"
	"github.com/coolbeans/timeagnostic/pkg/sparql"
	"github.com/coolbeans/timeagnostic/pkg/store"
	"github.com/coolbeans/timeagnostic/pkg/textsearch"
	"github.com/coolbeans/timeagnostic/pkg/timeline"
)

var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if hint := errors.FlattenHints(err); hint != "" {
			fmt.Fprintln(os.Stderr, "hint:", hint)
		}
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "timeagnostic",
		Short: "Time-travel queries over provenance-tracked RDF stores",
		Long: `Timeagnostic reconstructs past states of entities whose changes are
recorded as provenance snapshots, and runs SPARQL queries across time.

It answers:
  - the full history of an entity, optionally with related entities
  - the state of an entity at an instant or within an interval
  - a SELECT query evaluated at every instant the data changed
  - which matching entities were created, modified or deleted`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initLogging(cmd)
		},
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (TOML, YAML or JSON; default ./"+config.DefaultFile+")")
	rootCmd.PersistentFlags().StringP("format", "f", "json", "Output format: json, yaml, nquads, trig, rdfxml, dot, table, csv")
	rootCmd.PersistentFlags().Bool("log-json", false, "Log as JSON")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(stateCmd())
	rootCmd.AddCommand(queryCmd())
	rootCmd.AddCommand(deltaCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
	return rootCmd
}

// initLogging applies the log flags, falling back to the config file
// when it can be read. Logging must be set before engines are built.
func initLogging(cmd *cobra.Command) error {
	level, _ := cmd.Flags().GetString("log-level")
	asJSON, _ := cmd.Flags().GetBool("log-json")

	path, _ := cmd.Flags().GetString("config")
	if cfg, err := config.Load(path); err == nil {
		if level == "" {
			level = cfg.Log.Level
		}
		if !cmd.Flags().Changed("log-json") {
			asJSON = cfg.Log.JSON
		}
	}
	if level == "" {
		level = "warn"
	}
	return logger.Initialize(asJSON, level)
}

// app is everything a command needs, built from the configuration.
type app struct {
	cfg        *config.Config
	dataset    *sparql.Opened
	provenance *sparql.Opened
	timeline   *timeline.Engine
	engine     *agnostic.Engine
}

func loadApp(cmd *cobra.Command) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	dataset, err := sparql.Open(cfg.Dataset.Source("dataset"), cfg.HTTPOptions()...)
	if err != nil {
		return nil, err
	}
	provenance, err := sparql.Open(cfg.Provenance.Source("provenance"), cfg.HTTPOptions()...)
	if err != nil {
		return nil, err
	}

	cache, err := instant.NewCache(cfg.InstantCacheSize)
	if err != nil {
		return nil, err
	}
	tl, err := timeline.NewEngine(dataset.Client, provenance.Client,
		timeline.WithQuadstores(cfg.Dataset.IsQuadstore, cfg.Provenance.IsQuadstore),
		timeline.WithParallelism(cfg.Pool()),
		timeline.WithInstantCache(cache),
	)
	if err != nil {
		return nil, err
	}

	search, err := textsearch.New(provenance.Client, cfg.SearchSelection())
	if err != nil {
		return nil, err
	}
	engine, err := agnostic.NewEngine(tl, search)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, dataset: dataset, provenance: provenance, timeline: tl, engine: engine}, nil
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <entity-uri>",
		Short: "Reconstruct every past state of an entity",
		Long: `Reconstruct the state of an entity at every instant a snapshot was
generated, newest state first undone back to creation.

Examples:
  timeagnostic history https://w3id.org/oc/meta/br/0601
  timeagnostic history --prov https://w3id.org/oc/meta/br/0601
  timeagnostic history --related objects,merged --depth 2 https://w3id.org/oc/meta/br/0601
  timeagnostic history --format trig https://w3id.org/oc/meta/br/0601`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			discovery, err := discoveryFlags(cmd)
			if err != nil {
				return err
			}

			var doc *server.EntityDocument
			if discovery.Any() {
				merged, err := a.timeline.HistoryWithRelated(cmd.Context(), args[0], discovery)
				if err != nil {
					return err
				}
				doc = server.MergedHistoryDocument(merged)
			} else {
				h, err := a.timeline.History(cmd.Context(), args[0], timeline.HistoryOptions{IncludeMetadata: discovery.IncludeMetadata})
				if err != nil {
					return err
				}
				doc = server.HistoryDocument(h)
			}
			return writeEntity(cmd, doc)
		},
	}
	addDiscoveryFlags(cmd)
	return cmd
}

func stateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state <entity-uri>",
		Short: "Reconstruct an entity at an instant or within an interval",
		Long: `Reconstruct the states of an entity whose snapshots fall within
[--after, --before]. When no snapshot falls within the interval, the state
in force at --after is returned.

Examples:
  timeagnostic state --after 2021-06-01 --before 2021-06-01 https://w3id.org/oc/meta/br/0601
  timeagnostic state --after 2021-05-31T18:19:47Z https://w3id.org/oc/meta/br/0601`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			discovery, err := discoveryFlags(cmd)
			if err != nil {
				return err
			}
			iv, err := intervalFlags(cmd)
			if err != nil {
				return err
			}

			var doc *server.EntityDocument
			if discovery.Any() {
				merged, err := a.timeline.StateAtWithRelated(cmd.Context(), args[0], iv, discovery)
				if err != nil {
					return err
				}
				doc = server.MergedStateDocument(merged)
			} else {
				st, err := a.timeline.StateAt(cmd.Context(), args[0], iv, discovery.IncludeMetadata)
				if err != nil {
					return err
				}
				doc = server.StateDocument(st)
			}
			return writeEntity(cmd, doc)
		},
	}
	addDiscoveryFlags(cmd)
	addIntervalFlags(cmd)
	return cmd
}

func queryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <sparql-select>",
		Short: "Evaluate a SELECT query at every instant",
		Long: `Evaluate a SPARQL SELECT query against every past state of the data
it touches. Results are grouped by instant.

Examples:
  timeagnostic query 'SELECT ?t WHERE { <https://w3id.org/oc/meta/br/0601> <http://purl.org/dc/terms/title> ?t }'
  timeagnostic query --after 2021-01-01 --before 2021-12-31 --fill-gaps --format table '...'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			iv, err := intervalFlags(cmd)
			if err != nil {
				return err
			}
			var opts []agnostic.Option
			if !iv.IsZero() {
				opts = append(opts, agnostic.WithInterval(iv))
			}
			if fill, _ := cmd.Flags().GetBool("fill-gaps"); fill {
				opts = append(opts, agnostic.WithGapFilling())
			}

			vq, err := a.engine.VersionQuery(args[0], opts...)
			if err != nil {
				return err
			}
			res, err := vq.Run(cmd.Context())
			if err != nil {
				return err
			}
			return writeVersions(cmd, res)
		},
	}
	addIntervalFlags(cmd)
	cmd.Flags().Bool("fill-gaps", false, "Report results at every snapshot instant, carrying the last answer forward")
	return cmd
}

func deltaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delta <sparql-select>",
		Short: "List creations, modifications and deletions of matching entities",
		Long: `Find the entities a SELECT query touches, now or in the past, and
report when each was created, modified and deleted.

Examples:
  timeagnostic delta 'SELECT ?br WHERE { ?br a <http://purl.org/spar/fabio/Expression> }'
  timeagnostic delta --property http://purl.org/dc/terms/title --after 2021-06-01 '...'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			iv, err := intervalFlags(cmd)
			if err != nil {
				return err
			}
			var opts []agnostic.Option
			if !iv.IsZero() {
				opts = append(opts, agnostic.WithInterval(iv))
			}
			if props, _ := cmd.Flags().GetStringSlice("property"); len(props) > 0 {
				opts = append(opts, agnostic.WithChangedProperties(props...))
			}

			dq, err := a.engine.DeltaQuery(args[0], opts...)
			if err != nil {
				return err
			}
			deltas, warnings, err := dq.Run(cmd.Context())
			if err != nil {
				return err
			}
			return writeDeltas(cmd, server.NewDeltaDocument(deltas, warnings))
		},
	}
	addIntervalFlags(cmd)
	cmd.Flags().StringSlice("property", nil, "Only report modifications that touch these property IRIs")
	return cmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve history, state, version and delta queries over HTTP.

With --watch, file-backed stores are reloaded when their files change.

Examples:
  timeagnostic serve --addr :8080
  timeagnostic serve --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			addr := a.cfg.Server.Addr
			if cmd.Flags().Changed("addr") {
				addr, _ = cmd.Flags().GetString("addr")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if watch, _ := cmd.Flags().GetBool("watch"); watch {
				for _, s := range []struct {
					opened *sparql.Opened
					cfg    config.StoreConfig
				}{
					{a.dataset, a.cfg.Dataset},
					{a.provenance, a.cfg.Provenance},
				} {
					if err := watchStore(ctx, s.opened, s.cfg.FilePaths); err != nil {
						return err
					}
				}
			}

			srv, err := server.New(a.engine, server.WithQueryTimeout(a.cfg.Server.QueryTimeout))
			if err != nil {
				return err
			}
			return srv.ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().String("addr", ":8080", "Listen address")
	cmd.Flags().Bool("watch", false, "Reload file-backed stores when their files change")
	return cmd
}

// watchStore swaps a file-backed store whenever its files change. Remote
// stores are left alone.
func watchStore(ctx context.Context, opened *sparql.Opened, paths []string) error {
	if opened.Local == nil || len(paths) == 0 {
		return nil
	}
	w, err := store.NewWatcher(paths, store.NewLoader())
	if err != nil {
		return err
	}
	w.OnReload(opened.Local.Swap)
	go w.Run(ctx)
	return nil
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or inspect the configuration",
	}

	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write an example configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultFile
			if len(args) > 0 {
				path = args[0]
			}
			force, _ := cmd.Flags().GetBool("force")
			if _, err := os.Stat(path); err == nil && !force {
				return errors.WithHint(errors.Newf("%s already exists", path), "use --force to overwrite it")
			}
			if err := config.Write(path, config.Example()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().Bool("force", false, "Overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			format, _ := cmd.Flags().GetString("format")
			if format == "toml" {
				data, err := config.Marshal(cfg)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			return writeStructured(cmd, format, cfg)
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}

func addDiscoveryFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("prov", false, "Include snapshot metadata")
	cmd.Flags().StringSlice("related", nil, "Join related entities: objects, merged, reverse")
	cmd.Flags().Int("depth", 0, "Bound related-entity discovery (default unlimited)")
}

func discoveryFlags(cmd *cobra.Command) (timeline.DiscoveryOptions, error) {
	kinds, _ := cmd.Flags().GetStringSlice("related")
	opts, err := timeline.ParseDiscovery(kinds)
	if err != nil {
		return opts, err
	}
	if cmd.Flags().Changed("depth") {
		depth, _ := cmd.Flags().GetInt("depth")
		if depth < 0 {
			return opts, errors.Wrapf(errors.ErrInvalidInput, "--depth must be >= 0, got %d", depth)
		}
		opts.Depth = depth
	}
	opts.IncludeMetadata, _ = cmd.Flags().GetBool("prov")
	return opts, nil
}

func addIntervalFlags(cmd *cobra.Command) {
	cmd.Flags().String("after", "", "Lower bound, inclusive (e.g. 2021-05-31 or 2021-05-31T18:19:47Z)")
	cmd.Flags().String("before", "", "Upper bound, inclusive")
}

func intervalFlags(cmd *cobra.Command) (timeline.Interval, error) {
	after, _ := cmd.Flags().GetString("after")
	before, _ := cmd.Flags().GetString("before")
	return timeline.ParseInterval(strings.TrimSpace(after), strings.TrimSpace(before))
}
