package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/forest-sync/internal/api"
	"github.com/joeblew999/forest-sync/internal/config"
	"github.com/joeblew999/forest-sync/internal/format"
	"github.com/joeblew999/forest-sync/internal/geometry"
	"github.com/joeblew999/forest-sync/internal/logging"
	"github.com/joeblew999/forest-sync/internal/server"
)

// Options defines the CLI flags and env vars.
// Flags: --config, --port
// Env vars: SERVICE_CONFIG, SERVICE_PORT
// Everything else is read by the config package (FORESTSYNC_*).
type Options struct {
	Config string `doc:"Path to a YAML config file"`
	Port   int    `doc:"Port to listen on; overrides the config" short:"p"`
}

func load(opts *Options) (*config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, err
	}
	if opts.Port != 0 {
		cfg.Server.Port = opts.Port
	}
	return cfg, nil
}

func newServer(opts *Options) (*server.Server, error) {
	cfg, err := load(opts)
	if err != nil {
		return nil, err
	}
	log := logging.Setup(cfg.Log.Level, cfg.Log.Format)
	return server.New(cfg, log)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

		hooks.OnStart(func() {
			defer stop()
			srv, err := newServer(opts)
			if err != nil {
				fatal(err)
			}
			defer srv.Close()

			if err := srv.Start(ctx); err != nil {
				fatal(err)
			}

			baseURL := srv.BaseURL()
			fmt.Println()
			fmt.Printf("forest-sync server starting...\n")
			fmt.Printf("  Map:     %s/\n", baseURL)
			fmt.Printf("  Docs:    %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI: %s/openapi.json\n", baseURL)
			fmt.Printf("  Metrics: %s/metrics\n", baseURL)
			fmt.Println()

			if err := srv.ListenAndServe(ctx); err != nil {
				fatal(err)
			}
		})
		hooks.OnStop(stop)
	})

	cli.Root().Use = "forestsync"
	cli.Root().Short = "Carbon sink map and registry server"
	cli.Root().Version = api.Version

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			srv, err := newServer(opts)
			if err != nil {
				fatal(err)
			}
			defer srv.Close()
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fatal(fmt.Errorf("marshal spec: %w", err))
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// area subcommand: label point and area of a polygon, as the drawing tool shows them
	areaCmd := &cobra.Command{
		Use:   "area [polygon.json]",
		Short: "Compute area and label point of a polygon given as [[lat, lng], ...]",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := os.Stdin
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			var polygon geometry.Polygon
			if err := json.NewDecoder(in).Decode(&polygon); err != nil {
				return fmt.Errorf("read polygon: %w", err)
			}
			m, err := geometry.Metrics(polygon)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "area:  %s\nlabel: %.6f, %.6f\n",
				format.AreaLabel(m.AreaHectares), m.CentroidLabelPoint.Lat, m.CentroidLabelPoint.Lng)
			return nil
		},
	}
	cli.Root().AddCommand(areaCmd)

	cli.Run()
}
