package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot(newCommand(os.Stdout))
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and its subcommands
func buildRoot(c *command) *cobra.Command {
	root := createRootCommand(c.global)
	root.AddCommand(
		createSetCommand(c),
		createGetCommand(c),
		createListCommand(c),
		createServeCommand(c),
	)
	return root
}

// createRootCommand creates the root command with persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "kvlet",
		Short: "Key-value state store with HTTP notifications",
		Long: `kvlet keeps a durable record per key. Setting a new state can notify a
registered endpoint with one HTTP call whose result is stored on the record.

Examples:
  kvlet set -k job-1 -s running
  kvlet set -k job-1 -s done -m post -u http://hooks.local/jobs
  kvlet get -k job-1
  kvlet list -n 20 -s done
  kvlet serve --listen :8080`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	pf.StringVar(&flags.Home, "home", "", "directory holding kvlet.db and log/ (env KVLET_HOME)")
	pf.StringVar(&flags.DSN, "dsn", "", "store DSN, e.g. postgres://... (env KVLET_DSN)")
	pf.StringVar(&flags.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVarP(&flags.Output, "output", "o", "table", "output format: table or json")
	pf.DurationVar(&flags.Timeout, "timeout", 0, "notification request timeout (default from config, 10s)")
	pf.StringVar(&flags.APIUrl, "api-url", "", "use a running kvlet server (e.g. http://host:8080/api)")
	pf.StringVar(&flags.APICACert, "api-ca-cert", "", "CA certificate trusted for an https --api-url")

	return root
}

func createSetCommand(c *command) *cobra.Command {
	f := &SetFlags{}
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Write a new state for a key",
		Long: `Write a new state for a key, creating the record when needed.
Omitted info and target keep their stored values. When the resolved target
is GET or POST, the endpoint is called once and its response is stored.

Examples:
  kvlet set -k job-1 -s done
  kvlet set -k job-1 -s done -i "42 rows" -m get -u "http://hooks.local/cb?token=x"
  kvlet set -k job-1 -s paused -m none      # keep the key quiet from now on`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Set(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVarP(&f.Key, "key", "k", "", "record key (required)")
	cmd.Flags().StringVarP(&f.State, "state", "s", "", "new state (required)")
	cmd.Flags().StringVarP(&f.Info, "info", "i", "", "optional free-form detail")
	cmd.Flags().StringVarP(&f.Method, "method", "m", "", "notification method: get, post or none")
	cmd.Flags().StringVarP(&f.URL, "url", "u", "", "notification endpoint (absolute http/https URL)")
	mustRequire(cmd, "key", "state")
	return cmd
}

func createGetCommand(c *command) *cobra.Command {
	f := &GetFlags{}
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Show the record for a key",
		Long: `Show the record for a key. With --method/--url the stored notification
target is replaced first; get never calls the endpoint.

Examples:
  kvlet get -k job-1
  kvlet get -k job-1 -m post -u http://hooks.local/jobs`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Get(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVarP(&f.Key, "key", "k", "", "record key (required)")
	cmd.Flags().StringVarP(&f.Method, "method", "m", "", "replace target method: get, post or none")
	cmd.Flags().StringVarP(&f.URL, "url", "u", "", "replace target endpoint")
	mustRequire(cmd, "key")
	return cmd
}

func createListCommand(c *command) *cobra.Command {
	f := &ListFlags{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the newest records",
		Long: `List records newest first.

Examples:
  kvlet list
  kvlet list -n 50 -s failed -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.List(cmd.Context(), *f)
		},
	}
	cmd.Flags().IntVarP(&f.Num, "num", "n", 10, "maximum number of records")
	cmd.Flags().StringVarP(&f.State, "state", "s", "", "only records in this exact state")
	return cmd
}

func createServeCommand(c *command) *cobra.Command {
	f := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve set/get/list over HTTP with Prometheus metrics at /metrics.

Examples:
  kvlet serve
  kvlet serve --listen :9090 --base /kv --config kvlet.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Serve(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Listen, "listen", "", "listen address (default from config, 127.0.0.1:8080)")
	cmd.Flags().StringVar(&f.Base, "base", "", "API base path (default from config, /api)")
	return cmd
}

func mustRequire(cmd *cobra.Command, names ...string) {
	for _, n := range names {
		if err := cmd.MarkFlagRequired(n); err != nil {
			panic(err)
		}
	}
}
