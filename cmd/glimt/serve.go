package main

import (
	"github.com/spf13/cobra"

	"pkt.systems/glimt"
	"pkt.systems/pslog"
)

// NewServeCommand builds the broker server command.
func NewServeCommand(loader *glimt.Loader) *cobra.Command {
	v := loader.Viper()
	v.SetDefault("server.listen", glimt.DefaultListenAddr)
	v.SetDefault("server.request_ttl", glimt.DefaultRequestTTL)
	v.SetDefault("server.multi_grant", false)

	var bindErr error

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Glimt broker server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if bindErr != nil {
				return bindErr
			}
			cfg, err := loader.Load()
			if err != nil {
				return err
			}

			logger := pslog.Ctx(cmd.Context()).With("component", "serve")
			return glimt.Serve(cmd.Context(), glimt.ServeOptions{
				Config: cfg,
				Logger: logger,
			})
		},
	}

	flags := cmd.Flags()
	flags.String("listen", glimt.DefaultListenAddr, "listen address for the broker")
	flags.String("request-ttl", glimt.DefaultRequestTTL, "ttl for pending screen-access requests")
	flags.Bool("multi-grant", false, "allow multiple simultaneous viewers per agent")
	flags.String("tls-cert", "", "path to TLS certificate file")
	flags.String("tls-key", "", "path to TLS key file")

	bind := func(key, name string) {
		if bindErr != nil {
			return
		}
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			bindErr = err
		}
	}

	bind("server.listen", "listen")
	bind("server.request_ttl", "request-ttl")
	bind("server.multi_grant", "multi-grant")
	bind("server.tls.cert_file", "tls-cert")
	bind("server.tls.key_file", "tls-key")

	return cmd
}
