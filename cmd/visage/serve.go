package main

import (
	"github.com/esimov/visage"
	"github.com/esimov/visage/server"
	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the analysis API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := a.cfg.Options(a.log)
			if err != nil {
				return err
			}
			p, err := visage.NewPipeline(opts)
			if err != nil {
				return err
			}
			if opts.Remover != nil {
				defer opts.Remover.Close()
			}

			srv := server.New(p, server.Config{
				Addr:           a.cfg.Server.Addr,
				CORSOrigins:    a.cfg.Server.CORSOrigins,
				MaxUploadBytes: a.cfg.Server.MaxUploadMB << 20,
			}, a.log)
			return srv.ListenAndServe(cmd.Context())
		},
	}
	cmd.Flags().String("addr", ":8080", "Listen address")
	a.bind(cmd, "server.addr", "addr")
	return cmd
}
