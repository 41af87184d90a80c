package cmd

import (
	"github.com/spf13/cobra"

	"github.com/muninstore/munin/pkg/api"
	"github.com/muninstore/munin/pkg/index"
	"github.com/muninstore/munin/pkg/key"
	"github.com/muninstore/munin/pkg/messageformat"
	"github.com/muninstore/munin/pkg/segment"
	"github.com/muninstore/munin/pkg/store"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the operational HTTP listener",
	Long: `Start the ops listener: Prometheus metrics on /metrics, health on
/healthz, and record metadata lookups on /records/{offset}.

Lookups are served from the metadata index when one is configured, falling
back to parsing the segment directly.

Examples:
  munin serve --segment ./data/segment.log`,
	RunE: func(cmd *cobra.Command, args []string) error {
		segmentPath, _ := cmd.Flags().GetString("segment")

		seg, err := segment.Open(segmentPath)
		if err != nil {
			return err
		}
		defer seg.Close()

		var meta store.MetadataSource
		if cfg.IndexPath != "" {
			idx, err := index.Open(cfg.IndexPath)
			if err != nil {
				return err
			}
			defer idx.Close()
			meta = idx
		}

		hd := messageformat.NewBlobStoreHardDelete(meta, log)

		server := api.NewServer(hd, seg, key.BlobIDFactory{}, api.ServerConfig{
			Bind: cfg.Ops.Bind,
			Port: cfg.Ops.Port,
		})
		log.WithField("addr", cfg.Ops.Bind).WithField("port", cfg.Ops.Port).Info("starting ops listener")
		return server.ListenAndServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("segment", "", "Path to the segment file (required)")
	serveCmd.MarkFlagRequired("segment")
}
