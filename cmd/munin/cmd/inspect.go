package cmd

import (
	"github.com/spf13/cobra"

	"github.com/muninstore/munin/pkg/key"
	"github.com/muninstore/munin/pkg/messageformat"
	"github.com/muninstore/munin/pkg/segment"
)

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print record metadata at a segment offset",
	Long: `Parse the record at a byte offset and print its logical metadata
without touching its payload.

Examples:
  munin inspect --segment ./data/segment.log --offset 1070`,
	RunE: func(cmd *cobra.Command, args []string) error {
		segmentPath, _ := cmd.Flags().GetString("segment")
		offset, _ := cmd.Flags().GetInt64("offset")

		seg, err := segment.Open(segmentPath)
		if err != nil {
			return err
		}
		defer seg.Close()

		hd := messageformat.NewBlobStoreHardDelete(nil, log)
		info, err := hd.GetMessageInfo(seg, offset, key.BlobIDFactory{})
		if err != nil {
			return err
		}

		cmd.Printf("Key:     %s\n", info.Key)
		cmd.Printf("Size:    %d bytes\n", info.Size)
		cmd.Printf("Deleted: %v\n", info.Deleted)
		if !info.ExpiresAt.IsZero() {
			cmd.Printf("Expires: %s\n", info.ExpiresAt.UTC())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().String("segment", "", "Path to the segment file (required)")
	inspectCmd.Flags().Int64("offset", 0, "Record offset within the segment")
	inspectCmd.MarkFlagRequired("segment")
}
