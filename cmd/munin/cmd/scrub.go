package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/muninstore/munin/pkg/key"
	"github.com/muninstore/munin/pkg/messageformat"
	"github.com/muninstore/munin/pkg/recovery"
	"github.com/muninstore/munin/pkg/segment"
	"github.com/muninstore/munin/pkg/sweep"
)

// scrubCmd represents the scrub command
var scrubCmd = &cobra.Command{
	Use:   "scrub",
	Short: "Run a hard-delete sweep over a segment",
	Long: `Run a hard-delete sweep over one segment. Candidates are read from a
text file with one record per line:

  <offset> <size> <blob-id>

The sweep overwrites each candidate in place with a zero-filled replacement
and journals its progress, so an interrupted scrub resumes where it stopped.

Examples:
  munin scrub --segment ./data/segment.log --candidates ./deleted.txt`,
	RunE: func(cmd *cobra.Command, args []string) error {
		segmentPath, _ := cmd.Flags().GetString("segment")
		candidatesPath, _ := cmd.Flags().GetString("candidates")

		entries, err := loadCandidates(candidatesPath)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			cmd.Println("No candidates to scrub")
			return nil
		}

		lock, err := segment.LockDir(filepath.Dir(segmentPath))
		if err != nil {
			return err
		}
		defer lock.Unlock()

		seg, err := segment.Open(segmentPath)
		if err != nil {
			return err
		}
		defer seg.Close()

		journal, err := recovery.Open(cfg.JournalPath)
		if err != nil {
			return err
		}
		defer journal.Close()

		hd := messageformat.NewBlobStoreHardDelete(nil, log)
		sweeper := sweep.New(hd, journal, sweep.NewMetrics(), log)

		stats, err := sweeper.Run(cmd.Context(), seg, entries, key.BlobIDFactory{})
		if err != nil {
			return fmt.Errorf("sweep failed after %d replacements: %w", stats.Replaced, err)
		}

		cmd.Printf("Scrubbed %d of %d candidates (%d skipped as corrupt), %d bytes zeroed\n",
			stats.Replaced, stats.Candidates, stats.Skipped, stats.BytesZeroed)
		return nil
	},
}

// loadCandidates parses the candidates file: "<offset> <size> <blob-id>"
// per line, blank lines and #-comments ignored.
func loadCandidates(path string) ([]segment.IndexEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var entries []segment.IndexEntry
	scanner := bufio.NewScanner(file)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 3 {
			return nil, fmt.Errorf("%s:%d: want '<offset> <size> <blob-id>', got %q", path, line, text)
		}
		offset, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: invalid offset: %w", path, line, err)
		}
		size, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: invalid size: %w", path, line, err)
		}
		id, err := key.ParseBlobID(fields[2])
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		entries = append(entries, segment.IndexEntry{Offset: offset, Size: size, Key: id})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func init() {
	rootCmd.AddCommand(scrubCmd)
	scrubCmd.Flags().String("segment", "", "Path to the segment file (required)")
	scrubCmd.Flags().String("candidates", "", "Path to the candidates file (required)")
	scrubCmd.MarkFlagRequired("segment")
	scrubCmd.MarkFlagRequired("candidates")
}
