// Package sweep drives hard-delete sweeps: it feeds candidate batches to
// the scan, writes the replacement records back into the segment, and
// journals recovery tokens so a crashed sweep resumes where it stopped.
package sweep

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/muninstore/munin/pkg/messageformat"
	"github.com/muninstore/munin/pkg/recovery"
	"github.com/muninstore/munin/pkg/segment"
	"github.com/muninstore/munin/pkg/store"
)

// Stats summarizes one sweep.
type Stats struct {
	Candidates  int
	Replaced    int
	Skipped     int
	BytesZeroed int64
}

// Sweeper consumes hard-delete scans and performs the destructive writes
// the scan itself never does.
type Sweeper struct {
	hd      store.MessageStoreHardDelete
	journal *recovery.Store
	metrics *Metrics
	log     *logrus.Logger
}

// New creates a sweeper. journal may be nil to disable crash-safe resume;
// metrics may be nil; log may be nil.
func New(hd store.MessageStoreHardDelete, journal *recovery.Store, metrics *Metrics, log *logrus.Logger) *Sweeper {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Sweeper{hd: hd, journal: journal, metrics: metrics, log: log}
}

// Run hard-deletes the candidate records of one segment. Candidates at or
// below the journal's last checkpoint are filtered out, which is what makes
// a sweep restarted after a crash resume instead of redoing work; on
// successful completion the journal is cleared so its checkpoint cannot
// filter later sweeps. Returns the sweep stats and the first fatal error, if
// any; corrupt candidates are skipped by the scan and only counted here.
func (s *Sweeper) Run(ctx context.Context, seg *segment.Segment, entries []segment.IndexEntry,
	factory store.StoreKeyFactory) (Stats, error) {
	start := time.Now()
	stats := Stats{}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Offset < entries[j].Offset
	})
	if s.journal != nil {
		last, ok, err := s.journal.LastCheckpoint()
		if err != nil {
			return stats, err
		}
		if ok {
			resumed := entries[:0:0]
			for _, e := range entries {
				if e.Offset > last {
					resumed = append(resumed, e)
				}
			}
			s.log.WithFields(logrus.Fields{
				"checkpoint": last,
				"remaining":  len(resumed),
				"total":      len(entries),
			}).Info("resuming hard delete sweep from checkpoint")
			entries = resumed
		}
	}
	stats.Candidates = len(entries)

	readSet := segment.NewFileReadSet(seg, entries)
	iter := s.hd.ScanHardDeleteMessages(readSet, factory)

	for iter.Next() {
		if err := ctx.Err(); err != nil {
			s.finish(false, start)
			return stats, err
		}
		info := iter.Info()
		entry := entries[info.Index]

		if err := seg.ReplaceAt(entry.Offset, info.Replacement, info.Size); err != nil {
			s.finish(false, start)
			return stats, fmt.Errorf("replace record %s at offset %d: %w", entry.Key, entry.Offset, err)
		}
		if s.journal != nil {
			if err := s.journal.SaveToken(entry.Offset, info.RecoveryMetadata); err != nil {
				s.finish(false, start)
				return stats, fmt.Errorf("journal record %s: %w", entry.Key, err)
			}
		}

		zeroed := int64(0)
		if token, err := messageformat.DeserializeHardDeleteRecoveryMetadata(info.RecoveryMetadata, factory); err == nil {
			zeroed = int64(token.MetadataLen) + int64(token.PayloadLen)
		}
		stats.Replaced++
		stats.BytesZeroed += zeroed
		if s.metrics != nil {
			s.metrics.RecordReplaced(zeroed)
		}

		s.log.WithFields(logrus.Fields{
			"key":    entry.Key,
			"offset": entry.Offset,
			"size":   info.Size,
		}).Debug("hard deleted record")
	}
	if err := iter.Err(); err != nil {
		s.finish(false, start)
		return stats, err
	}

	if err := seg.Sync(); err != nil {
		s.finish(false, start)
		return stats, err
	}
	// The replacements are durable, so the journal has nothing left to
	// resume. Clearing the checkpoint here keeps it from filtering records
	// deleted later at lower offsets out of the next sweep.
	if s.journal != nil {
		if err := s.journal.Reset(); err != nil {
			s.finish(false, start)
			return stats, err
		}
	}

	stats.Skipped = stats.Candidates - stats.Replaced
	if s.metrics != nil && stats.Skipped > 0 {
		s.metrics.RecordSkipped(stats.Skipped)
	}
	s.finish(true, start)

	s.log.WithFields(logrus.Fields{
		"candidates":   stats.Candidates,
		"replaced":     stats.Replaced,
		"skipped":      stats.Skipped,
		"bytes_zeroed": stats.BytesZeroed,
	}).Info("hard delete sweep finished")
	return stats, nil
}

func (s *Sweeper) finish(success bool, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordSweep(success, time.Since(start))
	}
}
