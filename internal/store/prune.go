// Copyright 2024 The emerald Authors

package store

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/emerald-chain/emerald/internal/chaintypes"
	"github.com/emerald-chain/emerald/internal/shimerr"
)

// RetentionMode selects how aggressively DecidedValues are pruned,
// configured per-node via el_node_type (spec.md §6.3).
type RetentionMode int

const (
	// RetentionArchive retains every DecidedValue forever.
	RetentionArchive RetentionMode = iota
	// RetentionCustom prunes DecidedValues older than MaxRetainBlocks.
	RetentionCustom
)

// RetentionPolicy is the pruning configuration of spec.md §4.2.
type RetentionPolicy struct {
	Mode            RetentionMode
	MaxRetainBlocks uint64
}

// EarliestAvailable returns the lowest height whose full DecidedValue is
// (or will remain) retained once latestDecided is committed.
func (p RetentionPolicy) EarliestAvailable(latestDecided chaintypes.Height) chaintypes.Height {
	if p.Mode == RetentionArchive || p.MaxRetainBlocks == 0 || uint64(latestDecided) < p.MaxRetainBlocks {
		return 0
	}
	return chaintypes.Height(uint64(latestDecided) - p.MaxRetainBlocks + 1)
}

// Prune deletes DecidedValues (but not BlockHeaders or Certificates,
// which are retained strictly longer per spec.md §4.2) below the
// policy's current earliest-available cutoff. BlockHeaders and
// Certificates are pruned separately, never below what the execution
// client can still serve via bodies-by-range, by the caller passing a
// more conservative headerCutoff.
func (s *Store) Prune(policy RetentionPolicy, latestDecided, headerCutoff chaintypes.Height) error {
	if policy.Mode == RetentionArchive {
		return nil
	}

	earliest := policy.EarliestAvailable(latestDecided)
	if err := s.pruneDecidedValuesBelow(earliest); err != nil {
		return err
	}
	if headerCutoff > 0 {
		if err := s.pruneMapBelow(prefixBlockHeader, headerCutoff); err != nil {
			return err
		}
		if err := s.pruneMapBelow(prefixCertificate, headerCutoff); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) pruneDecidedValuesBelow(cutoff chaintypes.Height) error {
	return s.pruneMapBelow(prefixDecidedValue, cutoff)
}

func (s *Store) pruneMapBelow(prefix byte, cutoff chaintypes.Height) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it := s.db.NewIterator(util.BytesPrefix([]byte{prefix}), nil)
	defer it.Release()

	batch := new(leveldb.Batch)
	for it.Next() {
		key := it.Key()
		if len(key) < 9 {
			continue
		}
		if decodeHeightKey(key) < cutoff {
			batch.Delete(append([]byte(nil), key...))
		}
	}
	if err := it.Error(); err != nil {
		return shimerr.Wrap(shimerr.KindFatalConsistency, "store-prune-scan-failed", err)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := s.db.Write(batch, nil); err != nil {
		return shimerr.Wrap(shimerr.KindFatalConsistency, "store-prune-write-failed", err)
	}
	return nil
}
