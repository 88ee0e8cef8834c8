// Copyright 2024 The emerald Authors

// Package store is the crash-safe Application State Store of spec.md §4.2:
// a goleveldb-backed key-value store holding decided values, certificates,
// block headers, per-height validator sets, in-flight reassembly buffers,
// and store metadata. It is the single writer of height-indexed state; all
// other components read through it.
package store

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/emerald-chain/emerald/internal/chaintypes"
	"github.com/emerald-chain/emerald/internal/shimerr"
)

// ErrNotFound is returned by the typed getters when a key is absent,
// distinct from a decode error.
var ErrNotFound = errors.New("store: not found")

// Meta holds the store's well-known scalar bookkeeping fields.
type Meta struct {
	EarliestAvailable  chaintypes.Height
	LatestDecided      chaintypes.Height
	GenesisHash        [32]byte
	ChainConfigDigest  [32]byte
	HasDecidedAnything bool
}

// Store wraps one goleveldb database namespaced by key prefix across the
// six logical maps of spec.md §4.2. A single mutex serializes writers the
// way the spec requires "the state store is the only writer of
// height-indexed state"; reads take the read lock.
type Store struct {
	db *leveldb.DB
	mu sync.RWMutex
}

// Open opens (or creates) the store at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, shimerr.Errorf(shimerr.KindFatalConfig, "store-open-failed", "opening store at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadMeta reads the Meta map. A store that has never decided anything
// returns zero heights with HasDecidedAnything=false, which callers use to
// distinguish "no chain yet" from "chain stalled at height 0"; its genesis
// hash and chain config digest are filled in once InitGenesis has run.
func (s *Store) LoadMeta() (Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var m Meta
	if genesis, err := s.db.Get(metaGenesisHash, nil); err == nil {
		copy(m.GenesisHash[:], genesis)
	}
	if digest, err := s.db.Get(metaChainConfigDigest, nil); err == nil {
		copy(m.ChainConfigDigest[:], digest)
	}
	earliest, err := s.db.Get(metaEarliestAvailable, nil)
	if err == leveldb.ErrNotFound {
		return m, nil
	} else if err != nil {
		return m, shimerr.Wrap(shimerr.KindFatalConsistency, "store-meta-read-failed", err)
	}
	m.HasDecidedAnything = true
	m.EarliestAvailable = chaintypes.Height(decodeUint64(earliest))

	latest, err := s.db.Get(metaLatestDecided, nil)
	if err != nil {
		return m, shimerr.Wrap(shimerr.KindFatalConsistency, "store-meta-read-failed", err)
	}
	m.LatestDecided = chaintypes.Height(decodeUint64(latest))
	return m, nil
}

// InitGenesis records the genesis hash and chain config digest. Called
// once, before any height is ever decided.
func (s *Store) InitGenesis(genesisHash, chainConfigDigest [32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := new(leveldb.Batch)
	batch.Put(metaGenesisHash, genesisHash[:])
	batch.Put(metaChainConfigDigest, chainConfigDigest[:])
	if err := s.db.Write(batch, nil); err != nil {
		return shimerr.Wrap(shimerr.KindFatalConsistency, "store-genesis-write-failed", err)
	}
	return nil
}

// CommitHeight durably records a single decided height: DecidedValue,
// Certificate, BlockHeader, and the validator set for H+1, batched with
// the Meta update last per spec.md §4.2's persistence contract — "the Meta
// update ordering is last so that partial writes cannot advertise heights
// that are not durable."
func (s *Store) CommitHeight(dv chaintypes.DecidedValue, nextValidatorSet *chaintypes.ValidatorSet, earliestAvailable chaintypes.Height) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := dv.Height
	dvBytes, err := rlp.EncodeToBytes(&dv)
	if err != nil {
		return shimerr.Wrap(shimerr.KindFatalConsistency, "store-encode-decidedvalue-failed", err)
	}
	certBytes, err := rlp.EncodeToBytes(&dv.Certificate)
	if err != nil {
		return shimerr.Wrap(shimerr.KindFatalConsistency, "store-encode-certificate-failed", err)
	}
	header := chaintypes.HeaderFromPayload(h, dv.Payload)
	headerBytes, err := rlp.EncodeToBytes(&header)
	if err != nil {
		return shimerr.Wrap(shimerr.KindFatalConsistency, "store-encode-header-failed", err)
	}

	batch := new(leveldb.Batch)
	batch.Put(decidedValueKey(h), dvBytes)
	batch.Put(certificateKey(h), certBytes)
	batch.Put(blockHeaderKey(h), headerBytes)

	if nextValidatorSet != nil {
		vsBytes, err := encodeValidatorSet(nextValidatorSet)
		if err != nil {
			return shimerr.Wrap(shimerr.KindFatalConsistency, "store-encode-validatorset-failed", err)
		}
		batch.Put(validatorSetKey(h+1), vsBytes)
	}

	// Meta last: this write is the durability boundary for latest_decided.
	batch.Put(metaEarliestAvailable, encodeUint64(uint64(earliestAvailable)))
	batch.Put(metaLatestDecided, encodeUint64(uint64(h)))

	if err := s.db.Write(batch, nil); err != nil {
		return shimerr.Wrap(shimerr.KindFatalConsistency, "store-commit-write-failed", err)
	}

	// The reassembly buffer for the decided round is no longer needed once
	// the height is durable.
	_ = s.db.Delete(reassemblyKey(h, dv.Round), nil)
	return nil
}

// GetDecidedValue returns the full DecidedValue for h, or ErrNotFound if
// only a header (or nothing) is stored at h.
func (s *Store) GetDecidedValue(h chaintypes.Height) (*chaintypes.DecidedValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := s.db.Get(decidedValueKey(h), nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, shimerr.Wrap(shimerr.KindFatalConsistency, "store-read-decidedvalue-failed", err)
	}
	var dv chaintypes.DecidedValue
	if err := rlp.DecodeBytes(raw, &dv); err != nil {
		return nil, shimerr.Wrap(shimerr.KindFatalConsistency, "store-decode-decidedvalue-failed", err)
	}
	return &dv, nil
}

// GetBlockHeader returns the retained header at h, present even when the
// full body has been pruned.
func (s *Store) GetBlockHeader(h chaintypes.Height) (*chaintypes.BlockHeader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := s.db.Get(blockHeaderKey(h), nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, shimerr.Wrap(shimerr.KindFatalConsistency, "store-read-header-failed", err)
	}
	var header chaintypes.BlockHeader
	if err := rlp.DecodeBytes(raw, &header); err != nil {
		return nil, shimerr.Wrap(shimerr.KindFatalConsistency, "store-decode-header-failed", err)
	}
	return &header, nil
}

// GetCertificate returns the quorum certificate at h.
func (s *Store) GetCertificate(h chaintypes.Height) (*chaintypes.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := s.db.Get(certificateKey(h), nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, shimerr.Wrap(shimerr.KindFatalConsistency, "store-read-certificate-failed", err)
	}
	var cert chaintypes.Certificate
	if err := rlp.DecodeBytes(raw, &cert); err != nil {
		return nil, shimerr.Wrap(shimerr.KindFatalConsistency, "store-decode-certificate-failed", err)
	}
	return &cert, nil
}

// GetValidatorSet returns the validator set effective at h.
func (s *Store) GetValidatorSet(h chaintypes.Height) (*chaintypes.ValidatorSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := s.db.Get(validatorSetKey(h), nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, shimerr.Wrap(shimerr.KindFatalConsistency, "store-read-validatorset-failed", err)
	}
	return decodeValidatorSet(raw)
}

// PutValidatorSet stores the validator set effective at h, used by the
// validator-set reader when refreshing ahead of height H+1.
func (s *Store) PutValidatorSet(h chaintypes.Height, vs *chaintypes.ValidatorSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := encodeValidatorSet(vs)
	if err != nil {
		return shimerr.Wrap(shimerr.KindFatalConsistency, "store-encode-validatorset-failed", err)
	}
	if err := s.db.Put(validatorSetKey(h), raw, nil); err != nil {
		return shimerr.Wrap(shimerr.KindFatalConsistency, "store-write-validatorset-failed", err)
	}
	return nil
}

// PutReassemblyBuffer stores the in-flight proposal parts for (H,R).
func (s *Store) PutReassemblyBuffer(h chaintypes.Height, r chaintypes.Round, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Put(reassemblyKey(h, r), raw, nil); err != nil {
		return shimerr.Wrap(shimerr.KindFatalConsistency, "store-write-reassembly-failed", err)
	}
	return nil
}

// GetReassemblyBuffer returns the raw buffer stored for (H,R), if any.
func (s *Store) GetReassemblyBuffer(h chaintypes.Height, r chaintypes.Round) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, err := s.db.Get(reassemblyKey(h, r), nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, shimerr.Wrap(shimerr.KindFatalConsistency, "store-read-reassembly-failed", err)
	}
	return raw, nil
}

// DeleteReassemblyBuffer discards the buffer for (H,R), on decide or round
// change per spec.md §3 ("reassembly buffers holding in-flight parts are
// pruned once decided or upon round change").
func (s *Store) DeleteReassemblyBuffer(h chaintypes.Height, r chaintypes.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Delete(reassemblyKey(h, r), nil); err != nil {
		return shimerr.Wrap(shimerr.KindFatalConsistency, "store-delete-reassembly-failed", err)
	}
	return nil
}

// TruncateAbove discards every entry in the first five maps with height
// strictly greater than latestDecided, per spec.md §4.2's startup
// contract: "any height strictly greater than latest_decided in the first
// five maps is discarded."
func (s *Store) TruncateAbove(latestDecided chaintypes.Height) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, prefix := range []byte{prefixDecidedValue, prefixCertificate, prefixBlockHeader, prefixValidatorSet, prefixReassembly} {
		if err := s.truncatePrefixAbove(prefix, latestDecided); err != nil {
			return err
		}
	}
	// ValidatorSets are keyed by H+1, so the cutoff for that map is one
	// higher than the other four.
	return nil
}

func (s *Store) truncatePrefixAbove(prefix byte, latestDecided chaintypes.Height) error {
	it := s.db.NewIterator(util.BytesPrefix([]byte{prefix}), nil)
	defer it.Release()

	batch := new(leveldb.Batch)
	limit := latestDecided
	if prefix == prefixValidatorSet {
		limit = latestDecided + 1
	}
	for it.Next() {
		key := it.Key()
		if len(key) < 9 {
			continue
		}
		if decodeHeightKey(key) > limit {
			batch.Delete(append([]byte(nil), key...))
		}
	}
	if err := it.Error(); err != nil {
		return shimerr.Wrap(shimerr.KindFatalConsistency, "store-truncate-scan-failed", err)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := s.db.Write(batch, nil); err != nil {
		return shimerr.Wrap(shimerr.KindFatalConsistency, "store-truncate-write-failed", err)
	}
	return nil
}
