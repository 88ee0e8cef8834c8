// Copyright 2024 The emerald Authors

package store

import (
	"encoding/binary"

	"github.com/emerald-chain/emerald/internal/chaintypes"
)

// Key prefixes for the six logical maps of spec.md §4.2. A single
// goleveldb instance holds all of them, namespaced by prefix byte, the
// way go-ethereum's rawdb shares one database across headers/bodies/etc.
const (
	prefixDecidedValue byte = 'd'
	prefixCertificate  byte = 'c'
	prefixBlockHeader  byte = 'h'
	prefixValidatorSet byte = 'v'
	prefixReassembly   byte = 'r'
	prefixMeta         byte = 'm'
)

func heightKey(prefix byte, h chaintypes.Height) []byte {
	k := make([]byte, 9)
	k[0] = prefix
	binary.BigEndian.PutUint64(k[1:], uint64(h))
	return k
}

func roundKey(prefix byte, h chaintypes.Height, r chaintypes.Round) []byte {
	k := make([]byte, 13)
	k[0] = prefix
	binary.BigEndian.PutUint64(k[1:9], uint64(h))
	binary.BigEndian.PutUint32(k[9:], uint32(r))
	return k
}

func decidedValueKey(h chaintypes.Height) []byte { return heightKey(prefixDecidedValue, h) }
func certificateKey(h chaintypes.Height) []byte  { return heightKey(prefixCertificate, h) }
func blockHeaderKey(h chaintypes.Height) []byte  { return heightKey(prefixBlockHeader, h) }
func validatorSetKey(h chaintypes.Height) []byte { return heightKey(prefixValidatorSet, h) }
func reassemblyKey(h chaintypes.Height, r chaintypes.Round) []byte {
	return roundKey(prefixReassembly, h, r)
}

// decodeHeightKey extracts the height encoded by heightKey, used when
// scanning a prefix range for pruning.
func decodeHeightKey(key []byte) chaintypes.Height {
	return chaintypes.Height(binary.BigEndian.Uint64(key[1:9]))
}

// Well-known Meta keys (spec.md §4.2).
var (
	metaEarliestAvailable = []byte{prefixMeta, 'e'}
	metaLatestDecided     = []byte{prefixMeta, 'l'}
	metaGenesisHash       = []byte{prefixMeta, 'g'}
	metaChainConfigDigest = []byte{prefixMeta, 'c'}
)
