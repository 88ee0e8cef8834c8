// Copyright 2024 The emerald Authors

// Package ipc is the transport glue between the shim and the external BFT
// consensus library (spec.md §1: "provided by a consensus library that
// emits events over a channel"). It speaks newline-delimited JSON frames
// over a Unix domain socket and implements bft.Channel so internal/host
// never has to know the wire format a given consensus library uses.
package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"

	"github.com/emerald-chain/emerald/internal/bft"
	"github.com/emerald-chain/emerald/internal/chaintypes"
)

// inboundFrame is the union of every event the consensus library can send.
// Type selects which fields are meaningful.
type inboundFrame struct {
	Type        string                `json:"type"`
	Height      chaintypes.Height     `json:"height,omitempty"`
	Round       chaintypes.Round      `json:"round,omitempty"`
	Deadline    int64                 `json:"deadline,omitempty"`
	From        common.Address        `json:"from,omitempty"`
	Part        hexutil.Bytes         `json:"part,omitempty"`
	Certificate *chaintypes.Certificate `json:"certificate,omitempty"`
	Proposer    common.Address        `json:"proposer,omitempty"`
	Bytes       hexutil.Bytes         `json:"bytes,omitempty"`
}

// outboundFrame is the union of every reply the shim can send back.
type outboundFrame struct {
	Type           string                     `json:"type"`
	Error          string                     `json:"error,omitempty"`
	LatestHeight   chaintypes.Height          `json:"latest_height,omitempty"`
	ChainID        uint64                     `json:"chain_id,omitempty"`
	NextValidators *chaintypes.ValidatorSet   `json:"next_validators,omitempty"`
	CachedProposal *chaintypes.DecidedValue   `json:"cached_proposal,omitempty"`
	Parts          []hexutil.Bytes            `json:"parts,omitempty"`
	TotalParts     int                        `json:"total_parts,omitempty"`
	ValueID        common.Hash                `json:"value_id,omitempty"`
	Valid          *bool                      `json:"valid,omitempty"`
	Ack            bool                       `json:"ack,omitempty"`
	Value          *chaintypes.DecidedValue   `json:"value,omitempty"`
	Set            *chaintypes.ValidatorSet   `json:"set,omitempty"`
}

// Bridge accepts a single consensus-library connection at a time and
// turns its frames into bft.Event values. The host never sees socket
// plumbing; it only calls Events() and invokes each Reply exactly once.
type Bridge struct {
	listener net.Listener
	events   chan bft.Event

	writeMu sync.Mutex
	enc     *json.Encoder
}

// Listen opens the Unix domain socket at path, removing a stale socket
// file left behind by an unclean shutdown.
func Listen(path string) (*Bridge, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("ipc: clearing stale socket %s: %w", path, err)
	}
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("ipc: listening on %s: %w", path, err)
	}
	return &Bridge{listener: l, events: make(chan bft.Event, 16)}, nil
}

// Events implements bft.Channel.
func (b *Bridge) Events() <-chan bft.Event { return b.events }

// Close stops accepting connections and closes the outstanding events
// channel, which causes host.Run to return.
func (b *Bridge) Close() error {
	err := b.listener.Close()
	close(b.events)
	return err
}

// Serve accepts consensus-library connections one at a time for the
// lifetime of the bridge. A disconnect is treated as the consensus
// library restarting, not as shim shutdown; Serve keeps accepting.
func (b *Bridge) Serve() error {
	for {
		conn, err := b.listener.Accept()
		if err != nil {
			return err
		}
		b.handleConn(conn)
	}
}

func (b *Bridge) handleConn(conn net.Conn) {
	defer conn.Close()
	log.Info("Consensus library connected", "addr", conn.RemoteAddr())

	b.writeMu.Lock()
	b.enc = json.NewEncoder(conn)
	b.writeMu.Unlock()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var in inboundFrame
		if err := json.Unmarshal(scanner.Bytes(), &in); err != nil {
			log.Warn("Dropping malformed consensus frame", "err", err)
			continue
		}
		ev, err := b.toEvent(in)
		if err != nil {
			log.Warn("Dropping unroutable consensus frame", "type", in.Type, "err", err)
			continue
		}
		b.events <- ev
	}
	log.Warn("Consensus library disconnected")
}

func (b *Bridge) send(f outboundFrame) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if b.enc == nil {
		return
	}
	if err := b.enc.Encode(f); err != nil {
		log.Warn("Failed writing reply to consensus library", "err", err)
	}
}

func errFrame(typ string, err error) outboundFrame {
	f := outboundFrame{Type: typ}
	if err != nil {
		f.Error = err.Error()
	}
	return f
}

func (b *Bridge) toEvent(in inboundFrame) (bft.Event, error) {
	switch in.Type {
	case "consensus_ready":
		return bft.ConsensusReadyEvent{Reply: func(r bft.ConsensusReadyReply, err error) {
			f := errFrame("consensus_ready", err)
			if err == nil {
				f.LatestHeight, f.ChainID, f.NextValidators = r.LatestHeight, r.ChainID, r.NextValidators
			}
			b.send(f)
		}}, nil

	case "started_round":
		return bft.StartedRoundEvent{Height: in.Height, Round: in.Round, Reply: func(r bft.StartedRoundReply, err error) {
			f := errFrame("started_round", err)
			if err == nil {
				f.CachedProposal = r.CachedProposal
			}
			b.send(f)
		}}, nil

	case "get_value":
		return bft.GetValueEvent{Height: in.Height, Round: in.Round, Deadline: in.Deadline, Reply: func(r bft.GetValueReply, err error) {
			f := errFrame("get_value", err)
			if err == nil {
				f.Parts = make([]hexutil.Bytes, len(r.Parts))
				for i, p := range r.Parts {
					f.Parts[i] = p
				}
				f.TotalParts, f.ValueID = r.TotalParts, r.ValueID
			}
			b.send(f)
		}}, nil

	case "proposal_part":
		return bft.ProposalPartEvent{From: in.From, Part: in.Part, Reply: func(r bft.ProposalPartReply, err error) {
			f := errFrame("proposal_part", err)
			if err == nil {
				f.Valid = r.Valid
			}
			b.send(f)
		}}, nil

	case "decided":
		if in.Certificate == nil {
			return nil, fmt.Errorf("decided frame missing certificate")
		}
		return bft.DecidedEvent{Height: in.Height, Certificate: *in.Certificate, Reply: func(r bft.DecidedReply, err error) {
			f := errFrame("decided", err)
			if err == nil {
				f.Ack, f.NextValidators = r.Ack, r.NextValidators
			}
			b.send(f)
		}}, nil

	case "get_decided_value":
		return bft.GetDecidedValueEvent{Height: in.Height, Reply: func(r bft.GetDecidedValueReply, err error) {
			f := errFrame("get_decided_value", err)
			if err == nil {
				f.Value = r.Value
			}
			b.send(f)
		}}, nil

	case "process_synced_value":
		return bft.ProcessSyncedValueEvent{Height: in.Height, Round: in.Round, Proposer: in.Proposer, Bytes: in.Bytes, Reply: func(r bft.ProcessSyncedValueReply, err error) {
			f := errFrame("process_synced_value", err)
			if err == nil {
				f.Valid = &r.Valid
			}
			b.send(f)
		}}, nil

	case "get_validator_set":
		return bft.GetValidatorSetEvent{Height: in.Height, Reply: func(r bft.GetValidatorSetReply, err error) {
			f := errFrame("get_validator_set", err)
			if err == nil {
				f.Set = r.Set
			}
			b.send(f)
		}}, nil

	default:
		return nil, fmt.Errorf("unknown event type %q", in.Type)
	}
}
