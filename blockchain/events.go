package blockchain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// EventKind identifies a registry event.
type EventKind int

const (
	EventOwnerChanged EventKind = iota + 1
	EventDelegateChanged
	EventAttributeChanged
)

func (k EventKind) String() string {
	switch k {
	case EventOwnerChanged:
		return "DIDOwnerChanged"
	case EventDelegateChanged:
		return "DIDDelegateChanged"
	case EventAttributeChanged:
		return "DIDAttributeChanged"
	default:
		return "unknown"
	}
}

// Event is a decoded registry event. Only the fields of its Kind are set.
type Event struct {
	Kind           EventKind
	Identity       common.Address
	Owner          common.Address
	DelegateType   string
	Delegate       common.Address
	Name           string
	Value          []byte
	ValidTo        *big.Int
	PreviousChange *big.Int
	BlockNumber    uint64
	TxHash         common.Hash
}

type ownerChangedLog struct {
	Identity       common.Address
	Owner          common.Address
	PreviousChange *big.Int
}

type delegateChangedLog struct {
	Identity       common.Address
	DelegateType   [32]byte
	Delegate       common.Address
	ValidTo        *big.Int
	PreviousChange *big.Int
}

type attributeChangedLog struct {
	Identity       common.Address
	Name           [32]byte
	Value          []byte
	ValidTo        *big.Int
	PreviousChange *big.Int
}

// History returns every event recorded for identity, oldest first.
//
// It follows the registry's linked list: changed(identity) points at the last
// block with an event, and each event's previousChange points further back.
func (r *Registry) History(ctx context.Context, identity common.Address) ([]Event, error) {
	block, err := r.Changed(ctx, identity)
	if err != nil {
		return nil, err
	}

	identityTopic := common.BytesToHash(identity.Bytes())

	var perBlock [][]Event
	for block != 0 {
		blockNum := new(big.Int).SetUint64(block)
		logs, err := r.backend.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: blockNum,
			ToBlock:   blockNum,
			Addresses: []common.Address{r.contractAddr},
			Topics:    [][]common.Hash{nil, {identityTopic}},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to filter logs at block %d: %w", block, err)
		}

		var events []Event
		var prev uint64
		for _, lg := range logs {
			ev, ok, err := r.decodeLog(lg)
			if err != nil {
				return nil, err
			}
			if !ok || ev.Identity != identity {
				continue
			}
			events = append(events, ev)
			if p := ev.PreviousChange.Uint64(); p < block && p > prev {
				prev = p
			}
		}
		perBlock = append(perBlock, events)

		// previousChange always points strictly backwards; anything else ends the walk.
		block = prev
	}

	var history []Event
	for i := len(perBlock) - 1; i >= 0; i-- {
		history = append(history, perBlock[i]...)
	}

	return history, nil
}

// decodeLog decodes a registry log. ok is false for logs of unknown events.
func (r *Registry) decodeLog(lg types.Log) (Event, bool, error) {
	if len(lg.Topics) == 0 {
		return Event{}, false, nil
	}

	base := Event{BlockNumber: lg.BlockNumber, TxHash: lg.TxHash}

	switch lg.Topics[0] {
	case r.abi.Events["DIDOwnerChanged"].ID:
		var out ownerChangedLog
		if err := r.contract.UnpackLog(&out, "DIDOwnerChanged", lg); err != nil {
			return Event{}, false, fmt.Errorf("failed to decode DIDOwnerChanged: %w", err)
		}
		base.Kind = EventOwnerChanged
		base.Identity = out.Identity
		base.Owner = out.Owner
		base.PreviousChange = out.PreviousChange
	case r.abi.Events["DIDDelegateChanged"].ID:
		var out delegateChangedLog
		if err := r.contract.UnpackLog(&out, "DIDDelegateChanged", lg); err != nil {
			return Event{}, false, fmt.Errorf("failed to decode DIDDelegateChanged: %w", err)
		}
		base.Kind = EventDelegateChanged
		base.Identity = out.Identity
		base.DelegateType = Bytes32ToName(out.DelegateType)
		base.Delegate = out.Delegate
		base.ValidTo = out.ValidTo
		base.PreviousChange = out.PreviousChange
	case r.abi.Events["DIDAttributeChanged"].ID:
		var out attributeChangedLog
		if err := r.contract.UnpackLog(&out, "DIDAttributeChanged", lg); err != nil {
			return Event{}, false, fmt.Errorf("failed to decode DIDAttributeChanged: %w", err)
		}
		base.Kind = EventAttributeChanged
		base.Identity = out.Identity
		base.Name = Bytes32ToName(out.Name)
		base.Value = out.Value
		base.ValidTo = out.ValidTo
		base.PreviousChange = out.PreviousChange
	default:
		return Event{}, false, nil
	}

	if base.PreviousChange == nil {
		base.PreviousChange = new(big.Int)
	}

	return base, true, nil
}
