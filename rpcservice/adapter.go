package rpcservice

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Daanvdplas/Smoldot/chains"
	"github.com/Daanvdplas/Smoldot/engine"
)

// Translation between engine-native result types and protocol-shaped
// payloads lives here. No caching or deduplication happens at this layer.

func hexNumber(n uint64) string {
	return fmt.Sprintf("0x%x", n)
}

func hexBytes(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
	}
	return hex.DecodeString(s)
}

func mustMarshal(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		// Only reachable for unmarshalable Go values, which would be a
		// programming error in the payload shapers below.
		panic(fmt.Sprintf("marshal payload: %v", err))
	}
	return raw
}

func headerPayload(h chains.Header) json.RawMessage {
	return mustMarshal(map[string]any{
		"hash":           h.Hash.String(),
		"parentHash":     h.ParentHash.String(),
		"number":         hexNumber(h.Number),
		"stateRoot":      h.StateRoot.String(),
		"extrinsicsRoot": h.ExtrinsicsRoot.String(),
	})
}

func storageValuePayload(value []byte) json.RawMessage {
	if value == nil {
		return json.RawMessage("null")
	}
	return mustMarshal(hexBytes(value))
}

func runtimeVersionPayload(v chains.RuntimeVersion) json.RawMessage {
	return mustMarshal(map[string]any{
		"specName":           v.SpecName,
		"implName":           v.ImplName,
		"specVersion":        v.SpecVersion,
		"implVersion":        v.ImplVersion,
		"transactionVersion": v.TransactionVersion,
	})
}

func storageChangePayload(c chains.StorageChange) json.RawMessage {
	var value any
	if c.Value != nil {
		value = hexBytes(c.Value)
	}
	return mustMarshal(map[string]any{
		"block":   c.Block.String(),
		"changes": [][2]any{{hexBytes(c.Key), value}},
	})
}

func txStatusPayload(s chains.TransactionStatus) json.RawMessage {
	switch s.Stage {
	case chains.TxInBlock:
		return mustMarshal(map[string]string{"inBlock": s.Block.String()})
	case chains.TxFinalized:
		return mustMarshal(map[string]string{"finalized": s.Block.String()})
	case chains.TxDropped, chains.TxInvalid:
		return mustMarshal(map[string]string{s.Stage.String(): s.Reason})
	default:
		return mustMarshal(s.Stage.String())
	}
}

// Host-facing wire objects.

func marshalResponse(id json.RawMessage, result json.RawMessage) string {
	return string(mustMarshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	}))
}

func marshalErrorResponse(id json.RawMessage, perr *ProtocolError) string {
	if id == nil {
		id = json.RawMessage("null")
	}
	return string(mustMarshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   perr,
	}))
}

func marshalNotification(method string, subID SubscriptionID, payload json.RawMessage) string {
	return string(mustMarshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params": map[string]any{
			"subscription": string(subID),
			"result":       payload,
		},
	}))
}

// marshalErrorNotification is the terminal notification of a force-closed
// subscription (overflow, chain removal, upstream stream failure).
func marshalErrorNotification(method string, subID SubscriptionID, perr *ProtocolError) string {
	return string(mustMarshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params": map[string]any{
			"subscription": string(subID),
			"error":        perr,
		},
	}))
}

// toProtocolError maps the error taxonomy onto host-facing codes.
func toProtocolError(err error) *ProtocolError {
	var perr *ProtocolError
	if errors.As(err, &perr) {
		return perr
	}
	var upstream *UpstreamError
	switch {
	case errors.As(err, &upstream):
		if upstream.Pruned {
			return newProtocolError(codeBlockPruned, "%v", upstream)
		}
		return newProtocolError(codeUpstream, "%v", upstream)
	case errors.Is(err, ErrChainRemoved):
		return newProtocolError(codeChainRemoved, "chain removed")
	case errors.Is(err, ErrUnknownSubscription):
		return newProtocolError(codeUnknownSubscription, "unknown subscription")
	case errors.Is(err, ErrSubscriptionOverflow):
		return newProtocolError(codeSubscriptionOverflow, "subscription queue overflow")
	case errors.Is(err, ErrTooManySubscriptions):
		return newProtocolError(codeTooManySubscriptions, "too many subscriptions")
	case errors.Is(err, ErrBusy):
		return newProtocolError(codeBusy, "chain is at capacity")
	default:
		return newProtocolError(codeUpstream, "%v", err)
	}
}

// toUpstreamError classifies an engine failure.
func toUpstreamError(err error) error {
	return &UpstreamError{Pruned: errors.Is(err, engine.ErrBlockPruned), Err: err}
}
