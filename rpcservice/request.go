package rpcservice

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/Daanvdplas/Smoldot/chains"
)

// requestEnvelope is one parsed host request. The ID is kept as raw JSON
// and echoed verbatim in the response; it is opaque to the service.
type requestEnvelope struct {
	ID     json.RawMessage
	Method string
	Params []json.RawMessage
}

type rawRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// parseRequest decodes a textual request object. A returned ProtocolError
// is answered in-band; the envelope is nil in that case.
func parseRequest(raw []byte) (*requestEnvelope, *ProtocolError) {
	var req rawRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, newProtocolError(codeParseError, "invalid request: %v", err)
	}
	if req.Method == "" {
		return nil, newProtocolError(codeInvalidRequest, "missing method")
	}
	env := &requestEnvelope{ID: req.ID, Method: req.Method}
	if env.ID == nil {
		env.ID = json.RawMessage("null")
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &env.Params); err != nil {
			return nil, newProtocolError(codeInvalidParams, "params must be an array: %v", err)
		}
	}
	// Default-omitted trailing optional params hash identically to
	// explicitly passed nulls.
	for len(env.Params) > 0 && isJSONNull(env.Params[len(env.Params)-1]) {
		env.Params = env.Params[:len(env.Params)-1]
	}
	return env, nil
}

func isJSONNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

// Signature is the collision-resistant deduplication/cache key of one
// request: BLAKE2b-256 over (chain identity, method, normalized params).
type Signature [32]byte

func (s Signature) String() string {
	return hex.EncodeToString(s[:8])
}

// canonicalSignature hashes the request so that semantically identical
// requests collide: parameter hex is case-normalized and JSON encoding is
// compacted before hashing.
func canonicalSignature(chainID chains.ID, method string, params []json.RawMessage) Signature {
	h, _ := blake2b.New256(nil)

	var idBuf [8]byte
	binary.LittleEndian.PutUint64(idBuf[:], uint64(chainID))
	h.Write(idBuf[:])
	h.Write([]byte(method))
	h.Write([]byte{0})
	for _, p := range params {
		h.Write(normalizeParam(p))
		h.Write([]byte{0})
	}

	var sig Signature
	copy(sig[:], h.Sum(nil))
	return sig
}

// normalizeParam produces a canonical byte encoding of one parameter.
// Hex-string params (the common case: hashes, keys, call data) are
// lowercased; everything else is re-encoded as compact JSON.
func normalizeParam(raw json.RawMessage) []byte {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if isHexString(s) {
			return []byte(strings.ToLower(strings.TrimSpace(s)))
		}
		return raw
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

func isHexString(s string) bool {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return false
	}
	for _, c := range s[2:] {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
