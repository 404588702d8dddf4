package rpcservice

import (
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Daanvdplas/Smoldot/chains"
	"github.com/Daanvdplas/Smoldot/engine"
)

func TestPayloads(t *testing.T) {
	t.Parallel()

	t.Run("header", func(t *testing.T) {
		t.Parallel()
		h := chains.Header{Hash: testHash(2), ParentHash: testHash(1), Number: 255}
		assert.JSONEq(t, `{
			"hash": "`+testHash(2).String()+`",
			"parentHash": "`+testHash(1).String()+`",
			"number": "0xff",
			"stateRoot": "`+chains.Hash{}.String()+`",
			"extrinsicsRoot": "`+chains.Hash{}.String()+`"
		}`, string(headerPayload(h)))
	})
	t.Run("storage value", func(t *testing.T) {
		t.Parallel()
		assert.JSONEq(t, `"0x0baa"`, string(storageValuePayload([]byte{0x0b, 0xaa})))
		assert.JSONEq(t, `null`, string(storageValuePayload(nil)), "deleted keys encode as null")
	})
	t.Run("transaction status stages", func(t *testing.T) {
		t.Parallel()
		assert.JSONEq(t, `"broadcast"`, string(txStatusPayload(chains.TransactionStatus{Stage: chains.TxBroadcast})))
		assert.JSONEq(t, `{"inBlock":"`+testHash(4).String()+`"}`,
			string(txStatusPayload(chains.TransactionStatus{Stage: chains.TxInBlock, Block: testHash(4)})))
		assert.JSONEq(t, `{"dropped":"mempool full"}`,
			string(txStatusPayload(chains.TransactionStatus{Stage: chains.TxDropped, Reason: "mempool full"})))
	})
}

func TestToProtocolError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		code int
	}{
		{"busy", ErrBusy, codeBusy},
		{"unknown subscription", ErrUnknownSubscription, codeUnknownSubscription},
		{"chain removed", ErrChainRemoved, codeChainRemoved},
		{"overflow", ErrSubscriptionOverflow, codeSubscriptionOverflow},
		{"too many subscriptions", ErrTooManySubscriptions, codeTooManySubscriptions},
		{"upstream", toUpstreamError(pkgerrors.New("no peers")), codeUpstream},
		{"pruned upstream", toUpstreamError(pkgerrors.Wrap(engine.ErrBlockPruned, "gone")), codeBlockPruned},
		{"protocol errors pass through", newProtocolError(codeInvalidParams, "bad"), codeInvalidParams},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			perr := toProtocolError(tc.err)
			require.NotNil(t, perr)
			assert.Equal(t, tc.code, perr.Code)
		})
	}
}
