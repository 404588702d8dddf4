package chains

// Header is a verified block header as produced by the sync engine.
type Header struct {
	Hash           Hash
	ParentHash     Hash
	Number         uint64
	StateRoot      Hash
	ExtrinsicsRoot Hash
}

// IsValid reports whether the header carries a usable identity. The zero
// Header (e.g. read from a closed channel) is not valid.
func (h Header) IsValid() bool {
	return !h.Hash.IsZero()
}

func (h Header) BlockNumber() uint64 {
	return h.Number
}

// RuntimeVersion identifies the state-transition code active at a block.
type RuntimeVersion struct {
	SpecName           string
	ImplName           string
	SpecVersion        uint32
	ImplVersion        uint32
	TransactionVersion uint32
}

// ChainInfo is the latest view of a chain's head pointers as reported by
// the sync engine.
type ChainInfo struct {
	BestNumber      uint64
	BestHash        Hash
	FinalizedNumber uint64
	FinalizedHash   Hash
}

// TxStage enumerates the lifecycle stages of a submitted transaction.
type TxStage int

const (
	TxValidated TxStage = iota
	TxBroadcast
	TxInBlock
	TxFinalized
	TxDropped
	TxInvalid
)

func (s TxStage) String() string {
	switch s {
	case TxValidated:
		return "validated"
	case TxBroadcast:
		return "broadcast"
	case TxInBlock:
		return "inBlock"
	case TxFinalized:
		return "finalized"
	case TxDropped:
		return "dropped"
	case TxInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Terminal reports whether the stage ends the transaction's status stream.
func (s TxStage) Terminal() bool {
	return s == TxFinalized || s == TxDropped || s == TxInvalid
}

// TransactionStatus is one event of a transaction status stream.
type TransactionStatus struct {
	Stage TxStage
	// Block is set for TxInBlock and TxFinalized.
	Block Hash
	// Reason is set for TxDropped and TxInvalid.
	Reason string
}

// StorageChange is one modified storage entry observed at a block.
// A nil Value means the key was deleted.
type StorageChange struct {
	Block Hash
	Key   []byte
	Value []byte
}
