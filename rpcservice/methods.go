package rpcservice

// methodKind routes a request to one of the dispatcher's execution paths.
// The method set is a closed enumeration; new methods are added by
// extending this table, never by reflection.
type methodKind int

const (
	// methodLocal is served from chain-local state, no upstream call.
	methodLocal methodKind = iota
	// methodQuery goes through the deduplicator/cache to the engine.
	methodQuery
	// methodSubscribe establishes a standing notification stream.
	methodSubscribe
	// methodUnsubscribe tears a standing stream down.
	methodUnsubscribe
)

// subscriptionKind enumerates the supported standing streams.
type subscriptionKind int

const (
	subNewHeads subscriptionKind = iota
	subFinalizedHeads
	subStorage
	subRuntimeVersion
	subTransactionStatus
)

func (k subscriptionKind) String() string {
	switch k {
	case subNewHeads:
		return "newHeads"
	case subFinalizedHeads:
		return "finalizedHeads"
	case subStorage:
		return "storage"
	case subRuntimeVersion:
		return "runtimeVersion"
	case subTransactionStatus:
		return "transactionStatus"
	default:
		return "unknown"
	}
}

type methodDef struct {
	kind methodKind
	// cacheable query results are inserted into the result cache.
	cacheable bool
	// subKind and notification apply to subscribe/unsubscribe methods;
	// notification is the method name carried by outgoing notifications.
	subKind      subscriptionKind
	notification string
}

var methodTable = map[string]methodDef{
	// Chain metadata, served locally.
	"system_chain":       {kind: methodLocal},
	"system_properties":  {kind: methodLocal},
	"chain_getBlockHash": {kind: methodLocal},

	// Deduplicated/cached upstream queries.
	"chain_getHeader":         {kind: methodQuery, cacheable: true},
	"state_getStorage":        {kind: methodQuery, cacheable: true},
	"state_call":              {kind: methodQuery, cacheable: true},
	"state_getRuntimeVersion": {kind: methodQuery, cacheable: true},
	"author_submitExtrinsic":  {kind: methodQuery},

	// Subscriptions.
	"chain_subscribeNewHeads": {
		kind: methodSubscribe, subKind: subNewHeads, notification: "chain_newHead",
	},
	"chain_unsubscribeNewHeads": {kind: methodUnsubscribe, subKind: subNewHeads},
	"chain_subscribeFinalizedHeads": {
		kind: methodSubscribe, subKind: subFinalizedHeads, notification: "chain_finalizedHead",
	},
	"chain_unsubscribeFinalizedHeads": {kind: methodUnsubscribe, subKind: subFinalizedHeads},
	"state_subscribeStorage": {
		kind: methodSubscribe, subKind: subStorage, notification: "state_storage",
	},
	"state_unsubscribeStorage": {kind: methodUnsubscribe, subKind: subStorage},
	"state_subscribeRuntimeVersion": {
		kind: methodSubscribe, subKind: subRuntimeVersion, notification: "state_runtimeVersion",
	},
	"state_unsubscribeRuntimeVersion": {kind: methodUnsubscribe, subKind: subRuntimeVersion},
	"author_submitAndWatchExtrinsic": {
		kind: methodSubscribe, subKind: subTransactionStatus, notification: "author_extrinsicUpdate",
	},
	"author_unwatchExtrinsic": {kind: methodUnsubscribe, subKind: subTransactionStatus},
}

// notificationMethod returns the notification name for a subscription kind.
func notificationMethod(kind subscriptionKind) string {
	for _, def := range methodTable {
		if def.kind == methodSubscribe && def.subKind == kind {
			return def.notification
		}
	}
	return "unknown"
}
