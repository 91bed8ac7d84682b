package redis

// Key prefixes for primary entity storage.
const (
	prefixSubscription = "outhook:sub:"
	prefixEvent        = "outhook:evt:"
	prefixDelivery     = "outhook:del:"
	prefixDLQ          = "outhook:dlq:"
)

// Key prefixes for unique indexes.
const (
	uniqueEventIdem = "outhook:u:evt:idem:"
)

// Sorted set indexes.
const (
	zSubscriptionAll = "outhook:z:sub:all"
	zEventAll        = "outhook:z:evt:all"
	zDeliverySub     = "outhook:z:del:sub:" // + subscription ID
	zDeliveryEvt     = "outhook:z:del:evt:" // + event ID
	zDeliveryPend    = "outhook:z:del:pending"
	zDLQAll          = "outhook:z:dlq:all"
	zDLQSub          = "outhook:z:dlq:sub:" // + subscription ID
)

// Set indexes.
const (
	sSubscriptionActive = "outhook:s:sub:active"
)

// entityKey returns the primary key for an entity.
func entityKey(prefix, id string) string {
	return prefix + id
}
