package events

const (
	TopicOrderLifecycle  = "order.lifecycle"
	TopicReturnLifecycle = "order.returns"
	TopicInventory       = "inventory.alerts"
	TopicFinance         = "finance.reconciliation"
	TopicCODRemittance   = "cod.remittance"
)

// Partition key = order_id, supaya semua event 1 order maintain urutan.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
