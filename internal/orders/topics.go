package orders

import "strconv"

const (
	TopicPaymentWebhooks = "payments.webhook.received"
	TopicFulfillment     = "fulfillment.requested"
	TopicWarehouseNotify = "notify.warehouse"
)

// Partition key = order id so all tasks for one order keep their order.
func PartitionKey(orderID int64) []byte {
	return []byte(strconv.FormatInt(orderID, 10))
}
