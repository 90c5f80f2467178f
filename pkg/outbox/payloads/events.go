package payloads

// InvoiceRequestedEvent asks the dispatcher to render and send the invoice
// for a committed order. Only the order id travels; the worker reloads the
// order in its own session.
type InvoiceRequestedEvent struct {
	OrderID string `json:"order_id"`
}
