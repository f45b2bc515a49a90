package constant

const (
	BrokerageStreamName       = "brokerage"
	BrokerageStreamSubjectAll = "brokerage.>"

	OrderPlacedSubject       = "brokerage.order.placed"
	OrderTerminalSubject     = "brokerage.order.terminal"
	OrderCancelFailedSubject = "brokerage.order.cancel_failed"
)
