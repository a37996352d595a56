package enum

// OrderStatus is the lifecycle state of an order held by the ledger.
type OrderStatus uint8

const (
	OrderStatusUnknown OrderStatus = iota
	OrderStatusPendingSubmit
	OrderStatusSubmitted
	OrderStatusPartiallyFilled
	OrderStatusFilled
	OrderStatusCancelled
	OrderStatusRejected
	OrderStatusExpired
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusPendingSubmit:
		return "PendingSubmit"
	case OrderStatusSubmitted:
		return "Submitted"
	case OrderStatusPartiallyFilled:
		return "PartiallyFilled"
	case OrderStatusFilled:
		return "Filled"
	case OrderStatusCancelled:
		return "Cancelled"
	case OrderStatusRejected:
		return "Rejected"
	case OrderStatusExpired:
		return "Expired"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

func (s OrderStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Broker status strings carried by order status events.
const (
	BrokerStatusPendingSubmit = "PendingSubmit"
	BrokerStatusPendingCancel = "PendingCancel"
	BrokerStatusPreSubmitted  = "PreSubmitted"
	BrokerStatusSubmitted     = "Submitted"
	BrokerStatusApiCancelled  = "ApiCancelled"
	BrokerStatusCancelled     = "Cancelled"
	BrokerStatusCanceled      = "Canceled"
	BrokerStatusFilled        = "Filled"
	BrokerStatusInactive      = "Inactive"
)
