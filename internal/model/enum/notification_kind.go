package enum

type NotificationKind uint8

const (
	NotificationUnknown NotificationKind = iota
	NotificationSubmitted
	NotificationAccepted
	NotificationPartial
	NotificationCompleted
	NotificationCancelled
	NotificationExpired
	NotificationRejected
	NotificationDrift
	NotificationBrokerError
)

func (k NotificationKind) String() string {
	switch k {
	case NotificationSubmitted:
		return "submitted"
	case NotificationAccepted:
		return "accepted"
	case NotificationPartial:
		return "partial"
	case NotificationCompleted:
		return "completed"
	case NotificationCancelled:
		return "cancelled"
	case NotificationExpired:
		return "expired"
	case NotificationRejected:
		return "rejected"
	case NotificationDrift:
		return "drift"
	case NotificationBrokerError:
		return "broker_error"
	default:
		return "unknown"
	}
}

// IsOrder reports whether the notification carries an order snapshot.
func (k NotificationKind) IsOrder() bool {
	return k >= NotificationSubmitted && k <= NotificationRejected
}

// IsTerminal reports whether the notification closes an order's lifecycle.
func (k NotificationKind) IsTerminal() bool {
	switch k {
	case NotificationCompleted, NotificationCancelled, NotificationExpired, NotificationRejected:
		return true
	default:
		return false
	}
}

func (k NotificationKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}
