package model

import (
	"time"

	"ibbridge/internal/model/enum"

	"github.com/yanun0323/decimal"
)

// Notification is one caller-visible state change.
type Notification struct {
	Kind    enum.NotificationKind `json:"kind"`
	Time    time.Time             `json:"time"`
	Order   *Order                `json:"order,omitempty"`
	Code    int                   `json:"code,omitempty"`
	Message string                `json:"message,omitempty"`
	Drift   *Drift                `json:"drift,omitempty"`
}

// Drift describes a mismatch between the local position and a broker snapshot.
type Drift struct {
	Account string          `json:"account"`
	ConID   int64           `json:"conId"`
	Local   decimal.Decimal `json:"local"`
	Broker  decimal.Decimal `json:"broker"`
}
