package model

import "time"

// Bar is one historical bar.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
	WAP    float64   `json:"wap"`
	Count  int64     `json:"count"`
}

// RealtimeBar is a five second bar pushed by a real time bar subscription.
type RealtimeBar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
	WAP    float64   `json:"wap"`
	Count  int64     `json:"count"`
}

type TickKind uint8

const (
	TickPrice TickKind = iota + 1
	TickSize
	TickRTVolume
)

// Tick is one market data update delivered on a stream channel.
type Tick struct {
	Kind   TickKind  `json:"kind"`
	Time   time.Time `json:"time"`
	Field  int       `json:"field"`
	Price  float64   `json:"price"`
	Size   float64   `json:"size"`
	Volume float64   `json:"volume"`
	VWAP   float64   `json:"vwap"`
	Single bool      `json:"single"`
}
