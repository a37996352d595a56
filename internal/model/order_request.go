package model

import (
	"time"

	"ibbridge/internal/model/enum"
	"ibbridge/pkg/exception"

	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"
)

// OrderRequest is the caller-facing order description.
type OrderRequest struct {
	Account      string            `json:"account"`
	Contract     Contract          `json:"contract"`
	Action       enum.Action       `json:"action" validate:"enum"`
	Size         float64           `json:"size" validate:"gt=0"`
	ExecType     enum.ExecType     `json:"execType" validate:"enum"`
	Price        float64           `json:"price" validate:"gte=0"`
	PriceLimit   float64           `json:"priceLimit" validate:"gte=0"`
	TrailAmount  float64           `json:"trailAmount" validate:"gte=0"`
	TrailPercent float64           `json:"trailPercent" validate:"gte=0,lt=1"`
	TimeInForce  enum.TimeInForce  `json:"timeInForce"`
	GoodTill     time.Time         `json:"goodTill"`
	ParentID     int64             `json:"parentId" validate:"gte=0"`
	OCO          int64             `json:"oco" validate:"gte=0"`
	Transmit     *bool             `json:"transmit"`
	Extensions   map[string]string `json:"extensions" validate:"omitempty,dive,keys,required,endkeys"`
}

// CheckPrices enforces the price fields each execution type needs.
func (r OrderRequest) CheckPrices() error {
	switch r.ExecType {
	case enum.ExecLimit, enum.ExecStop:
		if r.Price <= 0 {
			return errors.Wrapf(exception.ErrOrderInvalidRequest, "%s needs price", r.ExecType)
		}
	case enum.ExecStopLimit:
		if r.Price <= 0 || r.PriceLimit <= 0 {
			return errors.Wrapf(exception.ErrOrderInvalidRequest, "%s needs price and price limit", r.ExecType)
		}
	case enum.ExecStopTrail, enum.ExecStopTrailLimit:
		if r.TrailAmount <= 0 && r.TrailPercent <= 0 {
			return errors.Wrapf(exception.ErrOrderInvalidRequest, "%s needs trail amount or percent", r.ExecType)
		}
		if r.ExecType == enum.ExecStopTrailLimit && r.PriceLimit <= 0 {
			return errors.Wrapf(exception.ErrOrderInvalidRequest, "%s needs price limit", r.ExecType)
		}
	}
	if r.TimeInForce == enum.TimeInForceGTD && r.GoodTill.IsZero() {
		return errors.Wrap(exception.ErrOrderInvalidRequest, "GTD needs good till")
	}
	return nil
}

// Order builds the ledger record. ID and OCA group are filled by the ledger.
func (r OrderRequest) Order(now time.Time) *Order {
	tif := r.TimeInForce
	if !tif.IsAvailable() {
		tif = enum.TimeInForceGTC
	}
	transmit := true
	if r.Transmit != nil {
		transmit = *r.Transmit
	}
	return &Order{
		Account:      r.Account,
		Contract:     r.Contract,
		Action:       r.Action,
		Size:         decimal.NewFromFloat(r.Size),
		ExecType:     r.ExecType,
		Price:        decimal.NewFromFloat(r.Price),
		PriceLimit:   decimal.NewFromFloat(r.PriceLimit),
		TrailAmount:  decimal.NewFromFloat(r.TrailAmount),
		TrailPercent: decimal.NewFromFloat(r.TrailPercent),
		TimeInForce:  tif,
		GoodTill:     r.GoodTill,
		ParentID:     r.ParentID,
		Transmit:     transmit,
		Extensions:   r.Extensions,
		Status:       enum.OrderStatusPendingSubmit,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
