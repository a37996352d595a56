package model

// Contract identifies an instrument as the broker knows it.
type Contract struct {
	ConID           int64  `json:"conId" validate:"gte=0"`
	Symbol          string `json:"symbol" validate:"required"`
	SecType         string `json:"secType" validate:"required,oneof=STK CASH CFD IND FUT OPT FOP WAR BOND CMDTY"`
	Exchange        string `json:"exchange"`
	PrimaryExchange string `json:"primaryExchange,omitempty"`
	Currency        string `json:"currency"`
	Multiplier      string `json:"multiplier,omitempty"`
	LocalSymbol     string `json:"localSymbol,omitempty"`
}

// IsCash reports whether quotes arrive as bid/ask only (forex, CFDs).
func (c Contract) IsCash() bool {
	return c.SecType == "CASH" || c.SecType == "CFD"
}

func (c Contract) IsIndex() bool {
	return c.SecType == "IND"
}
