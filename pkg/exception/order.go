package exception

import "github.com/yanun0323/errors"

var (
	ErrOrderInvalidRequest     = errors.New("order: invalid request")
	ErrOrderUnsupportedType    = errors.New("order: unsupported execution type")
	ErrOrderUnknown            = errors.New("order: unknown order id")
	ErrOrderDuplicate          = errors.New("order: duplicate order id")
	ErrOrderTerminal           = errors.New("order: already terminal")
	ErrOrderIDNotAnnounced     = errors.New("order: next valid id not announced")
	ErrOrderUnknownParent      = errors.New("order: unknown parent order")
	ErrOrderUnknownOCAReferent = errors.New("order: unknown oca referent order")
)
