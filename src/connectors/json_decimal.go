package connectors

import (
	"strings"

	"github.com/shopspring/decimal"
)

// jsonDecimal accepts numbers sent as JSON numbers, quoted strings, or "" (zero).
type jsonDecimal struct {
	decimal.Decimal
}

func (d *jsonDecimal) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		d.Decimal = decimal.Zero
		return nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return err
	}
	d.Decimal = v
	return nil
}
