package posting

import (
	"math"

	"github.com/MrJamesThe3rd/reloop/internal/exchange"
)

// AdminFeePercent is charged on top of every repair price.
const AdminFeePercent = 5

// RepairPrice is the category's unit price for the repair type times the
// item weight, rounded up to a whole currency unit.
func RepairPrice(c *exchange.Category, t exchange.RepairType, weight float64) (int64, bool) {
	unit, ok := c.RepairPrices[t]
	if !ok || unit <= 0 {
		return 0, false
	}

	// The epsilon absorbs float error such as 10000*1.1 = 11000.000000000002.
	return int64(math.Ceil(float64(unit)*weight - 1e-6)), true
}

// AdminFee is AdminFeePercent of price, rounded up.
func AdminFee(price int64) int64 {
	return (price*AdminFeePercent + 99) / 100
}
