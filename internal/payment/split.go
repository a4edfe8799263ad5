package payment

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Request describes one logical payment before it is split into the merchant
// and commission legs. It is immutable once constructed.
type Request struct {
	TotalUSD          decimal.Decimal
	CommissionRate    decimal.Decimal
	TokenDecimals     int
	MerchantAddress   string
	CommissionAddress string
}

// SplitAmounts holds the two legs of a payment in token atomic units.
type SplitAmounts struct {
	MerchantUSD      decimal.Decimal
	CommissionUSD    decimal.Decimal
	MerchantAtomic   *big.Int
	CommissionAtomic *big.Int
}

var one = decimal.NewFromInt(1)

// Split converts a USD amount and commission rate into the merchant and
// commission legs, flooring each leg to atomic units independently. The two
// legs can therefore sum to one atomic unit less than the floored total; the
// gateway settles on per-leg amounts, so the drift is kept rather than
// reconciled.
func Split(req Request) (SplitAmounts, error) {
	if req.TotalUSD.LessThanOrEqual(decimal.Zero) {
		return SplitAmounts{}, fmt.Errorf("%w: total %s must be positive", ErrInvalidAmount, req.TotalUSD)
	}
	if req.CommissionRate.IsNegative() || req.CommissionRate.GreaterThanOrEqual(one) {
		return SplitAmounts{}, fmt.Errorf("%w: commission rate %s outside [0,1)", ErrInvalidAmount, req.CommissionRate)
	}
	if req.TokenDecimals < 0 {
		return SplitAmounts{}, fmt.Errorf("%w: negative token decimals %d", ErrInvalidAmount, req.TokenDecimals)
	}

	commissionUSD := req.TotalUSD.Mul(req.CommissionRate)
	merchantUSD := req.TotalUSD.Sub(commissionUSD)

	return SplitAmounts{
		MerchantUSD:      merchantUSD,
		CommissionUSD:    commissionUSD,
		MerchantAtomic:   toAtomic(merchantUSD, req.TokenDecimals),
		CommissionAtomic: toAtomic(commissionUSD, req.TokenDecimals),
	}, nil
}

// toAtomic floors a USD amount to the token's smallest unit.
func toAtomic(usd decimal.Decimal, decimals int) *big.Int {
	return usd.Shift(int32(decimals)).Floor().BigInt()
}
