package utils

import (
	"github.com/shopspring/decimal"
)

// UK VAT standard rate applied to remediation cost estimates in claims
// schedules. Stored estimates are always net; VAT is presentation only.
var StandardVATRate = decimal.NewFromInt(20)

func CalculateVATAmount(netAmount decimal.Decimal, rate decimal.Decimal) decimal.Decimal {
	return netAmount.Mul(rate).DivRound(decimal.NewFromInt(100), 2)
}

func GrossFromNet(netAmount decimal.Decimal, rate decimal.Decimal) decimal.Decimal {
	return netAmount.Add(CalculateVATAmount(netAmount, rate))
}

// NetFromGross backs the net figure out of a VAT-inclusive amount:
// gross / (100 + rate) * 100, rounded to pennies.
func NetFromGross(grossAmount decimal.Decimal, rate decimal.Decimal) decimal.Decimal {
	return grossAmount.DivRound(rate.Add(decimal.NewFromInt(100)), 4).
		Mul(decimal.NewFromInt(100)).Round(2)
}
