package models

import "github.com/shopspring/decimal"

// MoneyEpsilon absorbs floating rounding when comparing amounts against a balance.
const MoneyEpsilon = 0.01

// TaxRate is applied to the session subtotal.
const TaxRate = 0.16

// RoundMoney rounds to cents, half away from zero.
func RoundMoney(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

// SumMoney adds amounts in decimal and rounds the result to cents.
func SumMoney(values ...float64) float64 {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(decimal.NewFromFloat(v))
	}
	f, _ := total.Round(2).Float64()
	return f
}

// MulMoney returns price * qty rounded to cents.
func MulMoney(price float64, qty int) float64 {
	f, _ := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(int64(qty))).Round(2).Float64()
	return f
}
