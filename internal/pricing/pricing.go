// Package pricing holds the pure price derivations applied when a sale is
// recorded or edited. Callers are responsible for rejecting negative inputs;
// every function here assumes a non-negative sale price.
package pricing

import "math"

// TransportRate is the flat surcharge applied to every delivered sale.
const TransportRate = 0.05

// Round1 rounds a monetary value to one decimal place, matching the
// precision sales and stock prices are stored with.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Transport computes the 5% transport surcharge for a sale price,
// rounded to one decimal place. A zero price yields a zero surcharge.
func Transport(salePrice float64) float64 {
	return Round1(salePrice * TransportRate)
}

// Total is the sale price plus its transport surcharge.
func Total(salePrice float64) float64 {
	return Round1(salePrice + Transport(salePrice))
}

// Resolve returns the transport and total for a sale price, honouring an
// explicit transport override. A zero override is the sentinel for "derive".
func Resolve(salePrice float64, transport float64) (float64, float64) {
	if transport == 0 {
		transport = Transport(salePrice)
	}
	return transport, Round1(salePrice + transport)
}
