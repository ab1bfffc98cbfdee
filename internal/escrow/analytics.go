package escrow

import (
	"context"
	"math/big"
	"sort"
	"strings"

	"github.com/acethrift/ace/internal/token"
)

const (
	// analyticsScanLimit caps how many escrows a single Stats call aggregates.
	analyticsScanLimit = 10000
	topSellerLimit     = 10
)

// Stats summarizes settlement activity, platform-wide or for one seller.
type Stats struct {
	Open      int64 `json:"open"`
	Completed int64 `json:"completed"`
	Refunded  int64 `json:"refunded"`
	Total     int64 `json:"total"`

	// Volume sums escrow amounts per denom, split by outcome.
	Volume map[string]VolumeByOutcome `json:"volume"`

	TopSellers []SellerStats `json:"topSellers,omitempty"`
}

// VolumeByOutcome holds formatted amount totals for one denom.
type VolumeByOutcome struct {
	Open      string `json:"open"`
	Completed string `json:"completed"`
	Refunded  string `json:"refunded"`
}

// SellerStats aggregates one seller's escrows. Volume counts only
// completed escrows, per denom.
type SellerStats struct {
	Seller    string            `json:"seller"`
	Escrows   int64             `json:"escrows"`
	Completed int64             `json:"completed"`
	Volume    map[string]string `json:"volume"`
}

// Stats aggregates recent escrows. An empty seller gives platform-wide
// numbers; otherwise only that seller's escrows are counted.
func (en *Engine) Stats(ctx context.Context, seller string) (*Stats, error) {
	seller = strings.ToLower(seller)
	escrows, err := en.store.QueryForAnalytics(ctx, seller, analyticsScanLimit)
	if err != nil {
		return nil, err
	}

	denoms := make(map[token.Denom]bool)
	open := make(map[token.Denom]*big.Int)
	completed := make(map[token.Denom]*big.Int)
	refunded := make(map[token.Denom]*big.Int)
	add := func(m map[token.Denom]*big.Int, d token.Denom, amt *big.Int) {
		denoms[d] = true
		if m[d] == nil {
			m[d] = new(big.Int)
		}
		m[d].Add(m[d], amt)
	}

	bySeller := make(map[string]*SellerStats)
	sellerVol := make(map[string]map[token.Denom]*big.Int)

	st := &Stats{Volume: make(map[string]VolumeByOutcome)}
	for _, e := range escrows {
		st.Total++

		// A stored amount that fails to parse counts as zero volume
		// rather than poisoning the whole aggregation.
		amt, ok := token.Parse(e.Amount, e.Denom)
		if !ok {
			amt = new(big.Int)
		}

		ss := bySeller[e.Seller]
		if ss == nil {
			ss = &SellerStats{Seller: e.Seller, Volume: make(map[string]string)}
			bySeller[e.Seller] = ss
			sellerVol[e.Seller] = make(map[token.Denom]*big.Int)
		}
		ss.Escrows++

		switch {
		case e.Completed:
			st.Completed++
			ss.Completed++
			add(completed, e.Denom, amt)
			if sellerVol[e.Seller][e.Denom] == nil {
				sellerVol[e.Seller][e.Denom] = new(big.Int)
			}
			sellerVol[e.Seller][e.Denom].Add(sellerVol[e.Seller][e.Denom], amt)
		case e.Refunded:
			st.Refunded++
			add(refunded, e.Denom, amt)
		default:
			st.Open++
			add(open, e.Denom, amt)
		}
	}

	for d := range denoms {
		format := func(m map[token.Denom]*big.Int) string {
			if m[d] == nil {
				return token.Format(new(big.Int), d)
			}
			return token.Format(m[d], d)
		}
		st.Volume[string(d)] = VolumeByOutcome{
			Open:      format(open),
			Completed: format(completed),
			Refunded:  format(refunded),
		}
	}

	for addr, vols := range sellerVol {
		for d, v := range vols {
			bySeller[addr].Volume[string(d)] = token.Format(v, d)
		}
	}
	for _, ss := range bySeller {
		st.TopSellers = append(st.TopSellers, *ss)
	}
	sort.Slice(st.TopSellers, func(i, j int) bool {
		a, b := st.TopSellers[i], st.TopSellers[j]
		if a.Completed != b.Completed {
			return a.Completed > b.Completed
		}
		return a.Seller < b.Seller
	})
	if len(st.TopSellers) > topSellerLimit {
		st.TopSellers = st.TopSellers[:topSellerLimit]
	}
	return st, nil
}
