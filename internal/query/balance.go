package query

import (
	"context"
	"math/big"
	"strconv"

	"github.com/shopspring/decimal"

	"YokoFund/internal/address"
)

// UIAmount renders base units as a decimal with the mint's precision.
func UIAmount(amount uint64, decimals uint8) string {
	d := decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -int32(decimals))
	return d.StringFixed(int32(decimals))
}

// GetHoldings returns the open holding accounts owned by owner.
func (qs *QueryService) GetHoldings(ctx context.Context, owner address.Pubkey) (holdings []HoldingResponse, err error) {
	defer qs.track("holdings")(&err)

	rows, err := qs.db.QueryContext(ctx, `
		SELECT ta.address, ta.mint, ta.amount, COALESCE(m.decimals, 0)
		FROM projections.token_accounts ta
		LEFT JOIN projections.mints m ON m.address = ta.mint
		WHERE ta.owner = $1 AND NOT ta.closed
		ORDER BY ta.mint
	`, owner.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			h        HoldingResponse
			amount   string
			decimals int64
		)
		if err := rows.Scan(&h.Account, &h.Mint, &amount, &decimals); err != nil {
			return nil, err
		}
		if h.Amount, err = parseNumeric(amount); err != nil {
			return nil, err
		}
		h.Decimals = uint8(decimals)
		h.UIAmount = UIAmount(h.Amount, h.Decimals)
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

// parseNumeric reads a NUMERIC(20,0) column scanned as text.
func parseNumeric(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}
