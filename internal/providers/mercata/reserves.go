package mercata

import (
	"context"

	"github.com/ggonzalez94/mercata-mcp/internal/model"
	"github.com/shopspring/decimal"
)

// GetReserve lists the active reserves of trusted creators, optionally
// narrowed to those whose name contains, or whose asset root equals, any of
// names. Each reserve carries its active escrows, the decimals of its backing
// asset and its TVL in base units. Returns nil when no reserve matches.
func (c *Client) GetReserve(ctx context.Context, names ...string) ([]model.Reserve, error) {
	q := NewQuery().
		Eq("isActive", "true").
		In("creator", trustedCreators...)
	if len(names) > 0 {
		q.Or(reserveMatch(names)...)
	}

	var rows []reserveRow
	if err := c.search(ctx, TableReserve, q, &rows); err != nil {
		c.log.WithError(err).Error("Error fetching reserves")
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	addresses := make([]string, 0, len(rows))
	roots := make([]string, 0, len(rows))
	for _, r := range rows {
		addresses = append(addresses, r.Address)
		roots = append(roots, r.AssetRootAddress)
	}

	escrows, err := c.escrowsByReserve(ctx, addresses)
	if err != nil {
		c.log.WithError(err).Error("Error fetching reserves")
		return nil, err
	}
	decimalsByRoot, err := c.assetDecimals(ctx, roots)
	if err != nil {
		c.log.WithError(err).Error("Error fetching reserves")
		return nil, err
	}

	reserves := make([]model.Reserve, 0, len(rows))
	for _, r := range rows {
		reserve := model.Reserve{
			Address:                r.Address,
			Name:                   r.Name,
			AssetRootAddress:       r.AssetRootAddress,
			IsActive:               r.IsActive,
			Creator:                r.Creator,
			LastUpdatedOraclePrice: r.LastUpdatedOraclePrice,
			Escrows:                escrows[r.Address],
		}
		if reserve.Escrows == nil {
			reserve.Escrows = []model.Escrow{}
		}
		if d, ok := decimalsByRoot[r.AssetRootAddress]; ok {
			reserve.Decimals = &d
		}
		reserve.TVL = totalCollateral(reserve.Escrows)
		reserves = append(reserves, reserve)
	}
	return reserves, nil
}

// escrowsByReserve groups the active escrows of the given reserves by reserve address.
func (c *Client) escrowsByReserve(ctx context.Context, reserves []string) (map[string][]model.Escrow, error) {
	q := NewQuery().
		Eq("isActive", "true").
		In("creator", trustedCreators...).
		In("reserve", reserves...)

	var rows []escrowRow
	if err := c.search(ctx, TableEscrow, q, &rows); err != nil {
		return nil, err
	}
	grouped := make(map[string][]model.Escrow, len(reserves))
	for _, r := range rows {
		grouped[r.Reserve] = append(grouped[r.Reserve], r.toModel())
	}
	return grouped, nil
}

// assetDecimals maps asset address to resolved decimals. Records without an
// address or name are skipped.
func (c *Client) assetDecimals(ctx context.Context, roots []string) (map[string]int, error) {
	q := NewQuery().
		In("address", roots...).
		Select("decimals", "address", "name")

	var rows []assetRow
	if err := c.search(ctx, TableAsset, q, &rows); err != nil {
		return nil, err
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		if r.Address == "" || r.Name == "" {
			continue
		}
		out[r.Address] = ResolveDecimals(r.Name, int(r.Decimals))
	}
	return out, nil
}

func totalCollateral(escrows []model.Escrow) decimal.Decimal {
	total := decimal.Zero
	for _, e := range escrows {
		total = total.Add(e.CollateralValue)
	}
	return total
}

// GetUserDetails lists username's positive balances, summed per asset, and
// the reserves backed by those assets. Reserve escrow lists only keep
// escrows borrowed by username. Returns nil when the user holds nothing.
func (c *Client) GetUserDetails(ctx context.Context, username string) (*model.UserDetails, error) {
	q := NewQuery().
		Gt("quantity", "0").
		Eq("ownerCommonName", username).
		Select("name", "quantity:quantity.sum()", "decimals", "root")

	var rows []assetRow
	if err := c.search(ctx, TableAsset, q, &rows); err != nil {
		c.log.WithError(err).WithField("user", username).Error("Error fetching user details")
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	details := &model.UserDetails{
		Username: username,
		Assets:   make([]model.Asset, 0, len(rows)),
		Reserves: []model.Reserve{},
	}
	seen := map[string]bool{}
	roots := make([]string, 0, len(rows))
	for _, r := range rows {
		details.Assets = append(details.Assets, r.toModel())
		if r.Root != "" && !seen[r.Root] {
			seen[r.Root] = true
			roots = append(roots, r.Root)
		}
	}
	if len(roots) == 0 {
		return details, nil
	}

	reserves, err := c.GetReserve(ctx, roots...)
	if err != nil {
		return nil, err
	}
	for _, reserve := range reserves {
		own := make([]model.Escrow, 0, len(reserve.Escrows))
		for _, e := range reserve.Escrows {
			if e.BorrowerCommonName == username {
				own = append(own, e)
			}
		}
		reserve.Escrows = own
		details.Reserves = append(details.Reserves, reserve)
	}
	return details, nil
}
