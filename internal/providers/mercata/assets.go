package mercata

import (
	"context"
	"strings"

	"github.com/ggonzalez94/mercata-mcp/internal/id"
	"github.com/ggonzalez94/mercata-mcp/internal/model"
)

// saleEmbed embeds each asset's sales and their payment service mappings.
var saleEmbed = TableSale + "!" + TableSale + "_" + TableAsset + "_fk(*," + TableSalePayments + "(*))"

// FindAsset resolves name to the first listed asset that has sales, and that
// asset's first open sale. The sale's USDST payment service is revalidated
// against the active payment service registry. Returns nil when no asset with
// a sale matches.
func (c *Client) FindAsset(ctx context.Context, name string) (*model.AssetListing, error) {
	q := NewQuery().
		ILike("name", name).
		NotNull("sale").
		Select("name", "decimals", "address", saleEmbed)

	var rows []assetRow
	if err := c.search(ctx, TableAsset, q, &rows); err != nil {
		c.log.WithError(err).WithField("asset", name).Error("Error fetching asset")
		return nil, err
	}

	var row *assetRow
	for i := range rows {
		if len(rows[i].Sales) > 0 {
			row = &rows[i]
			break
		}
	}
	if row == nil {
		return nil, nil
	}

	decimals := ResolveDecimals(row.Name, int(row.Decimals))
	listing := &model.AssetListing{
		Address:  row.Address,
		Name:     row.Name,
		Decimals: decimals,
		Sales:    make([]model.Sale, 0, len(row.Sales)),
	}
	for _, s := range row.Sales {
		listing.Sales = append(listing.Sales, s.toModel())
	}

	var open *model.Sale
	for i := range listing.Sales {
		if listing.Sales[i].IsOpen {
			open = &listing.Sales[i]
			break
		}
	}
	if open == nil {
		return listing, nil
	}

	price := id.FloorCents(open.Price)
	quantity := id.FromBaseUnits(open.Quantity, decimals)
	listing.Sale = open.Address
	listing.Price = &price
	listing.Quantity = &quantity

	for _, ps := range open.PaymentServices {
		if !strings.EqualFold(ps.ServiceName, tokenServiceName) {
			continue
		}
		service := ps
		active, err := c.activePaymentService(ctx, service.ServiceName, service.Creator)
		if err != nil {
			c.log.WithError(err).WithField("asset", name).Error("Error fetching asset")
			return nil, err
		}
		if active != "" {
			service.Address = active
		}
		listing.TokenPaymentService = &service
		break
	}
	return listing, nil
}

// activePaymentService returns the address of the active instance of a
// payment service, or "" when none is active.
func (c *Client) activePaymentService(ctx context.Context, serviceName, creator string) (string, error) {
	q := NewQuery().
		Eq("isActive", "true").
		Eq("serviceName", serviceName).
		Eq("creator", creator).
		Limit(1).
		Select("address")

	var rows []addressRow
	if err := c.search(ctx, TablePaymentService, q, &rows); err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}
	return rows[0].Address, nil
}

// GetUserCommonName resolves the common name registered for address. With no
// address it returns the name claim of the signed-in account. Unknown
// identities resolve to "".
func (c *Client) GetUserCommonName(ctx context.Context, address string) (string, error) {
	if strings.TrimSpace(address) == "" {
		name, err := c.identity.Name(ctx)
		if err != nil {
			c.log.WithError(err).Error("Error fetching user common name")
			return "", err
		}
		return name, nil
	}

	q := NewQuery().
		Eq("userAddress", address).
		Select("commonName").
		Limit(1)

	var rows []certificateRow
	if err := c.search(ctx, TableCertificate, q, &rows); err != nil {
		c.log.WithError(err).WithField("address", address).Error("Error fetching user common name")
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}
	return rows[0].CommonName, nil
}
