package mcpserver

import (
	"fmt"
	"strings"

	"github.com/ggonzalez94/mercata-mcp/internal/id"
	"github.com/ggonzalez94/mercata-mcp/internal/model"
	"github.com/shopspring/decimal"
)

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func formatAlerts(state string, alerts []model.Alert) string {
	blocks := make([]string, 0, len(alerts))
	for _, a := range alerts {
		blocks = append(blocks, strings.Join([]string{
			"Event: " + orDefault(a.Event, "Unknown"),
			"Area: " + orDefault(a.AreaDesc, "Unknown"),
			"Severity: " + orDefault(a.Severity, "Unknown"),
			"Status: " + orDefault(a.Status, "Unknown"),
			"Headline: " + orDefault(a.Headline, "No headline"),
			"---",
		}, "\n"))
	}
	return fmt.Sprintf("Active alerts for %s:\n\n%s", state, strings.Join(blocks, "\n"))
}

func formatForecast(latitude, longitude float64, periods []model.ForecastPeriod) string {
	blocks := make([]string, 0, len(periods))
	for _, p := range periods {
		blocks = append(blocks, strings.Join([]string{
			orDefault(p.Name, "Unknown") + ":",
			fmt.Sprintf("Temperature: %s°%s", orDefault(p.Temperature.String(), "Unknown"), orDefault(p.TemperatureUnit, "F")),
			fmt.Sprintf("Wind: %s %s", orDefault(p.WindSpeed, "Unknown"), p.WindDirection),
			orDefault(p.ShortForecast, "No forecast available"),
			"---",
		}, "\n"))
	}
	return fmt.Sprintf("Forecast for %s, %s:\n\n%s", formatNumber(latitude), formatNumber(longitude), strings.Join(blocks, "\n"))
}

// oraclePrice scales the stored oracle price by the reserve asset's decimals.
func oraclePrice(r model.Reserve) string {
	decimals := 0
	if r.Decimals != nil {
		decimals = *r.Decimals
	}
	return r.LastUpdatedOraclePrice.Shift(int32(decimals)).StringFixed(2)
}

func usd(baseUnits decimal.Decimal) string {
	return id.FormatBaseUnits(baseUnits, id.USDSTDecimals, 2)
}

func formatEscrow(e model.Escrow, prefix string) string {
	return fmt.Sprintf("    Escrow with address %s%s: collateralValue=%s (in USD), borrowAmount=%s (in USD),\n      borrowerAddress=%s, borrowerCommonName=%s",
		prefix, e.Address, usd(e.CollateralValue), usd(e.BorrowedAmount),
		orDefault(e.Borrower, "N/A"), orDefault(e.BorrowerCommonName, "N/A"))
}

func formatEscrows(escrows []model.Escrow, prefix string) string {
	if len(escrows) == 0 {
		return "    No escrows"
	}
	lines := make([]string, 0, len(escrows))
	for _, e := range escrows {
		lines = append(lines, formatEscrow(e, prefix))
	}
	return strings.Join(lines, "\n")
}

func formatReserves(reserves []model.Reserve) string {
	blocks := make([]string, 0, len(reserves))
	for _, r := range reserves {
		blocks = append(blocks, strings.Join([]string{
			"Asset: " + orDefault(r.Name, "N/A"),
			"  TVL: " + usd(r.TVL),
			"  Price: " + oraclePrice(r) + " (in USD)",
			"  Reserve: " + orDefault(r.Address, "N/A"),
			"  Escrows for reserve:\n" + formatEscrows(r.Escrows, "#"),
		}, "\n"))
	}
	return strings.Join(blocks, "\n\n")
}

func formatUserDetails(d *model.UserDetails) string {
	assets := make([]string, 0, len(d.Assets))
	for _, a := range d.Assets {
		assets = append(assets, fmt.Sprintf("- %s: %s (in asset quantity)", a.Name, id.FormatBaseUnits(a.Quantity, a.Decimals, 2)))
	}

	reserves := make([]string, 0, len(d.Reserves))
	for _, r := range d.Reserves {
		reserves = append(reserves, strings.Join([]string{
			"- " + orDefault(r.Name, "N/A") + ":",
			"  Price: " + oraclePrice(r) + " (in USD)",
			"  Reserve Address: " + orDefault(r.Address, "N/A"),
			"  Escrows for reserve:\n" + formatEscrows(r.Escrows, ""),
		}, "\n"))
	}
	reservesText := strings.Join(reserves, "\n")
	if reservesText == "" {
		reservesText = "- None"
	}

	return fmt.Sprintf("User: %s\n\nAssets:\n%s\n\nReserves:\n%s", d.Username, strings.Join(assets, "\n"), reservesText)
}
