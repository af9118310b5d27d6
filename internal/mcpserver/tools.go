package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	clierr "github.com/ggonzalez94/mercata-mcp/internal/errors"
	"github.com/ggonzalez94/mercata-mcp/internal/id"
	"github.com/ggonzalez94/mercata-mcp/internal/model"
	"github.com/ggonzalez94/mercata-mcp/internal/providers"
	"github.com/ggonzalez94/mercata-mcp/internal/providers/nws"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/shopspring/decimal"
)

const (
	CategoryWeather = "weather"
	CategoryMercata = "mercata"

	// collateralDecimals is the precision of staked collateral quantities.
	collateralDecimals = 18
)

var (
	toolAlerts   = model.ToolInfo{Name: "get-alerts", Description: "Get weather alerts for a state", Category: CategoryWeather}
	toolForecast = model.ToolInfo{Name: "get-forecast", Description: "Get weather forecast for a location", Category: CategoryWeather}
	toolReserves = model.ToolInfo{Name: "get-reserve-details-of-assets", Description: "Get the current tvl, price, and reserve & escrow details of assets", Category: CategoryMercata}
	toolUser     = model.ToolInfo{Name: "get-mercata-user-details", Description: "Get the user details of a mercata username, if the user is me, the username parameter is not required", Category: CategoryMercata}
	toolPurchase = model.ToolInfo{Name: "purchase-asset-for-user", Description: "Purchase an asset for the user. The user must be the one who is logged in.", Category: CategoryMercata, Mutating: true}
	toolBorrow   = model.ToolInfo{Name: "borrow-usdst-for-user", Description: "Borrow an USDST for the user from a reserve on the mercata blockchain.", Category: CategoryMercata, Mutating: true}
	toolStake    = model.ToolInfo{Name: "stake-asset-for-user", Description: "Stake an asset of the user on a reserve on the mercata blockchain.", Category: CategoryMercata, Mutating: true}
)

// Catalog lists every tool the server can register.
func Catalog() []model.ToolInfo {
	return []model.ToolInfo{toolAlerts, toolForecast, toolReserves, toolUser, toolPurchase, toolBorrow, toolStake}
}

// --- Input types ---

type alertsInput struct {
	State string `json:"state" jsonschema:"Two-letter state code (e.g. CA, NY)"`
}

type forecastInput struct {
	Latitude  float64 `json:"latitude" jsonschema:"Latitude of the location, between -90 and 90"`
	Longitude float64 `json:"longitude" jsonschema:"Longitude of the location, between -180 and 180"`
}

type reservesInput struct {
	AssetNames []string `json:"assetNames,omitempty" jsonschema:"List of asset names to get tvl, price, and reserve & escrow details for (optional)"`
}

type userInput struct {
	User string `json:"user,omitempty" jsonschema:"User name or user address. Omit for the signed-in user"`
}

type purchaseInput struct {
	Asset    string  `json:"asset" jsonschema:"Asset Name"`
	Quantity float64 `json:"quantity" jsonschema:"Quantity to purchase"`
}

type borrowInput struct {
	ReserveAddress string  `json:"reserveAddress" jsonschema:"Reserve Address to borrow from"`
	EscrowAddress  string  `json:"escrowAddress" jsonschema:"Escrow Address that represents the user position on the reserve"`
	Quantity       float64 `json:"quantity" jsonschema:"Quantity to borrow"`
}

type stakeInput struct {
	AssetName string  `json:"assetName" jsonschema:"Asset Name"`
	Quantity  float64 `json:"quantity" jsonschema:"Quantity to stake"`
}

// fieldLimits adds constraints to properties of an inferred input schema.
type fieldLimits map[string]func(*jsonschema.Schema)

func exactLength(n int) func(*jsonschema.Schema) {
	return func(p *jsonschema.Schema) {
		p.MinLength = &n
		p.MaxLength = &n
	}
}

func between(lo, hi float64) func(*jsonschema.Schema) {
	return func(p *jsonschema.Schema) {
		p.Minimum = &lo
		p.Maximum = &hi
	}
}

func aboveZero(p *jsonschema.Schema) {
	zero := 0.0
	p.ExclusiveMinimum = &zero
}

// inputSchema infers the schema for In and applies limits. The handlers check
// the same limits.
func inputSchema[In any](limits fieldLimits) *jsonschema.Schema {
	schema, err := jsonschema.For[In](nil)
	if err != nil {
		panic(fmt.Sprintf("input schema: %v", err))
	}
	for name, apply := range limits {
		prop, ok := schema.Properties[name]
		if !ok {
			panic(fmt.Sprintf("input schema: no property %q", name))
		}
		apply(prop)
	}
	return schema
}

func (s *Server) registerTools() {
	if s.weather != nil {
		addTool(s, toolAlerts, fieldLimits{"state": exactLength(2)}, s.handleAlerts)
		addTool(s, toolForecast, fieldLimits{"latitude": between(-90, 90), "longitude": between(-180, 180)}, s.handleForecast)
	}
	if s.market != nil {
		addTool(s, toolReserves, nil, s.handleReserves)
		addTool(s, toolUser, nil, s.handleUser)
		addTool(s, toolPurchase, fieldLimits{"quantity": aboveZero}, s.handlePurchase)
		addTool(s, toolBorrow, fieldLimits{"quantity": aboveZero}, s.handleBorrow)
		addTool(s, toolStake, fieldLimits{"quantity": aboveZero}, s.handleStake)
	}
}

// --- Weather handlers ---

func (s *Server) handleAlerts(ctx context.Context, in alertsInput) *mcp.CallToolResult {
	state, ok := stateCode(in.State)
	if !ok {
		return s.failure(toolAlerts.Name, in, clierr.New(clierr.CodeUsage, "state must be a two-letter state code"))
	}

	alerts, err := s.weather.Alerts(ctx, state)
	if err != nil {
		s.log.WithError(err).WithField("tool", toolAlerts.Name).Error("Error making NWS request")
		return textResult("Failed to retrieve alerts data")
	}
	if len(alerts) == 0 {
		return textResult("No active alerts for " + state)
	}
	return textResult(formatAlerts(state, alerts))
}

// stateCode upper-cases v and reports whether it is exactly two ASCII letters.
func stateCode(v string) (string, bool) {
	if len(v) != 2 {
		return "", false
	}
	code := strings.ToUpper(v)
	for i := 0; i < len(code); i++ {
		if code[i] < 'A' || code[i] > 'Z' {
			return "", false
		}
	}
	return code, true
}

func (s *Server) handleForecast(ctx context.Context, in forecastInput) *mcp.CallToolResult {
	if math.IsNaN(in.Latitude) || in.Latitude < -90 || in.Latitude > 90 {
		return s.failure(toolForecast.Name, in, clierr.New(clierr.CodeUsage, "latitude must be between -90 and 90"))
	}
	if math.IsNaN(in.Longitude) || in.Longitude < -180 || in.Longitude > 180 {
		return s.failure(toolForecast.Name, in, clierr.New(clierr.CodeUsage, "longitude must be between -180 and 180"))
	}

	periods, err := s.weather.Forecast(ctx, in.Latitude, in.Longitude)
	if err != nil {
		s.log.WithError(err).WithField("tool", toolForecast.Name).Error("Error making NWS request")
		var lookupErr *nws.LookupError
		stage := nws.StageForecast
		if errors.As(err, &lookupErr) {
			stage = lookupErr.Stage
		}
		switch stage {
		case nws.StagePoints:
			return textResult(fmt.Sprintf("Failed to retrieve grid point data for coordinates: %s, %s. This location may not be supported by the NWS API (only US locations are supported).",
				formatNumber(in.Latitude), formatNumber(in.Longitude)))
		case nws.StageForecastURL:
			return textResult("Failed to get forecast URL from grid point data")
		default:
			return textResult("Failed to retrieve forecast data")
		}
	}
	if len(periods) == 0 {
		return textResult("No forecast periods available")
	}
	return textResult(formatForecast(in.Latitude, in.Longitude, periods))
}

// --- Marketplace handlers ---

func (s *Server) handleReserves(ctx context.Context, in reservesInput) *mcp.CallToolResult {
	reserves, err := s.market.GetReserve(ctx, in.AssetNames...)
	if err != nil {
		return s.failure(toolReserves.Name, in, err)
	}
	if len(reserves) == 0 {
		if len(in.AssetNames) > 0 {
			return textResult("No reserve found for asset: " + strings.Join(in.AssetNames, ", "))
		}
		return textResult("No reserves found.")
	}
	return textResult(formatReserves(reserves))
}

func (s *Server) handleUser(ctx context.Context, in userInput) *mcp.CallToolResult {
	username, err := ResolveUser(ctx, s.market, in.User)
	if err != nil {
		return s.failure(toolUser.Name, in, err)
	}
	if username == "" {
		return textResult("No username provided and no default username configured. Ask for the exact username or user address")
	}

	details, err := s.market.GetUserDetails(ctx, username)
	if err != nil {
		return s.failure(toolUser.Name, in, err)
	}
	if details == nil {
		return textResult("No user found for username: " + username)
	}
	return textResult(formatUserDetails(details))
}

// ResolveUser maps a user parameter to a common name. Addresses go through
// the certificate registry, other values are taken as the name itself, and an
// empty value means the signed-in account.
func ResolveUser(ctx context.Context, market providers.Marketplace, user string) (string, error) {
	user = strings.TrimSpace(user)
	switch {
	case user == "":
		return market.GetUserCommonName(ctx, "")
	case id.IsAddress(user):
		address, err := id.ParseAddress("user", user)
		if err != nil {
			return "", err
		}
		return market.GetUserCommonName(ctx, address)
	default:
		return user, nil
	}
}

func (s *Server) handlePurchase(ctx context.Context, in purchaseInput) *mcp.CallToolResult {
	if strings.TrimSpace(in.Asset) == "" {
		return s.failure(toolPurchase.Name, in, clierr.New(clierr.CodeUsage, "asset is required"))
	}
	if err := positive(in.Quantity); err != nil {
		return s.failure(toolPurchase.Name, in, err)
	}

	listing, err := s.market.FindAsset(ctx, in.Asset)
	if err != nil {
		return s.failure(toolPurchase.Name, in, err)
	}
	if listing == nil {
		return textResult("No asset found for name: " + in.Asset)
	}
	if !listing.HasOpenSale() || listing.TokenPaymentService == nil {
		return textResult(fmt.Sprintf("Asset %s has no open sale accepting USDST", in.Asset))
	}
	totalCost := decimal.NewFromFloat(in.Quantity).Mul(*listing.Price)

	username, err := s.market.GetUserCommonName(ctx, "")
	if err != nil {
		return s.failure(toolPurchase.Name, in, err)
	}
	details, err := s.market.GetUserDetails(ctx, username)
	if err != nil {
		return s.failure(toolPurchase.Name, in, err)
	}
	if details == nil {
		return textResult("No user address found. Please log in first.")
	}
	balance, ok := usdstBalance(details.Assets)
	if !ok {
		return textResult("No USDST balance found. Please log in first.")
	}
	if balance.LessThan(totalCost) {
		return textResult(fmt.Sprintf("Insufficient USDST balance. You have %s USDST.", balance.String()))
	}

	units, err := id.ToBaseUnits(in.Quantity, listing.Decimals)
	if err != nil {
		return s.failure(toolPurchase.Name, in, err)
	}
	res, err := s.market.PurchaseAsset(ctx, providers.PurchaseRequest{
		Sale:           listing.Sale,
		PaymentService: listing.TokenPaymentService.Address,
		Username:       username,
		Quantity:       units,
		Decimals:       listing.Decimals,
	})
	if err != nil {
		return s.failure(toolPurchase.Name, in, err)
	}
	if res == nil {
		return textResult("Failed to purchase asset: " + in.Asset)
	}
	return textResult(fmt.Sprintf("Purchased %s of %s for %s USDST.", formatNumber(in.Quantity), in.Asset, totalCost.String()))
}

// usdstBalance returns the human USDST balance among assets.
func usdstBalance(assets []model.Asset) (decimal.Decimal, bool) {
	for _, a := range assets {
		if a.Name != "USDST" {
			continue
		}
		decimals := a.Decimals
		if decimals == 0 {
			decimals = id.USDSTDecimals
		}
		balance := id.FromBaseUnits(a.Quantity, decimals)
		return balance, !balance.IsZero()
	}
	return decimal.Zero, false
}

func (s *Server) handleBorrow(ctx context.Context, in borrowInput) *mcp.CallToolResult {
	reserve, err := id.ParseAddress("reserveAddress", in.ReserveAddress)
	if err != nil {
		return s.failure(toolBorrow.Name, in, err)
	}
	escrow, err := id.ParseAddress("escrowAddress", in.EscrowAddress)
	if err != nil {
		return s.failure(toolBorrow.Name, in, err)
	}
	if err := positive(in.Quantity); err != nil {
		return s.failure(toolBorrow.Name, in, err)
	}
	units, err := id.ToBaseUnits(in.Quantity, id.USDSTDecimals)
	if err != nil {
		return s.failure(toolBorrow.Name, in, err)
	}

	res, err := s.market.Borrow(ctx, providers.BorrowRequest{Reserve: reserve, Escrow: escrow, Quantity: units})
	if err != nil {
		return s.failure(toolBorrow.Name, in, err)
	}
	if res == nil {
		return textResult(fmt.Sprintf("Failed to borrow %s USDST from reserve: %s with escrow: %s", formatNumber(in.Quantity), reserve, escrow))
	}
	return textResult(fmt.Sprintf("Successfully borrowed %s USDST from reserve: %s with escrow: %s", formatNumber(in.Quantity), reserve, escrow))
}

func (s *Server) handleStake(ctx context.Context, in stakeInput) *mcp.CallToolResult {
	if strings.TrimSpace(in.AssetName) == "" {
		return s.failure(toolStake.Name, in, clierr.New(clierr.CodeUsage, "assetName is required"))
	}
	if err := positive(in.Quantity); err != nil {
		return s.failure(toolStake.Name, in, err)
	}

	username, err := s.market.GetUserCommonName(ctx, "")
	if err != nil {
		return s.failure(toolStake.Name, in, err)
	}
	details, err := s.market.GetUserDetails(ctx, username)
	if err != nil {
		return s.failure(toolStake.Name, in, err)
	}
	if details == nil {
		return textResult("No user address found. Please log in first.")
	}

	var asset *model.Asset
	for i := range details.Assets {
		if strings.EqualFold(details.Assets[i].Name, in.AssetName) {
			asset = &details.Assets[i]
			break
		}
	}
	if asset == nil {
		return textResult(fmt.Sprintf("No asset found for name %q for user %q", in.AssetName, username))
	}

	reserveAddress := ""
	for _, r := range details.Reserves {
		if r.AssetRootAddress == asset.Root {
			reserveAddress = r.Address
			break
		}
	}
	if reserveAddress == "" {
		reserves, err := s.market.GetReserve(ctx, in.AssetName)
		if err != nil {
			return s.failure(toolStake.Name, in, err)
		}
		if len(reserves) == 0 {
			return textResult("No reserve found for asset: " + in.AssetName)
		}
		reserveAddress = reserves[0].Address
	}

	escrowAddress := id.ZeroAddress
	for _, r := range details.Reserves {
		if r.Address == reserveAddress && len(r.Escrows) > 0 && r.Escrows[0].Address != "" {
			escrowAddress = r.Escrows[0].Address
			break
		}
	}

	units, err := id.ToBaseUnits(in.Quantity, collateralDecimals)
	if err != nil {
		return s.failure(toolStake.Name, in, err)
	}
	res, err := s.market.Stake(ctx, providers.StakeRequest{
		Reserve:   reserveAddress,
		Escrow:    escrowAddress,
		Quantity:  units,
		Username:  username,
		AssetRoot: asset.Root,
	})
	if err != nil {
		return s.failure(toolStake.Name, in, err)
	}
	qty := formatNumber(in.Quantity)
	if res == nil {
		return textResult(fmt.Sprintf("Failed to stake %s %s on reserve: %s with escrow: %s", qty, in.AssetName, reserveAddress, escrowAddress))
	}
	return textResult(fmt.Sprintf("Successfully staked %s %s on reserve: %s with escrow: %s", qty, in.AssetName, reserveAddress, escrowAddress))
}

func positive(quantity float64) error {
	if math.IsNaN(quantity) || math.IsInf(quantity, 0) || quantity <= 0 {
		return clierr.New(clierr.CodeUsage, "quantity must be greater than 0")
	}
	return nil
}

// --- Errors ---

// failure logs err and renders the uniform error result for a tool call.
func (s *Server) failure(tool string, params any, err error) *mcp.CallToolResult {
	paramsJSON, _ := json.Marshal(params)
	s.log.WithError(err).WithField("tool", tool).WithField("params", string(paramsJSON)).Error("tool call failed")
	return errResult(fmt.Sprintf("Failed to execute %s with parameters %s. Error details: %s", tool, paramsJSON, errorDetail(err)))
}

func errorDetail(err error) string {
	cErr, ok := clierr.As(err)
	if !ok {
		return err.Error()
	}
	switch cErr.Code {
	case clierr.CodeUpstreamHTTP:
		if cErr.Status == 0 {
			return cErr.Message
		}
		return fmt.Sprintf("Status: %d, Message: %s", cErr.Status, bodyMessage(cErr))
	case clierr.CodeUpstreamNetwork:
		return "No response received: " + err.Error()
	default:
		return err.Error()
	}
}

// bodyMessage renders the upstream body as JSON: compacted when it already is
// JSON, quoted otherwise.
func bodyMessage(e *clierr.Error) string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return e.Message
	}
	if json.Valid([]byte(body)) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, []byte(body)); err == nil {
			return buf.String()
		}
	}
	quoted, _ := json.Marshal(body)
	return string(quoted)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
