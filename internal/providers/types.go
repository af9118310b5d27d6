package providers

import (
	"context"

	"github.com/ggonzalez94/mercata-mcp/internal/model"
)

// Marketplace is the aggregation surface over the marketplace query and
// transaction services. A nil result with a nil error means nothing matched.
type Marketplace interface {
	FindAsset(ctx context.Context, name string) (*model.AssetListing, error)
	GetReserve(ctx context.Context, names ...string) ([]model.Reserve, error)
	GetUserDetails(ctx context.Context, username string) (*model.UserDetails, error)
	GetUserCommonName(ctx context.Context, address string) (string, error)
	Stake(ctx context.Context, req StakeRequest) (*model.TxResult, error)
	Borrow(ctx context.Context, req BorrowRequest) (*model.TxResult, error)
	PurchaseAsset(ctx context.Context, req PurchaseRequest) (*model.TxResult, error)
}

type Weather interface {
	Alerts(ctx context.Context, state string) ([]model.Alert, error)
	Forecast(ctx context.Context, latitude, longitude float64) ([]model.ForecastPeriod, error)
}

// StakeRequest stakes the caller's unlisted instances of AssetRoot into an
// escrow of Reserve. Quantity is in base units.
type StakeRequest struct {
	Reserve   string
	Escrow    string
	Quantity  string
	Username  string
	AssetRoot string
}

type BorrowRequest struct {
	Reserve  string
	Escrow   string
	Quantity string
}

// PurchaseRequest checks out Quantity base units of the asset listed on Sale,
// paying with the buyer's USDST through PaymentService.
type PurchaseRequest struct {
	Sale           string
	PaymentService string
	Username       string
	Quantity       string
	Decimals       int
}
