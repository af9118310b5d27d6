package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const EnvelopeVersion = "v1"

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type EnvelopeMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Command   string    `json:"command"`
}

type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Mutating    bool   `json:"mutating"`
}

// Asset is a ledger entry. Quantity is in base units; Decimals already has the
// name-based override applied.
type Asset struct {
	Address  string          `json:"address,omitempty"`
	Name     string          `json:"name"`
	Decimals int             `json:"decimals"`
	Quantity decimal.Decimal `json:"quantity"`
	Root     string          `json:"root,omitempty"`
}

type PaymentService struct {
	ServiceName string `json:"serviceName"`
	Creator     string `json:"creator"`
	Address     string `json:"address"`
	IsActive    bool   `json:"isActive"`
}

// Sale is a listing of an asset. Price and Quantity are the stored values.
type Sale struct {
	Address         string           `json:"address"`
	IsOpen          bool             `json:"isOpen"`
	Price           decimal.Decimal  `json:"price"`
	Quantity        decimal.Decimal  `json:"quantity"`
	PaymentServices []PaymentService `json:"paymentServices,omitempty"`
}

// AssetListing is an asset resolved to its purchasable listing. Sale, Price,
// Quantity and TokenPaymentService stay unset when the asset has no open sale.
type AssetListing struct {
	Address             string           `json:"address"`
	Name                string           `json:"name"`
	Decimals            int              `json:"decimals"`
	Sales               []Sale           `json:"sales"`
	Sale                string           `json:"sale,omitempty"`
	Price               *decimal.Decimal `json:"price,omitempty"`
	Quantity            *decimal.Decimal `json:"quantity,omitempty"`
	TokenPaymentService *PaymentService  `json:"tokenPaymentService,omitempty"`
}

func (a AssetListing) HasOpenSale() bool {
	return a.Sale != "" && a.Price != nil
}

type Escrow struct {
	Address            string          `json:"address"`
	Reserve            string          `json:"reserve"`
	CollateralValue    decimal.Decimal `json:"collateralValue"`
	BorrowedAmount     decimal.Decimal `json:"borrowedAmount"`
	Borrower           string          `json:"borrower"`
	BorrowerCommonName string          `json:"borrowerCommonName"`
	Creator            string          `json:"creator,omitempty"`
	IsActive           bool            `json:"isActive"`
}

// Reserve is a lending pool. Decimals is nil when the backing asset could not
// be resolved. TVL is the summed escrow collateral value in USDST base units.
type Reserve struct {
	Address                string          `json:"address"`
	Name                   string          `json:"name"`
	AssetRootAddress       string          `json:"assetRootAddress"`
	IsActive               bool            `json:"isActive"`
	Creator                string          `json:"creator"`
	LastUpdatedOraclePrice decimal.Decimal `json:"lastUpdatedOraclePrice"`
	Decimals               *int            `json:"decimals,omitempty"`
	Escrows                []Escrow        `json:"escrows"`
	TVL                    decimal.Decimal `json:"tvl"`
}

type UserDetails struct {
	Username string    `json:"username"`
	Assets   []Asset   `json:"assets"`
	Reserves []Reserve `json:"reserves"`
}

// TxResult is the transaction service response, passed through untouched.
type TxResult struct {
	Method     string          `json:"method"`
	Contract   string          `json:"contract"`
	CheckoutID string          `json:"checkoutId,omitempty"`
	Response   json.RawMessage `json:"response"`
}

type Alert struct {
	Event    string `json:"event"`
	AreaDesc string `json:"areaDesc"`
	Severity string `json:"severity"`
	Status   string `json:"status"`
	Headline string `json:"headline"`
}

type ForecastPeriod struct {
	Name            string      `json:"name"`
	Temperature     json.Number `json:"temperature"`
	TemperatureUnit string      `json:"temperatureUnit"`
	WindSpeed       string      `json:"windSpeed"`
	WindDirection   string      `json:"windDirection"`
	ShortForecast   string      `json:"shortForecast"`
}
