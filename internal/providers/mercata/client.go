// Package mercata aggregates the marketplace search and transaction services
// into asset, reserve, user and transaction operations.
package mercata

import (
	"context"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/ggonzalez94/mercata-mcp/internal/httpx"
	"github.com/ggonzalez94/mercata-mcp/internal/model"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	TableAsset          = "BlockApps-Mercata-Asset"
	TableSale           = "BlockApps-Mercata-Sale"
	TableSalePayments   = "BlockApps-Mercata-Sale-paymentServices"
	TablePaymentService = "BlockApps-Mercata-PaymentService"
	TableReserve        = "BlockApps-Mercata-Reserve"
	TableEscrow         = "BlockApps-Mercata-Escrow"
	TableCertificate    = "Certificate"

	tokenServiceName = "USDST"
	overrideDecimals = 18
)

// trustedCreators are the only accounts whose reserves and escrows are listed.
var trustedCreators = []string{"BlockApps", "mercata_usdst"}

// QueryBaseURL and TxBaseURL derive the two service roots from the marketplace URL.
func QueryBaseURL(marketplace string) string {
	return strings.TrimRight(marketplace, "/") + "/cirrus/search"
}

func TxBaseURL(marketplace string) string {
	return strings.TrimRight(marketplace, "/") + "/strato/v2.3"
}

// Identity resolves the name claim of the signed-in account.
type Identity interface {
	Name(ctx context.Context) (string, error)
}

type Client struct {
	query    *httpx.Client
	tx       *httpx.Client
	identity Identity
	log      logrus.FieldLogger
	now      func() time.Time
	// checkoutID is random and unchecked; two concurrent purchases can collide.
	checkoutID func() string
}

func New(query, tx *httpx.Client, identity Identity, log logrus.FieldLogger) *Client {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{
		query:      query,
		tx:         tx,
		identity:   identity,
		log:        log,
		now:        time.Now,
		checkoutID: randomCheckoutID,
	}
}

func randomCheckoutID() string {
	return strconv.Itoa(100000 + rand.IntN(900000))
}

// ResolveDecimals applies the name override: temp, eth and cata assets always
// use 18 decimals whatever is stored.
func ResolveDecimals(name string, stored int) int {
	lower := strings.ToLower(name)
	if strings.Contains(lower, "temp") || strings.Contains(lower, "eth") || strings.Contains(lower, "cata") {
		return overrideDecimals
	}
	return stored
}

// storedDecimals decodes the decimals column. Anything that is not a JSON
// number decodes as 0.
type storedDecimals int

func (d *storedDecimals) UnmarshalJSON(b []byte) error {
	v, err := strconv.ParseFloat(strings.TrimSpace(string(b)), 64)
	if err != nil {
		*d = 0
		return nil
	}
	*d = storedDecimals(int(v))
	return nil
}

type assetRow struct {
	Address  string          `json:"address"`
	Name     string          `json:"name"`
	Decimals storedDecimals  `json:"decimals"`
	Quantity decimal.Decimal `json:"quantity"`
	Root     string          `json:"root"`
	Sales    []saleRow       `json:"BlockApps-Mercata-Sale"`
}

func (r assetRow) toModel() model.Asset {
	return model.Asset{
		Address:  r.Address,
		Name:     r.Name,
		Decimals: ResolveDecimals(r.Name, int(r.Decimals)),
		Quantity: r.Quantity,
		Root:     r.Root,
	}
}

type saleRow struct {
	Address         string              `json:"address"`
	IsOpen          bool                `json:"isOpen"`
	Price           decimal.Decimal     `json:"price"`
	Quantity        decimal.Decimal     `json:"quantity"`
	PaymentServices []salePaymentMapRow `json:"BlockApps-Mercata-Sale-paymentServices"`
}

// salePaymentMapRow is one entry of the sale's payment service mapping.
type salePaymentMapRow struct {
	Value *paymentServiceRow `json:"value"`
}

type paymentServiceRow struct {
	ServiceName string `json:"serviceName"`
	Creator     string `json:"creator"`
	Address     string `json:"address"`
	IsActive    bool   `json:"isActive"`
}

func (r paymentServiceRow) toModel() model.PaymentService {
	return model.PaymentService{
		ServiceName: r.ServiceName,
		Creator:     r.Creator,
		Address:     r.Address,
		IsActive:    r.IsActive,
	}
}

func (r saleRow) toModel() model.Sale {
	sale := model.Sale{
		Address:  r.Address,
		IsOpen:   r.IsOpen,
		Price:    r.Price,
		Quantity: r.Quantity,
	}
	for _, ps := range r.PaymentServices {
		if ps.Value != nil {
			sale.PaymentServices = append(sale.PaymentServices, ps.Value.toModel())
		}
	}
	return sale
}

type reserveRow struct {
	Address                string          `json:"address"`
	Name                   string          `json:"name"`
	AssetRootAddress       string          `json:"assetRootAddress"`
	IsActive               bool            `json:"isActive"`
	Creator                string          `json:"creator"`
	LastUpdatedOraclePrice decimal.Decimal `json:"lastUpdatedOraclePrice"`
}

type escrowRow struct {
	Address            string          `json:"address"`
	Reserve            string          `json:"reserve"`
	CollateralValue    decimal.Decimal `json:"collateralValue"`
	BorrowedAmount     decimal.Decimal `json:"borrowedAmount"`
	Borrower           string          `json:"borrower"`
	BorrowerCommonName string          `json:"borrowerCommonName"`
	Creator            string          `json:"creator"`
	IsActive           bool            `json:"isActive"`
}

func (r escrowRow) toModel() model.Escrow {
	return model.Escrow{
		Address:            r.Address,
		Reserve:            r.Reserve,
		CollateralValue:    r.CollateralValue,
		BorrowedAmount:     r.BorrowedAmount,
		Borrower:           r.Borrower,
		BorrowerCommonName: r.BorrowerCommonName,
		Creator:            r.Creator,
		IsActive:           r.IsActive,
	}
}

type addressRow struct {
	Address string `json:"address"`
}

type certificateRow struct {
	CommonName string `json:"commonName"`
}

func (c *Client) search(ctx context.Context, table string, q *Query, out any) error {
	return c.query.Get(ctx, "/"+table, q.Values(), out)
}
