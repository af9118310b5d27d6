package mercata

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/ggonzalez94/mercata-mcp/internal/model"
	"github.com/ggonzalez94/mercata-mcp/internal/providers"
)

const (
	txPath       = "/transaction/parallel"
	txGasLimit   = 32100000000
	txGasPrice   = 1
	txTypeFunc   = "FUNCTION"
	checkoutNote = "Hey, I want to buy this asset!"
)

var _ providers.Marketplace = (*Client)(nil)

type txPayload struct {
	ContractName    string `json:"contractName"`
	ContractAddress string `json:"contractAddress"`
	Method          string `json:"method"`
	Args            any    `json:"args"`
}

type txEntry struct {
	Payload txPayload `json:"payload"`
	Type    string    `json:"type"`
}

type txParams struct {
	GasLimit int64 `json:"gasLimit"`
	GasPrice int64 `json:"gasPrice"`
}

type txRequest struct {
	Txs      []txEntry `json:"txs"`
	TxParams txParams  `json:"txParams"`
}

type stakeArgs struct {
	EscrowAddress      string      `json:"_escrowAddress"`
	Assets             []string    `json:"_assets"`
	CollateralQuantity json.Number `json:"_collateralQuantity"`
}

type borrowArgs struct {
	EscrowAddress string      `json:"_escrowAddress"`
	BorrowAmount  json.Number `json:"_borrowAmount"`
}

type checkoutArgs struct {
	TokenAssetAddresses []string `json:"_tokenAssetAddresses"`
	CheckoutID          string   `json:"_checkoutId"`
	SaleAddresses       []string `json:"_saleAddresses"`
	Quantities          []string `json:"_quantities"`
	Decimals            []int    `json:"_decimals"`
	CreatedDate         int64    `json:"_createdDate"`
	Comments            string   `json:"_comments"`
}

// submit sends one function call and waits for it to resolve. The response
// body is returned untouched.
func (c *Client) submit(ctx context.Context, contract, address, method string, args any) (*model.TxResult, error) {
	req := txRequest{
		Txs: []txEntry{{
			Payload: txPayload{
				ContractName:    contract,
				ContractAddress: address,
				Method:          method,
				Args:            args,
			},
			Type: txTypeFunc,
		}},
		TxParams: txParams{GasLimit: txGasLimit, GasPrice: txGasPrice},
	}
	var raw json.RawMessage
	if err := c.tx.PostJSON(ctx, txPath, url.Values{"resolve": {"true"}}, req, &raw); err != nil {
		return nil, err
	}
	return &model.TxResult{Method: method, Contract: contract, Response: raw}, nil
}

// ownedAddresses lists the addresses of username's unlisted holdings matching
// the extra filter.
func (c *Client) ownedAddresses(ctx context.Context, q *Query) ([]string, error) {
	var rows []addressRow
	if err := c.search(ctx, TableAsset, q.Select("address"), &rows); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Address)
	}
	return out, nil
}

// Stake moves the caller's unlisted instances of the asset root into the
// escrow. Returns nil without submitting when the caller holds none.
func (c *Client) Stake(ctx context.Context, req providers.StakeRequest) (*model.TxResult, error) {
	assets, err := c.ownedAddresses(ctx, NewQuery().
		Gt("quantity", "0").
		Eq("ownerCommonName", req.Username).
		Eq("root", req.AssetRoot).
		IsNull("sale"))
	if err != nil {
		c.log.WithError(err).Error("Error staking asset")
		return nil, err
	}
	if len(assets) == 0 {
		return nil, nil
	}

	res, err := c.submit(ctx, "Reserve", req.Reserve, "stakeAsset", stakeArgs{
		EscrowAddress:      req.Escrow,
		Assets:             assets,
		CollateralQuantity: json.Number(req.Quantity),
	})
	if err != nil {
		c.log.WithError(err).Error("Error staking asset")
		return nil, err
	}
	return res, nil
}

func (c *Client) Borrow(ctx context.Context, req providers.BorrowRequest) (*model.TxResult, error) {
	res, err := c.submit(ctx, "Reserve", req.Reserve, "borrow", borrowArgs{
		EscrowAddress: req.Escrow,
		BorrowAmount:  json.Number(req.Quantity),
	})
	if err != nil {
		c.log.WithError(err).Error("Error borrowing asset")
		return nil, err
	}
	return res, nil
}

// PurchaseAsset starts a checkout on the payment service paying with the
// buyer's USDST holdings. Returns nil without submitting when the buyer has
// no USDST.
func (c *Client) PurchaseAsset(ctx context.Context, req providers.PurchaseRequest) (*model.TxResult, error) {
	tokens, err := c.ownedAddresses(ctx, NewQuery().
		Gt("quantity", "0").
		Eq("ownerCommonName", req.Username).
		Eq("name", tokenServiceName))
	if err != nil {
		c.log.WithError(err).Error("Error purchasing asset")
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, nil
	}

	checkoutID := c.checkoutID()
	res, err := c.submit(ctx, "PaymentService", req.PaymentService, "checkoutInitialized", checkoutArgs{
		TokenAssetAddresses: tokens,
		CheckoutID:          checkoutID,
		SaleAddresses:       []string{req.Sale},
		Quantities:          []string{req.Quantity},
		Decimals:            []int{req.Decimals},
		CreatedDate:         c.now().UnixMilli(),
		Comments:            checkoutNote,
	})
	if err != nil {
		c.log.WithError(err).Error("Error purchasing asset")
		return nil, err
	}
	res.CheckoutID = checkoutID
	return res, nil
}
