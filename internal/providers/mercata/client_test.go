package mercata

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/mercata-mcp/internal/errors"
	"github.com/ggonzalez94/mercata-mcp/internal/httpx"
	"github.com/ggonzalez94/mercata-mcp/internal/providers"
	"github.com/sirupsen/logrus"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
}

type fakeMarketplace struct {
	mu       sync.Mutex
	requests []recordedRequest
	// responses maps a request path to its JSON body.
	responses map[string]string
}

func (f *fakeMarketplace) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query(), Body: body})
	f.mu.Unlock()

	resp, ok := f.responses[r.URL.Path]
	if !ok {
		resp = "[]"
	}
	if resp == "500" {
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(resp))
}

func (f *fakeMarketplace) calls(path string) []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedRequest
	for _, r := range f.requests {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

type staticIdentity struct {
	name  string
	calls int
}

func (s *staticIdentity) Name(context.Context) (string, error) {
	s.calls++
	return s.name, nil
}

func newTestClient(t *testing.T, responses map[string]string) (*Client, *fakeMarketplace) {
	t.Helper()
	fake := &fakeMarketplace{responses: responses}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	log := logrus.New()
	log.SetOutput(io.Discard)
	query := httpx.New(2*time.Second, httpx.WithBaseURL(QueryBaseURL(srv.URL)), httpx.WithLogger(log))
	tx := httpx.New(2*time.Second, httpx.WithBaseURL(TxBaseURL(srv.URL)), httpx.WithLogger(log))
	client := New(query, tx, &staticIdentity{name: "alice"}, log)
	client.now = func() time.Time { return time.UnixMilli(1_700_000_000_123) }
	client.checkoutID = func() string { return "123456" }
	return client, fake
}

const (
	assetPath   = "/cirrus/search/" + TableAsset
	paymentPath = "/cirrus/search/" + TablePaymentService
	reservePath = "/cirrus/search/" + TableReserve
	escrowPath  = "/cirrus/search/" + TableEscrow
	certPath    = "/cirrus/search/" + TableCertificate
	txURLPath   = "/strato/v2.3/transaction/parallel"
)

func TestResolveDecimals(t *testing.T) {
	cases := []struct {
		name   string
		stored int
		want   int
	}{
		{"TEMPLE", 0, 18},
		{"ETHST", 6, 18},
		{"wrapped Eth", 2, 18},
		{"CATA", 4, 18},
		{"Gold", 2, 2},
		{"USDST", 18, 18},
		{"Silver", 0, 0},
	}
	for _, tc := range cases {
		if got := ResolveDecimals(tc.name, tc.stored); got != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, got)
		}
	}
}

func TestFindAssetResolvesOpenSaleAndActivePaymentService(t *testing.T) {
	client, fake := newTestClient(t, map[string]string{
		assetPath: `[{
			"name": "Gold", "decimals": 2, "address": "A1", "quantity": 500,
			"BlockApps-Mercata-Sale": [{
				"address": "S1", "isOpen": true, "price": 10, "quantity": 500,
				"BlockApps-Mercata-Sale-paymentServices": [{"value": {"serviceName": "usdst", "creator": "C", "address": "P0"}}]
			}]
		}]`,
		paymentPath: `[{"address": "P1"}]`,
	})

	listing, err := client.FindAsset(context.Background(), "Gold")
	if err != nil {
		t.Fatalf("FindAsset failed: %v", err)
	}
	if listing == nil {
		t.Fatal("expected listing")
	}
	if listing.Decimals != 2 || listing.Sale != "S1" {
		t.Fatalf("unexpected listing: %+v", listing)
	}
	if listing.Price == nil || listing.Price.StringFixed(2) != "10.00" {
		t.Fatalf("expected price 10.00, got %v", listing.Price)
	}
	if listing.Quantity == nil || listing.Quantity.String() != "5" {
		t.Fatalf("expected quantity 5, got %v", listing.Quantity)
	}
	if listing.TokenPaymentService == nil || listing.TokenPaymentService.Address != "P1" {
		t.Fatalf("expected active payment service P1, got %+v", listing.TokenPaymentService)
	}

	assetQuery := fake.calls(assetPath)[0].Query
	if assetQuery.Get("name") != "ilike.*Gold*" || assetQuery.Get("sale") != "neq.null" {
		t.Fatalf("unexpected asset query: %v", assetQuery)
	}
	wantSelect := "name,decimals,address,BlockApps-Mercata-Sale!BlockApps-Mercata-Sale_BlockApps-Mercata-Asset_fk(*,BlockApps-Mercata-Sale-paymentServices(*))"
	if assetQuery.Get("select") != wantSelect {
		t.Fatalf("unexpected select: %s", assetQuery.Get("select"))
	}

	psCalls := fake.calls(paymentPath)
	if len(psCalls) != 1 {
		t.Fatalf("expected one payment service lookup, got %d", len(psCalls))
	}
	ps := psCalls[0].Query
	if ps.Get("isActive") != "eq.true" || ps.Get("serviceName") != "eq.usdst" || ps.Get("creator") != "eq.C" || ps.Get("limit") != "1" || ps.Get("select") != "address" {
		t.Fatalf("unexpected payment service query: %v", ps)
	}
}

func TestFindAssetNoMatchSkipsPaymentLookup(t *testing.T) {
	client, fake := newTestClient(t, map[string]string{
		assetPath: `[{"name": "Gold", "decimals": 2, "address": "A1", "BlockApps-Mercata-Sale": []}]`,
	})

	listing, err := client.FindAsset(context.Background(), "Gold")
	if err != nil {
		t.Fatalf("FindAsset failed: %v", err)
	}
	if listing != nil {
		t.Fatalf("expected nil listing, got %+v", listing)
	}
	if n := len(fake.calls(paymentPath)); n != 0 {
		t.Fatalf("expected no payment service lookup, got %d", n)
	}
}

func TestFindAssetWithoutOpenSale(t *testing.T) {
	client, fake := newTestClient(t, map[string]string{
		assetPath: `[{
			"name": "Silver", "decimals": "bad", "address": "A2",
			"BlockApps-Mercata-Sale": [{"address": "S9", "isOpen": false, "price": 3, "quantity": 1}]
		}]`,
	})

	listing, err := client.FindAsset(context.Background(), "Silver")
	if err != nil {
		t.Fatalf("FindAsset failed: %v", err)
	}
	if listing == nil || listing.HasOpenSale() || listing.Decimals != 0 {
		t.Fatalf("expected listing without open sale, got %+v", listing)
	}
	if len(fake.calls(paymentPath)) != 0 {
		t.Fatal("payment service lookup must not run without an open sale")
	}
}

func TestGetReserveMergesEscrowsAndDecimals(t *testing.T) {
	client, fake := newTestClient(t, map[string]string{
		reservePath: `[
			{"address": "R1", "name": "ETHST Reserve", "assetRootAddress": "root1", "isActive": true, "creator": "BlockApps", "lastUpdatedOraclePrice": "0.000000000000002"},
			{"address": "R2", "name": "Gold Reserve", "assetRootAddress": "root2", "isActive": true, "creator": "mercata_usdst"}
		]`,
		escrowPath: `[
			{"address": "E1", "reserve": "R1", "collateralValue": "1500000000000000000", "borrowedAmount": "1000000000000000000", "borrowerCommonName": "alice"},
			{"address": "E2", "reserve": "R1", "collateralValue": "500000000000000000", "borrowedAmount": "0", "borrowerCommonName": "bob"}
		]`,
		assetPath: `[
			{"address": "root1", "name": "ETHST", "decimals": 6},
			{"address": "root2", "decimals": 2}
		]`,
	})

	reserves, err := client.GetReserve(context.Background())
	if err != nil {
		t.Fatalf("GetReserve failed: %v", err)
	}
	if len(reserves) != 2 {
		t.Fatalf("expected 2 reserves, got %d", len(reserves))
	}
	r1, r2 := reserves[0], reserves[1]
	if len(r1.Escrows) != 2 || r1.TVL.String() != "2000000000000000000" {
		t.Fatalf("unexpected R1: %+v", r1)
	}
	if r1.Decimals == nil || *r1.Decimals != 18 {
		t.Fatalf("expected override decimals on R1, got %v", r1.Decimals)
	}
	if r2.Escrows == nil || len(r2.Escrows) != 0 || r2.Decimals != nil {
		t.Fatalf("unexpected R2: %+v", r2)
	}

	rq := fake.calls(reservePath)[0].Query
	if rq.Get("isActive") != "eq.true" || rq.Get("creator") != "in.(BlockApps,mercata_usdst)" || rq.Has("or") {
		t.Fatalf("unexpected reserve query: %v", rq)
	}
	eq := fake.calls(escrowPath)[0].Query
	if eq.Get("reserve") != "in.(R1,R2)" || eq.Get("creator") != "in.(BlockApps,mercata_usdst)" {
		t.Fatalf("unexpected escrow query: %v", eq)
	}
	aq := fake.calls(assetPath)[0].Query
	if aq.Get("address") != "in.(root1,root2)" || aq.Get("select") != "decimals,address,name" {
		t.Fatalf("unexpected asset query: %v", aq)
	}
}

func TestGetReserveFiltersByNames(t *testing.T) {
	client, fake := newTestClient(t, nil)

	reserves, err := client.GetReserve(context.Background(), "USDST", "0xRoot1")
	if err != nil {
		t.Fatalf("GetReserve failed: %v", err)
	}
	if reserves != nil {
		t.Fatalf("expected nil reserves, got %+v", reserves)
	}
	want := "(name.ilike.*USDST*,assetRootAddress.eq.USDST,name.ilike.*0xRoot1*,assetRootAddress.eq.0xRoot1)"
	if got := fake.calls(reservePath)[0].Query.Get("or"); got != want {
		t.Fatalf("expected or filter %q, got %q", want, got)
	}
	if len(fake.calls(escrowPath)) != 0 {
		t.Fatal("escrow lookup must not run without reserves")
	}
}

func TestGetUserDetailsOnlyKeepsOwnEscrows(t *testing.T) {
	client, fake := newTestClient(t, map[string]string{
		assetPath: `[
			{"name": "ETHST", "quantity": 3000000000000000000, "decimals": 6, "root": "root1"},
			{"name": "USDST", "quantity": "25000000000000000000", "decimals": 18, "root": "root1"}
		]`,
		reservePath: `[{"address": "R1", "name": "ETHST Reserve", "assetRootAddress": "root1"}]`,
		escrowPath: `[
			{"address": "E1", "reserve": "R1", "collateralValue": "1", "borrowerCommonName": "alice"},
			{"address": "E2", "reserve": "R1", "collateralValue": "1", "borrowerCommonName": "bob"},
			{"address": "E3", "reserve": "R1", "collateralValue": "1", "borrowerCommonName": "Alice"}
		]`,
	})

	details, err := client.GetUserDetails(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetUserDetails failed: %v", err)
	}
	if details == nil || len(details.Assets) != 2 || details.Assets[0].Decimals != 18 {
		t.Fatalf("unexpected details: %+v", details)
	}
	for _, reserve := range details.Reserves {
		for _, e := range reserve.Escrows {
			if e.BorrowerCommonName != "alice" {
				t.Fatalf("escrow %s of %s leaked into alice's details", e.Address, e.BorrowerCommonName)
			}
		}
	}
	if len(details.Reserves) != 1 || len(details.Reserves[0].Escrows) != 1 {
		t.Fatalf("expected one own escrow, got %+v", details.Reserves)
	}

	userQuery := fake.calls(assetPath)[0].Query
	if userQuery.Get("ownerCommonName") != "eq.alice" || userQuery.Get("quantity") != "gt.0" || userQuery.Get("select") != "name,quantity:quantity.sum(),decimals,root" {
		t.Fatalf("unexpected user asset query: %v", userQuery)
	}
	// Roots are deduplicated before the reserve lookup.
	if got := fake.calls(reservePath)[0].Query.Get("or"); got != "(name.ilike.*root1*,assetRootAddress.eq.root1)" {
		t.Fatalf("unexpected reserve filter: %s", got)
	}
}

func TestGetUserDetailsNoAssets(t *testing.T) {
	client, fake := newTestClient(t, nil)
	details, err := client.GetUserDetails(context.Background(), "nobody")
	if err != nil || details != nil {
		t.Fatalf("expected nil details, got %+v err=%v", details, err)
	}
	if len(fake.calls(reservePath)) != 0 {
		t.Fatal("reserve lookup must not run without assets")
	}
}

func TestGetUserCommonName(t *testing.T) {
	client, fake := newTestClient(t, map[string]string{
		certPath: `[{"commonName": "bob"}]`,
	})

	name, err := client.GetUserCommonName(context.Background(), "abc123")
	if err != nil || name != "bob" {
		t.Fatalf("expected bob, got %q err=%v", name, err)
	}
	q := fake.calls(certPath)[0].Query
	if q.Get("userAddress") != "eq.abc123" || q.Get("select") != "commonName" || q.Get("limit") != "1" {
		t.Fatalf("unexpected certificate query: %v", q)
	}

	name, err = client.GetUserCommonName(context.Background(), "")
	if err != nil || name != "alice" {
		t.Fatalf("expected token name alice, got %q err=%v", name, err)
	}
	if len(fake.calls(certPath)) != 1 {
		t.Fatal("token name path must not query certificates")
	}
}

func TestStakeWithoutHoldingsSkipsSubmit(t *testing.T) {
	client, fake := newTestClient(t, nil)
	res, err := client.Stake(context.Background(), providers.StakeRequest{
		Reserve: "R1", Escrow: "E1", Quantity: "1000000000000000000", Username: "alice", AssetRoot: "root1",
	})
	if err != nil || res != nil {
		t.Fatalf("expected nil result, got %+v err=%v", res, err)
	}
	if len(fake.calls(txURLPath)) != 0 {
		t.Fatal("no transaction must be submitted")
	}
	q := fake.calls(assetPath)[0].Query
	if q.Get("root") != "eq.root1" || q.Get("sale") != "is.null" || q.Get("select") != "address" {
		t.Fatalf("unexpected holdings query: %v", q)
	}
}

func TestStakeSubmitsReserveCall(t *testing.T) {
	client, fake := newTestClient(t, map[string]string{
		assetPath: `[{"address": "a1"}, {"address": "a2"}]`,
		txURLPath: `[{"status": "Success", "hash": "h1"}]`,
	})

	res, err := client.Stake(context.Background(), providers.StakeRequest{
		Reserve: "R1", Escrow: "0000000000000000000000000000000000000000", Quantity: "2500000000000000000", Username: "alice", AssetRoot: "root1",
	})
	if err != nil {
		t.Fatalf("Stake failed: %v", err)
	}
	if res == nil || !strings.Contains(string(res.Response), `"h1"`) {
		t.Fatalf("expected passthrough response, got %+v", res)
	}

	calls := fake.calls(txURLPath)
	if len(calls) != 1 || calls[0].Method != http.MethodPost || calls[0].Query.Get("resolve") != "true" {
		t.Fatalf("unexpected tx calls: %+v", calls)
	}
	want := `{"txs":[{"payload":{"contractName":"Reserve","contractAddress":"R1","method":"stakeAsset","args":{"_escrowAddress":"0000000000000000000000000000000000000000","_assets":["a1","a2"],"_collateralQuantity":2500000000000000000}},"type":"FUNCTION"}],"txParams":{"gasLimit":32100000000,"gasPrice":1}}`
	if string(calls[0].Body) != want {
		t.Fatalf("unexpected payload:\n got %s\nwant %s", calls[0].Body, want)
	}
}

func TestBorrowSubmitsReserveCall(t *testing.T) {
	client, fake := newTestClient(t, map[string]string{txURLPath: `{"ok": true}`})
	if _, err := client.Borrow(context.Background(), providers.BorrowRequest{Reserve: "R1", Escrow: "E1", Quantity: "1000000000000000000"}); err != nil {
		t.Fatalf("Borrow failed: %v", err)
	}
	var body txRequest
	if err := json.Unmarshal(fake.calls(txURLPath)[0].Body, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	p := body.Txs[0].Payload
	args, _ := p.Args.(map[string]any)
	if p.Method != "borrow" || p.ContractName != "Reserve" || args["_escrowAddress"] != "E1" {
		t.Fatalf("unexpected borrow payload: %+v", p)
	}
}

func TestPurchaseAssetCheckout(t *testing.T) {
	client, fake := newTestClient(t, map[string]string{
		assetPath: `[{"address": "usd1"}]`,
		txURLPath: `{"ok": true}`,
	})

	res, err := client.PurchaseAsset(context.Background(), providers.PurchaseRequest{
		Sale: "S1", PaymentService: "P1", Username: "alice", Quantity: "300", Decimals: 2,
	})
	if err != nil {
		t.Fatalf("PurchaseAsset failed: %v", err)
	}
	if res == nil || res.CheckoutID != "123456" {
		t.Fatalf("unexpected result: %+v", res)
	}
	q := fake.calls(assetPath)[0].Query
	if q.Get("name") != "eq.USDST" || q.Get("ownerCommonName") != "eq.alice" {
		t.Fatalf("unexpected USDST query: %v", q)
	}
	want := `{"txs":[{"payload":{"contractName":"PaymentService","contractAddress":"P1","method":"checkoutInitialized","args":{"_tokenAssetAddresses":["usd1"],"_checkoutId":"123456","_saleAddresses":["S1"],"_quantities":["300"],"_decimals":[2],"_createdDate":1700000000123,"_comments":"Hey, I want to buy this asset!"}},"type":"FUNCTION"}],"txParams":{"gasLimit":32100000000,"gasPrice":1}}`
	if got := string(fake.calls(txURLPath)[0].Body); got != want {
		t.Fatalf("unexpected payload:\n got %s\nwant %s", got, want)
	}
}

func TestPurchaseAssetWithoutUSDSTSkipsSubmit(t *testing.T) {
	client, fake := newTestClient(t, nil)
	res, err := client.PurchaseAsset(context.Background(), providers.PurchaseRequest{Sale: "S1", PaymentService: "P1", Username: "alice", Quantity: "1"})
	if err != nil || res != nil {
		t.Fatalf("expected nil result, got %+v err=%v", res, err)
	}
	if len(fake.calls(txURLPath)) != 0 {
		t.Fatal("no transaction must be submitted")
	}
}

func TestUpstreamFailureAbortsAggregation(t *testing.T) {
	client, fake := newTestClient(t, map[string]string{
		reservePath: `[{"address": "R1", "assetRootAddress": "root1"}]`,
		escrowPath:  "500",
	})
	_, err := client.GetReserve(context.Background())
	cErr, ok := clierr.As(err)
	if !ok || cErr.Code != clierr.CodeUpstreamHTTP || cErr.Status != http.StatusInternalServerError {
		t.Fatalf("expected upstream http error, got %v", err)
	}
	if len(fake.calls(assetPath)) != 0 {
		t.Fatal("asset lookup must not run after a failed escrow lookup")
	}
}

func TestRandomCheckoutIDRange(t *testing.T) {
	for i := 0; i < 200; i++ {
		id := randomCheckoutID()
		if len(id) != 6 || id[0] == '0' {
			t.Fatalf("checkout id %q is not six digits", id)
		}
	}
}
