package mercata

import "testing"

func TestQueryGrammar(t *testing.T) {
	q := NewQuery().
		Eq("ownerCommonName", "alice").
		Gt("quantity", "0").
		ILike("name", "Gold").
		In("creator", "BlockApps", "mercata_usdst").
		IsNull("sale").
		NotNull("data").
		Select("name", "quantity:quantity.sum()", "decimals", "root").
		Limit(1)

	cases := map[string]string{
		"ownerCommonName": "eq.alice",
		"quantity":        "gt.0",
		"name":            "ilike.*Gold*",
		"creator":         "in.(BlockApps,mercata_usdst)",
		"sale":            "is.null",
		"data":            "neq.null",
		"select":          "name,quantity:quantity.sum(),decimals,root",
		"limit":           "1",
	}
	for col, want := range cases {
		if got := q.Get(col); got != want {
			t.Fatalf("%s: expected %q, got %q", col, want, got)
		}
	}
}

func TestReserveOrFilter(t *testing.T) {
	q := NewQuery().Or(reserveMatch([]string{"USDST", "0xRoot1"})...)
	want := "(name.ilike.*USDST*,assetRootAddress.eq.USDST,name.ilike.*0xRoot1*,assetRootAddress.eq.0xRoot1)"
	if got := q.Get("or"); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestValuesIsCopy(t *testing.T) {
	q := NewQuery().Eq("name", "USDST")
	v := q.Values()
	v.Set("name", "changed")
	if q.Get("name") != "eq.USDST" {
		t.Fatal("Values must not alias the query")
	}
}
