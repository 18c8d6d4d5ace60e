package registry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"tickvault/internal/domain"
)

func openTest(t *testing.T, ttl time.Duration) *Registry {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "instruments.db"), ttl)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

var nseDump = []Instrument{
	{Token: 738561, Symbol: "RELIANCE", Name: "RELIANCE INDUSTRIES", InstrumentType: "EQ", LotSize: 1, TickSize: 0.05},
	{Token: 2953217, Symbol: "TCS", Name: "TATA CONSULTANCY SERVICES", InstrumentType: "EQ", LotSize: 1, TickSize: 0.05},
	{Token: 519937, Symbol: "M&M", Name: "MAHINDRA & MAHINDRA", InstrumentType: "EQ", LotSize: 1, TickSize: 0.05},
}

func TestLookupAfterReplace(t *testing.T) {
	r := openTest(t, 0)
	ctx := context.Background()

	if err := r.ReplaceExchange(ctx, domain.ExchangeNSE, nseDump); err != nil {
		t.Fatalf("ReplaceExchange: %v", err)
	}

	in, err := r.Lookup(ctx, domain.ExchangeNSE, "RELIANCE")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if in.Token != 738561 || in.Name != "RELIANCE INDUSTRIES" {
		t.Errorf("instrument = %+v", in)
	}
}

func TestLookupSanitizedSymbol(t *testing.T) {
	// Dataset names use M_M; the registry must resolve it back to the
	// upstream's M&M row.
	r := openTest(t, 0)
	ctx := context.Background()

	if err := r.ReplaceExchange(ctx, domain.ExchangeNSE, nseDump); err != nil {
		t.Fatalf("ReplaceExchange: %v", err)
	}
	tok, err := r.InstrumentToken(ctx, domain.ExchangeNSE, "M_M")
	if err != nil {
		t.Fatalf("InstrumentToken: %v", err)
	}
	if tok != 519937 {
		t.Errorf("token = %d", tok)
	}
}

func TestLookupUnknownSymbol(t *testing.T) {
	r := openTest(t, 0)
	ctx := context.Background()

	if err := r.ReplaceExchange(ctx, domain.ExchangeNSE, nseDump); err != nil {
		t.Fatalf("ReplaceExchange: %v", err)
	}
	_, err := r.Lookup(ctx, domain.ExchangeNSE, "NOSUCH")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestReplaceSwapsDump(t *testing.T) {
	r := openTest(t, 0)
	ctx := context.Background()

	if err := r.ReplaceExchange(ctx, domain.ExchangeNSE, nseDump); err != nil {
		t.Fatalf("first replace: %v", err)
	}
	fresh := []Instrument{{Token: 111, Symbol: "NEWCO", InstrumentType: "EQ", LotSize: 1}}
	if err := r.ReplaceExchange(ctx, domain.ExchangeNSE, fresh); err != nil {
		t.Fatalf("second replace: %v", err)
	}

	if _, err := r.Lookup(ctx, domain.ExchangeNSE, "RELIANCE"); !errors.Is(err, ErrNotFound) {
		t.Error("old dump still visible after replace")
	}
	if _, err := r.Lookup(ctx, domain.ExchangeNSE, "NEWCO"); err != nil {
		t.Errorf("fresh row missing: %v", err)
	}
}

func TestStaleness(t *testing.T) {
	r := openTest(t, time.Hour)
	ctx := context.Background()

	stale, err := r.Stale(ctx, domain.ExchangeNSE)
	if err != nil {
		t.Fatalf("Stale: %v", err)
	}
	if !stale {
		t.Error("never-loaded exchange should be stale")
	}

	if err := r.ReplaceExchange(ctx, domain.ExchangeNSE, nseDump); err != nil {
		t.Fatalf("ReplaceExchange: %v", err)
	}
	stale, err = r.Stale(ctx, domain.ExchangeNSE)
	if err != nil {
		t.Fatalf("Stale: %v", err)
	}
	if stale {
		t.Error("freshly loaded exchange reported stale")
	}
}

func TestSearch(t *testing.T) {
	r := openTest(t, 0)
	ctx := context.Background()

	if err := r.ReplaceExchange(ctx, domain.ExchangeNSE, nseDump); err != nil {
		t.Fatalf("ReplaceExchange: %v", err)
	}
	got, err := r.Search(ctx, domain.ExchangeNSE, "REL", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].Symbol != "RELIANCE" {
		t.Errorf("search = %+v", got)
	}
}
