package quest

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tickvault/internal/domain"
)

var (
	equityKey = domain.NewSeriesKey(domain.ExchangeNSE, "RELIANCE", domain.IntervalDay)
	derivKey  = domain.NewSeriesKey(domain.ExchangeNFO, "NIFTY24JANFUT", domain.IntervalMinute)
)

func TestLineEquity(t *testing.T) {
	b := domain.Bar{Timestamp: 1704153600, Open: 100.5, High: 105.25, Low: 99, Close: 103.1, Volume: 12000}
	got := Line(equityKey, b, SourceLive)
	want := "ohlcv_equity,exchange=NSE,symbol=RELIANCE,interval=day,data_source=kite_api " +
		"open=100.5,high=105.25,low=99,close=103.1,volume=12000i," +
		"is_anomaly=false,adjusted=false 1704153600000000000"
	if got != want {
		t.Errorf("line =\n%s\nwant\n%s", got, want)
	}
}

func TestLineDerivativeCarriesOI(t *testing.T) {
	b := domain.Bar{Timestamp: 1704153600, Open: 50, High: 52, Low: 49, Close: 51, Volume: 900, OpenInterest: 450000}
	got := Line(derivKey, b, SourceMigration)
	if !strings.HasPrefix(got, "ohlcv_derivatives,") {
		t.Errorf("table: %s", got)
	}
	if !strings.Contains(got, ",oi=450000i,") {
		t.Errorf("missing oi field: %s", got)
	}
	if !strings.Contains(got, "data_source=hdf5_migration") {
		t.Errorf("missing source tag: %s", got)
	}
}

func TestLineEscapesTags(t *testing.T) {
	key := equityKey
	key.Symbol = "M M" // never produced by SanitizeSymbol, but the writer must not emit a broken line
	got := Line(key, domain.Bar{Timestamp: 1704153600, Open: 1, High: 1, Low: 1, Close: 1}, SourceLive)
	if !strings.Contains(got, `symbol=M\ M`) {
		t.Errorf("unescaped tag: %s", got)
	}
}

func TestILPWriterFlushesLines(t *testing.T) {
	client, server := net.Pipe()
	w := NewILPWriter(client)

	lines := make(chan string, 4)
	go func() {
		sc := bufio.NewScanner(server)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	bars := []domain.Bar{
		{Timestamp: 1704153600, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
		{Timestamp: 1704240000, Open: 1.5, High: 2.5, Low: 1, Close: 2, Volume: 20},
	}
	for _, b := range bars {
		if err := w.WriteBar(equityKey, b, SourceLive); err != nil {
			t.Fatalf("WriteBar: %v", err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	for i := range bars {
		select {
		case line := <-lines:
			if line != Line(equityKey, bars[i], SourceLive) {
				t.Errorf("line %d = %s", i, line)
			}
		case <-time.After(time.Second):
			t.Fatalf("line %d not received", i)
		}
	}
	if w.Rows() != 2 {
		t.Errorf("rows = %d", w.Rows())
	}
	client.Close()
	server.Close()
}

func TestClientRowCount(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("query")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"query":"","columns":[{"name":"count","type":"LONG"}],"dataset":[[1234]],"count":1}`)
	}))
	defer srv.Close()

	n, err := NewClient(srv.URL).RowCount(context.Background(), equityKey)
	if err != nil {
		t.Fatalf("RowCount: %v", err)
	}
	if n != 1234 {
		t.Errorf("count = %d, want 1234", n)
	}
	for _, frag := range []string{"ohlcv_equity", "exchange = 'NSE'", "symbol = 'RELIANCE'", "interval = 'day'"} {
		if !strings.Contains(gotQuery, frag) {
			t.Errorf("query %q missing %q", gotQuery, frag)
		}
	}
}

func TestClientRowCountQuotesKeyFields(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("query")
		fmt.Fprint(w, `{"dataset":[[0]],"count":1}`)
	}))
	defer srv.Close()

	// A symbol that bypassed sanitization, e.g. decoded from an old
	// container file.
	key := equityKey
	key.Symbol = "O'NEIL"
	if _, err := NewClient(srv.URL).RowCount(context.Background(), key); err != nil {
		t.Fatalf("RowCount: %v", err)
	}
	if !strings.Contains(gotQuery, "symbol = 'O''NEIL'") {
		t.Errorf("query %q does not double the quote", gotQuery)
	}
}

func TestClientExecSurfacesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"table does not exist"}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Exec(context.Background(), "select * from missing")
	if err == nil || !strings.Contains(err.Error(), "table does not exist") {
		t.Errorf("err = %v", err)
	}
}
