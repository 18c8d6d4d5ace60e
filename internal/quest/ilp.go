// Package quest writes bars to a QuestDB instance over the InfluxDB
// line protocol and verifies them through the HTTP query endpoint.
package quest

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"tickvault/internal/domain"
)

// Table names in the analytical store.
const (
	TableEquity      = "ohlcv_equity"
	TableDerivatives = "ohlcv_derivatives"
)

// Source tags carried in the data_source column.
const (
	SourceLive      = "kite_api"
	SourceMigration = "hdf5_migration"
)

// TableForKey returns the target table for a series: equity-layout
// series land in the equity table, everything with an open-interest
// column in the derivatives table.
func TableForKey(key domain.SeriesKey) string {
	if key.Layout() == domain.LayoutEquity {
		return TableEquity
	}
	return TableDerivatives
}

// defaultFlushRows bounds the lines buffered before an automatic flush.
// Callers normally flush per batch themselves; this is the backstop that
// keeps an unflushed buffer from growing without bound.
const defaultFlushRows = 25_000

// ILPWriter streams line-protocol rows over one TCP connection. It is
// not safe for concurrent use; the migration pipeline gives each worker
// its own writer.
type ILPWriter struct {
	conn net.Conn
	bw   *bufio.Writer
	rows int
	// pending counts rows since the last flush.
	pending    int
	flushEvery int
}

// DialILP connects to a QuestDB line-protocol endpoint (port 9009 by
// convention).
func DialILP(addr string, timeout time.Duration) (*ILPWriter, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("ilp dial %s: %w", addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}
	return NewILPWriter(conn), nil
}

// NewILPWriter wraps an established connection. Tests pass one end of a
// net.Pipe.
func NewILPWriter(conn net.Conn) *ILPWriter {
	return &ILPWriter{
		conn:       conn,
		bw:         bufio.NewWriterSize(conn, 1<<16),
		flushEvery: defaultFlushRows,
	}
}

// WriteBar appends one row for key. The row reaches the server on the
// next Flush, or automatically once enough rows are pending.
func (w *ILPWriter) WriteBar(key domain.SeriesKey, b domain.Bar, source string) error {
	if _, err := w.bw.WriteString(Line(key, b, source)); err != nil {
		return fmt.Errorf("ilp write: %w", err)
	}
	if err := w.bw.WriteByte('\n'); err != nil {
		return fmt.Errorf("ilp write: %w", err)
	}
	w.rows++
	w.pending++
	if w.pending >= w.flushEvery {
		return w.Flush()
	}
	return nil
}

// Flush pushes buffered rows to the server.
func (w *ILPWriter) Flush() error {
	if err := w.bw.Flush(); err != nil {
		return fmt.Errorf("ilp flush: %w", err)
	}
	w.pending = 0
	return nil
}

// Rows returns the number of rows written through this writer.
func (w *ILPWriter) Rows() int { return w.rows }

// Close flushes and closes the connection.
func (w *ILPWriter) Close() error {
	ferr := w.Flush()
	cerr := w.conn.Close()
	if ferr != nil {
		return ferr
	}
	return cerr
}

// Line renders one bar as a line-protocol row:
//
//	table,exchange=NSE,symbol=RELIANCE,interval=day,data_source=src
//	  open=..,high=..,low=..,close=..,volume=..i[,oi=..i],
//	  is_anomaly=false,adjusted=false <nanos>
//
// Timestamps are Unix seconds converted to nanoseconds.
func Line(key domain.SeriesKey, b domain.Bar, source string) string {
	var sb strings.Builder
	sb.Grow(160)

	sb.WriteString(TableForKey(key))
	sb.WriteString(",exchange=")
	sb.WriteString(escapeTag(string(key.Exchange)))
	sb.WriteString(",symbol=")
	sb.WriteString(escapeTag(key.Symbol))
	sb.WriteString(",interval=")
	sb.WriteString(escapeTag(string(key.Interval)))
	sb.WriteString(",data_source=")
	sb.WriteString(escapeTag(source))

	sb.WriteString(" open=")
	sb.WriteString(formatFloat(b.Open))
	sb.WriteString(",high=")
	sb.WriteString(formatFloat(b.High))
	sb.WriteString(",low=")
	sb.WriteString(formatFloat(b.Low))
	sb.WriteString(",close=")
	sb.WriteString(formatFloat(b.Close))
	sb.WriteString(",volume=")
	sb.WriteString(strconv.FormatInt(b.Volume, 10))
	sb.WriteByte('i')
	if key.Layout().HasOpenInterest() {
		sb.WriteString(",oi=")
		sb.WriteString(strconv.FormatInt(b.OpenInterest, 10))
		sb.WriteByte('i')
	}
	sb.WriteString(",is_anomaly=false,adjusted=false ")

	sb.WriteString(strconv.FormatInt(b.Timestamp*int64(time.Second), 10))
	return sb.String()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

var tagEscaper = strings.NewReplacer(",", `\,`, "=", `\=`, " ", `\ `)

func escapeTag(s string) string { return tagEscaper.Replace(s) }
