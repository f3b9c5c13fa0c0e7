package postgres

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

// context keys for query metadata.
type ctxKey string

const (
	ctxKeySQL    ctxKey = "pgx.sql"
	ctxKeyStart  ctxKey = "pgx.start"
	ctxKeyCaller ctxKey = "db.caller"
)

// QueryObserver receives the operation, outcome and duration of every query.
type QueryObserver func(operation, outcome string, dur time.Duration)

// queryTracer wraps another pgx.QueryTracer (otelpgx) and adds a structured
// log line for failed or slow queries plus an observer hook for metrics.
type queryTracer struct {
	inner   pgx.QueryTracer
	observe QueryObserver
	slow    time.Duration
}

func newQueryTracer(inner pgx.QueryTracer, slow time.Duration, observe QueryObserver) *queryTracer {
	return &queryTracer{inner: inner, observe: observe, slow: slow}
}

func (t *queryTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	caller := findDBCaller()

	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}

	ctx = context.WithValue(ctx, ctxKeySQL, data.SQL)
	ctx = context.WithValue(ctx, ctxKeyStart, time.Now())
	if caller != "" {
		ctx = context.WithValue(ctx, ctxKeyCaller, caller)
		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			span.SetAttributes(attribute.String("db.caller", caller))
		}
	}
	return ctx
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	// inner first so the span is finished before we log
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	sql, _ := ctx.Value(ctxKeySQL).(string)
	start, _ := ctx.Value(ctxKeyStart).(time.Time)
	caller, _ := ctx.Value(ctxKeyCaller).(string)

	var dur time.Duration
	if !start.IsZero() {
		dur = time.Since(start)
	}

	op := operationName(data.CommandTag.String(), sql)
	outcome := "ok"
	if data.Err != nil {
		outcome = "error"
	}
	if t.observe != nil {
		t.observe(op, outcome, dur)
	}

	if data.Err == nil && (t.slow <= 0 || dur < t.slow) {
		return
	}

	fields := []any{
		"db.statement", compactSQL(sql),
		"db.operation.name", op,
		"db.duration", dur.Seconds(),
	}
	if caller != "" {
		fields = append(fields, "db.caller", caller)
	}
	if rows := data.CommandTag.RowsAffected(); data.Err == nil && rows >= 0 {
		fields = append(fields, "db.rows", rows)
	}

	L := log.FromContext(ctx)
	if data.Err != nil {
		var pgErr *pgconn.PgError
		if errors.As(data.Err, &pgErr) {
			fields = append(fields, "db.error_code", pgErr.Code, "db.error_constraint", pgErr.ConstraintName)
		}
		L.Error(ctx, data.Err, "db query failed", fields...)
		return
	}
	L.Warn(ctx, "slow db query", fields...)
}

// operationName prefers the command tag and falls back to the first SQL keyword.
func operationName(tag, sql string) string {
	for _, s := range []string{tag, sql} {
		if parts := strings.Fields(s); len(parts) > 0 {
			return strings.ToUpper(parts[0])
		}
	}
	return "UNKNOWN"
}

func compactSQL(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}

// findDBCaller walks the stack to the first application frame issuing the query.
func findDBCaller() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	for {
		fr, more := frames.Next()
		fn := fr.Function
		if fn != "" && !skipFrame(fn) {
			return shortenFuncName(fn)
		}
		if !more {
			return ""
		}
	}
}

func skipFrame(fn string) bool {
	return strings.HasPrefix(fn, "runtime.") ||
		strings.Contains(fn, "github.com/jackc/pgx/v5") ||
		strings.Contains(fn, "github.com/jackc/puddle") ||
		strings.Contains(fn, "github.com/exaring/otelpgx") ||
		strings.Contains(fn, "github.com/linnemanlabs/sift/internal/postgres.")
}

func shortenFuncName(fn string) string {
	if i := strings.LastIndex(fn, "/"); i >= 0 && i+1 < len(fn) {
		fn = fn[i+1:]
	}
	if dot := strings.Index(fn, "."); dot >= 0 && dot+1 < len(fn) {
		fn = fn[dot+1:]
	}
	return fn
}
