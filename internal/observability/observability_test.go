package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/geocoder89/barterhub/internal/actorctx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestClassifyDBErr(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&pgconn.PgError{Code: "23505"}, "unique_violation"},
		{&pgconn.PgError{Code: "23503"}, "foreign_key_violation"},
		{&pgconn.PgError{Code: "40P01"}, "deadlock"},
		{&pgconn.PgError{Code: "22P02"}, "invalid_input"},
		{&pgconn.PgError{Code: "42P01"}, "pg_42P01"},
		{fmt.Errorf("lock items: %w", context.DeadlineExceeded), "timeout"},
		{context.Canceled, "canceled"},
		{errors.New("weird"), "unknown"},
	}

	for _, tt := range tests {
		if got := classifyDBErr(tt.err); got != tt.want {
			t.Fatalf("classifyDBErr(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestObserveDB_CountsErrors(t *testing.T) {
	p := NewProm(prometheus.NewRegistry())

	_ = p.ObserveDB("items.create", func() error { return nil })
	_ = p.ObserveDB("items.create", func() error { return &pgconn.PgError{Code: "23505"} })

	if got := testutil.ToFloat64(p.DbErrorsTotal.WithLabelValues("items.create", "unique_violation")); got != 1 {
		t.Fatalf("expected 1 unique violation, got %v", got)
	}
}

func TestObserveDB_NoRowsIsNotAnError(t *testing.T) {
	p := NewProm(prometheus.NewRegistry())

	err := p.ObserveDB("trades.get", func() error { return pgx.ErrNoRows })
	if !errors.Is(err, pgx.ErrNoRows) {
		t.Fatalf("error must be passed through, got %v", err)
	}

	if n := testutil.CollectAndCount(p.DbErrorsTotal); n != 0 {
		t.Fatalf("expected no error series, got %d", n)
	}
}

func TestLogger_JSONLevels(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, LoggerOptions{Service: "barterhub-api", Env: "prod"})

	log.Debug("hidden")
	log.Info("shown", "k", "v")

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("expected exactly one JSON record, got %q: %v", buf.String(), err)
	}
	if rec["msg"] != "shown" || rec["k"] != "v" || rec["service"] != "barterhub-api" {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestLogger_StampsRequestAndActor(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, LoggerOptions{Service: "barterhub-api", Env: "prod"})

	ctx := actorctx.WithRequestID(context.Background(), "req-1")
	ctx = actorctx.WithUserID(ctx, "user-1")
	log.InfoContext(ctx, "trade accepted")

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec["request_id"] != "req-1" || rec["user_id"] != "user-1" {
		t.Fatalf("expected request and actor ids, got %+v", rec)
	}
	if _, ok := rec["trace_id"]; ok {
		t.Fatalf("no span in context, trace_id should be absent")
	}
}

func TestJobMetrics_Snapshot(t *testing.T) {
	m := NewJobMetrics()

	m.IncClaimed()
	m.IncClaimed()
	m.IncDone("item.image_cleanup")
	m.IncFailed("trade.notification")
	m.IncDeadLettered("trade.notification")
	m.ObserveDuration(10 * time.Millisecond)
	m.ObserveDuration(30 * time.Millisecond)

	s := m.Snapshot()
	if s.Claimed != 2 || s.Done != 1 || s.Failed != 1 || s.DeadLettered != 1 {
		t.Fatalf("unexpected totals %+v", s)
	}
	if s.AverageDuration != 20*time.Millisecond || s.MaxDuration != 30*time.Millisecond {
		t.Fatalf("unexpected durations avg=%v max=%v", s.AverageDuration, s.MaxDuration)
	}
	if s.ByType["trade.notification"].DeadLettered != 1 || s.ByType["item.image_cleanup"].Done != 1 {
		t.Fatalf("unexpected per-type counts %+v", s.ByType)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		raw, env string
		want     slog.Level
	}{
		{"", "dev", slog.LevelDebug},
		{"", "prod", slog.LevelInfo},
		{"WARN", "dev", slog.LevelWarn},
		{"error", "prod", slog.LevelError},
		{"loud", "prod", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.raw, tt.env); got != tt.want {
			t.Fatalf("parseLevel(%q, %q) = %v, want %v", tt.raw, tt.env, got, tt.want)
		}
	}
}
