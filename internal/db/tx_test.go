package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeQueryable struct{ name string }

func (fakeQueryable) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (fakeQueryable) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (fakeQueryable) QueryRow(context.Context, string, ...any) pgx.Row       { return nil }

type failingBeginner struct{}

func (failingBeginner) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("connection refused")
}

func TestConn_FallsBackWithoutTx(t *testing.T) {
	pool := fakeQueryable{name: "pool"}
	got := Conn(context.Background(), pool)
	if f, ok := got.(fakeQueryable); !ok || f.name != "pool" {
		t.Fatalf("expected fallback queryable, got %#v", got)
	}
}

func TestTxFromContext_Empty(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Fatalf("expected nil tx, got %#v", tx)
	}
}

func TestWithTx_BeginError(t *testing.T) {
	called := false
	err := WithTx(context.Background(), failingBeginner{}, func(context.Context) error {
		called = true
		return nil
	})
	if err == nil {
		t.Fatal("expected begin error")
	}
	if called {
		t.Error("fn must not run when begin fails")
	}
}
