package db

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopcore/pkg/logger"
)

type testModel struct {
	ID   int
	Name string
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&testModel{}); err != nil {
		t.Fatalf("failed to migrate sqlite: %v", err)
	}
	return conn
}

func TestWithTx_CommitsAndRollbacks(t *testing.T) {
	db := newTestDB(t)
	client := &Client{conn: db}

	ctx := context.Background()
	if err := client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&testModel{Name: "committed"}).Error
	}); err != nil {
		t.Fatalf("WithTx commit failed: %v", err)
	}

	var count int64
	if err := db.Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 record, got %d", count)
	}

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&testModel{Name: "rolled"}).Error; err != nil {
			return err
		}
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected WithTx to return an error")
	}
	if err := db.Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed after rollback: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected rollback to leave 1 record, got %d", count)
	}
}

func TestPing(t *testing.T) {
	db := newTestDB(t)
	client := &Client{conn: db}
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected ping error: %v", err)
	}
}

func TestWithSession_TransactionalCommitsAndRollsBack(t *testing.T) {
	conn := newTestDB(t)
	client := NewFromConn(conn, false)
	ctx := context.Background()

	hookRan := false
	if err := client.WithSession(ctx, func(sess Session) error {
		if sess.Mode() != ModeTransactional {
			t.Fatalf("expected transactional mode, got %s", sess.Mode())
		}
		sess.AfterCommit(func(context.Context) { hookRan = true })
		return sess.DB().Create(&testModel{Name: "kept"}).Error
	}); err != nil {
		t.Fatalf("session commit failed: %v", err)
	}
	if !hookRan {
		t.Fatal("expected after-commit hook to run")
	}

	err := client.WithSession(ctx, func(sess Session) error {
		sess.AfterCommit(func(context.Context) { t.Fatal("hook must not run on abort") })
		if err := sess.DB().Create(&testModel{Name: "dropped"}).Error; err != nil {
			return err
		}
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected session error")
	}

	var count int64
	if err := conn.Model(&testModel{}).Where("name = ?", "dropped").Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected rollback to discard write, got %d rows", count)
	}
}

func TestStandaloneSessionRunsCompensationsNewestFirst(t *testing.T) {
	conn := newTestDB(t)
	client := NewFromConn(conn, true)
	ctx := context.Background()

	var order []string
	err := client.WithSession(ctx, func(sess Session) error {
		if !sess.IsStandalone() {
			t.Fatal("expected standalone session")
		}
		sess.OnAbort(func(context.Context) error { order = append(order, "first"); return nil })
		sess.OnAbort(func(context.Context) error { order = append(order, "second"); return nil })
		return errors.New("step failed")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(order) != 2 || order[0] != "second" || order[1] != "first" {
		t.Fatalf("unexpected compensation order %v", order)
	}
}

func TestStandaloneSessionCommitSkipsCompensations(t *testing.T) {
	client := NewFromConn(newTestDB(t), true)
	ran := false
	if err := client.WithSession(context.Background(), func(sess Session) error {
		sess.OnAbort(func(context.Context) error { ran = true; return nil })
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ran {
		t.Fatal("compensation must not run after commit")
	}
}

func TestSessionEndIsIdempotentAndBlocksCommit(t *testing.T) {
	client := NewFromConn(newTestDB(t), false)
	sess, err := client.Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	sess.End()
	sess.End()
	if err := sess.Commit(); !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("expected ErrSessionEnded, got %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !IsUniqueViolation(errors.New("UNIQUE constraint failed: payments.gateway_order_id"), "") {
		t.Fatal("expected sqlite message to match")
	}
	if !IsUniqueViolation(gorm.ErrDuplicatedKey, "") {
		t.Fatal("expected gorm sentinel to match")
	}
	if IsUniqueViolation(errors.New("connection reset"), "") {
		t.Fatal("unexpected match")
	}
}

func TestGormLoggerReportsSlowAndFailedQueries(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "db-test", Output: &buf})
	gl := newGormLogger(logg, 10*time.Millisecond)
	stmt := func() (string, int64) { return "SELECT 1", 1 }

	gl.Trace(context.Background(), time.Now(), stmt, nil)
	if buf.Len() != 0 {
		t.Fatalf("fast query should not log, got %s", buf.String())
	}
	gl.Trace(context.Background(), time.Now(), stmt, gorm.ErrRecordNotFound)
	if buf.Len() != 0 {
		t.Fatalf("not-found should not log, got %s", buf.String())
	}
	gl.Trace(context.Background(), time.Now().Add(-time.Second), stmt, nil)
	if !strings.Contains(buf.String(), "slow query") {
		t.Fatalf("expected slow query log, got %s", buf.String())
	}
	buf.Reset()
	gl.Trace(context.Background(), time.Now(), stmt, errors.New("deadlock detected"))
	if !strings.Contains(buf.String(), "query failed") || !strings.Contains(buf.String(), "SELECT 1") {
		t.Fatalf("expected failed query log, got %s", buf.String())
	}
}
