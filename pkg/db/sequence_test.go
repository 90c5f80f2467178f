package db

import (
	"context"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newSequenceDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:idseq?mode=memory&cache=shared"), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := conn.Exec(`DROP TABLE IF EXISTS id_sequences`).Error; err != nil {
		t.Fatalf("failed to reset table: %v", err)
	}
	if err := conn.Exec(`CREATE TABLE id_sequences (name TEXT PRIMARY KEY, value BIGINT NOT NULL)`).Error; err != nil {
		t.Fatalf("failed to create table: %v", err)
	}
	return conn
}

func TestNextSequenceNeverRepeats(t *testing.T) {
	db := newSequenceDB(t)
	ctx := context.Background()

	seen := map[int64]bool{}
	for i := 0; i < 5; i++ {
		value, err := NextSequence(ctx, db, SeqOrderID, 1)
		if err != nil {
			t.Fatalf("allocation %d failed: %v", i, err)
		}
		if seen[value] {
			t.Fatalf("value %d allocated twice", value)
		}
		seen[value] = true
		if want := int64(i + 1); value != want {
			t.Fatalf("expected %d, got %d", want, value)
		}
	}
}

func TestNextSequenceResumesFromSeededRow(t *testing.T) {
	db := newSequenceDB(t)
	ctx := context.Background()

	if err := db.Exec(`INSERT INTO id_sequences (name, value) VALUES (?, ?)`, SeqClientID, 1041).Error; err != nil {
		t.Fatalf("failed to seed: %v", err)
	}

	value, err := NextSequence(ctx, db, SeqClientID, 1000)
	if err != nil {
		t.Fatalf("allocation failed: %v", err)
	}
	if value != 1042 {
		t.Fatalf("expected 1042, got %d", value)
	}
}

func TestNextSequenceCountersAreIndependent(t *testing.T) {
	db := newSequenceDB(t)
	ctx := context.Background()

	orderVal, err := NextSequence(ctx, db, SeqOrderID, 1)
	if err != nil {
		t.Fatalf("order allocation failed: %v", err)
	}
	clientVal, err := NextSequence(ctx, db, SeqClientID, 1000)
	if err != nil {
		t.Fatalf("client allocation failed: %v", err)
	}
	if orderVal != 1 || clientVal != 1000 {
		t.Fatalf("unexpected values order=%d client=%d", orderVal, clientVal)
	}
}
