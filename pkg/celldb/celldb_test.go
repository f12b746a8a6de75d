package celldb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/satstat/satstat/pkg/cell"
	"github.com/satstat/satstat/pkg/radio"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "cells.db"), nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func snapshotAt(ts time.Time, dbm int) radio.Snapshot {
	serving := cell.NewGSM(310, 260, 5, 12345, cell.Unknown)
	serving.AddSource(cell.SourceCellLocation)
	if dbm != cell.DBMUnknown {
		serving.SetDbm(dbm)
	}
	neighbor := cell.NewGSM(310, 260, 5, 777, cell.Unknown)
	neighbor.AddSource(cell.SourceNeighborList)
	base := cell.NewCDMA(1, 2, 3)
	base.AddSource(cell.SourceCellInfo)
	return radio.Snapshot{
		Time:    ts,
		GSM:     []cell.Tower{*serving, *neighbor},
		CDMA:    []cell.Tower{*base},
		Serving: serving,
	}
}

func TestRecordAndCount(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Record(ctx, snapshotAt(time.Now(), -80)); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	n, err := db.Count(ctx)
	if err != nil || n != 3 {
		t.Fatalf("count = %d, %v; want 3", n, err)
	}
}

func TestRecentEmpty(t *testing.T) {
	db := openTestDB(t)

	records, err := db.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if records == nil || len(records) != 0 {
		t.Errorf("expected an empty non-nil slice, got %#v", records)
	}
}

func TestRecordMergesSightings(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	start := time.Now().Add(-time.Minute).Truncate(time.Millisecond)

	steps := []int{-90, -75, cell.DBMUnknown}
	for i, dbm := range steps {
		if err := db.Record(ctx, snapshotAt(start.Add(time.Duration(i)*time.Second), dbm)); err != nil {
			t.Fatalf("record %d failed: %v", i, err)
		}
	}

	n, _ := db.Count(ctx)
	if n != 3 {
		t.Fatalf("expected 3 towers, got %d", n)
	}

	records, err := db.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	var serving *Record
	for i := range records {
		if records[i].Text == "gsm:310-260-5-12345" {
			serving = &records[i]
		}
	}
	if serving == nil {
		t.Fatalf("serving tower missing from %+v", records)
	}
	if serving.Sightings != 3 || serving.ServingCount != 3 {
		t.Errorf("sightings/serving = %d/%d; want 3/3", serving.Sightings, serving.ServingCount)
	}
	if serving.BestDbm == nil || *serving.BestDbm != -75 {
		t.Errorf("best dbm = %v; want -75", serving.BestDbm)
	}
	if !serving.FirstSeen.Equal(start) || !serving.LastSeen.Equal(start.Add(2*time.Second)) {
		t.Errorf("first/last = %v/%v", serving.FirstSeen, serving.LastSeen)
	}
	if records[0].ServingCount != 3 {
		t.Error("serving tower should sort first among equally recent towers")
	}
}

func TestCDMAIdentityColumns(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if err := db.Record(ctx, snapshotAt(time.Now(), -80)); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	records, err := db.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	for _, r := range records {
		if r.Family != "cdma" {
			continue
		}
		if r.MCC != cell.Unknown || r.MNC != 1 || r.Area != 2 || r.Cell != 3 || r.Code != cell.Unknown {
			t.Errorf("unexpected CDMA columns %+v", r)
		}
		if r.BestDbm != nil || r.ServingCount != 0 {
			t.Errorf("unexpected CDMA reading %+v", r)
		}
		return
	}
	t.Fatal("CDMA tower missing")
}

func TestPrune(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)
	if err := db.Record(ctx, snapshotAt(old, -80)); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	removed, err := db.Prune(ctx, time.Now().Add(-24*time.Hour))
	if err != nil || removed != 3 {
		t.Fatalf("prune = %d, %v; want 3", removed, err)
	}
	if n, _ := db.Count(ctx); n != 0 {
		t.Errorf("expected empty table, got %d", n)
	}
}

func TestOnCycle(t *testing.T) {
	db := openTestDB(t)
	db.OnCycle(snapshotAt(time.Now(), -60))
	if n, _ := db.Count(context.Background()); n != 3 {
		t.Errorf("expected 3 towers after OnCycle, got %d", n)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cells.db")
	db, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := db.Record(context.Background(), snapshotAt(time.Now(), -70)); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	db.Close()

	db, err = Open(path, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer db.Close()
	if n, _ := db.Count(context.Background()); n != 3 {
		t.Errorf("expected 3 towers after reopen, got %d", n)
	}
}
