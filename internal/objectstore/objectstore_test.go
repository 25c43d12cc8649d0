package objectstore

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"
)

func TestBuildDocumentPath(t *testing.T) {
	ts := time.Date(2026, time.February, 19, 23, 5, 0, 0, time.FixedZone("x", -5*3600))
	key, err := BuildDocumentPath("shop", ts)
	if err != nil {
		t.Fatalf("BuildDocumentPath() error = %v", err)
	}
	want := "connections/shop/knowledge/date=2026-02-20/build-" + strconv.FormatInt(ts.UnixMilli(), 10) + ".md"
	if key != want {
		t.Fatalf("BuildDocumentPath() = %q, want %q", key, want)
	}
}

func TestBuildVectorSnapshotPath(t *testing.T) {
	ts := time.UnixMilli(1_700_000_000_000)
	key, err := BuildVectorSnapshotPath("warehouse-1", ts)
	if err != nil {
		t.Fatalf("BuildVectorSnapshotPath() error = %v", err)
	}
	want := "connections/warehouse-1/embeddings/date=2023-11-14/build-1700000000000.parquet"
	if key != want {
		t.Fatalf("BuildVectorSnapshotPath() = %q, want %q", key, want)
	}
}

func TestPathsRejectInvalidConnectionID(t *testing.T) {
	if _, err := BuildDocumentPath("../oops", time.Now()); err == nil {
		t.Fatal("expected invalid component error")
	}
	if _, err := LatestDocumentPath(""); err == nil {
		t.Fatal("expected invalid component error")
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if _, err := PutBytes(ctx, store, "a/b.md", []byte("# doc"), ContentTypeMarkdown); err != nil {
		t.Fatalf("PutBytes() error = %v", err)
	}
	data, err := ReadAll(ctx, store, "a/b.md")
	if err != nil || string(data) != "# doc" {
		t.Fatalf("ReadAll() = %q, %v", data, err)
	}
	info, err := store.Stat(ctx, "a/b.md")
	if err != nil || info.Size != 5 {
		t.Fatalf("Stat() = %+v, %v", info, err)
	}
	if err := store.Delete(ctx, "a/b.md"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, "a/b.md"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("Get() after delete error = %v", err)
	}
}
