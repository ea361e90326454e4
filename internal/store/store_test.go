package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/SeraKah-1/neuronotespro/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := New(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestLoadQueue_Empty(t *testing.T) {
	s := newTestStore(t)
	items, err := s.LoadQueue(context.Background())
	if err != nil {
		t.Fatalf("LoadQueue: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("LoadQueue on fresh db = %d items, want 0", len(items))
	}
}

func TestSaveQueue_RoundTripPreservesOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	queue := []model.Item{
		model.NewItem("c", "Topic C"),
		model.NewItem("a", "Topic A"),
		model.NewItem("b", "Topic B"),
	}
	queue[1].Status = model.StatusDone
	queue[1].Outline = "## outline"
	queue[2].RetryCount = 2
	queue[2].ErrorMsg = "attempt 2/3: timeout"

	if err := s.SaveQueue(ctx, queue); err != nil {
		t.Fatalf("SaveQueue: %v", err)
	}

	got, err := s.LoadQueue(ctx)
	if err != nil {
		t.Fatalf("LoadQueue: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("LoadQueue = %d items, want 3", len(got))
	}
	for i, wantID := range []string{"c", "a", "b"} {
		if got[i].ID != wantID {
			t.Errorf("position %d: ID = %q, want %q", i, got[i].ID, wantID)
		}
	}
	if got[1].Status != model.StatusDone || got[1].Outline != "## outline" {
		t.Errorf("item a not restored: %+v", got[1])
	}
	if got[2].RetryCount != 2 || got[2].ErrorMsg == "" {
		t.Errorf("item b retry state not restored: %+v", got[2])
	}
}

func TestSaveQueue_WholesaleReplace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := []model.Item{model.NewItem("a", "A"), model.NewItem("b", "B")}
	if err := s.SaveQueue(ctx, first); err != nil {
		t.Fatalf("SaveQueue: %v", err)
	}

	second := []model.Item{model.NewItem("x", "X")}
	if err := s.SaveQueue(ctx, second); err != nil {
		t.Fatalf("SaveQueue replace: %v", err)
	}

	got, err := s.LoadQueue(ctx)
	if err != nil {
		t.Fatalf("LoadQueue: %v", err)
	}
	if len(got) != 1 || got[0].ID != "x" {
		t.Errorf("LoadQueue after replace = %+v, want only item x", got)
	}
}

func TestSaveQueue_EmptyClearsSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveQueue(ctx, []model.Item{model.NewItem("a", "A")}); err != nil {
		t.Fatalf("SaveQueue: %v", err)
	}
	if err := s.SaveQueue(ctx, nil); err != nil {
		t.Fatalf("SaveQueue empty: %v", err)
	}
	got, err := s.LoadQueue(ctx)
	if err != nil {
		t.Fatalf("LoadQueue: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("LoadQueue = %d items, want 0", len(got))
	}
}

func TestSaveArtifact_UpsertPerKind(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	item := model.NewItem("item-1", "Goroutines")

	if err := s.SaveArtifact(ctx, model.NewArtifact("a-1", item, model.ArtifactOutline, "v1")); err != nil {
		t.Fatalf("SaveArtifact: %v", err)
	}
	// Same item+kind replaces the previous body.
	if err := s.SaveArtifact(ctx, model.NewArtifact("a-2", item, model.ArtifactOutline, "v2")); err != nil {
		t.Fatalf("SaveArtifact upsert: %v", err)
	}
	if err := s.SaveArtifact(ctx, model.NewArtifact("a-3", item, model.ArtifactContent, "body")); err != nil {
		t.Fatalf("SaveArtifact content: %v", err)
	}

	all, err := s.ListArtifacts(ctx, model.ArtifactFilter{})
	if err != nil {
		t.Fatalf("ListArtifacts: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("ListArtifacts = %d, want 2", len(all))
	}

	outlines, err := s.ListArtifacts(ctx, model.ArtifactFilter{Kind: []string{model.ArtifactOutline}})
	if err != nil {
		t.Fatalf("ListArtifacts filtered: %v", err)
	}
	if len(outlines) != 1 || outlines[0].Body != "v2" {
		t.Errorf("outline artifact = %+v, want body v2", outlines)
	}
}

func TestListArtifacts_TopicQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := model.NewItem("i-1", "Go channels")
	b := model.NewItem("i-2", "Rust lifetimes")
	s.SaveArtifact(ctx, model.NewArtifact("a-1", a, model.ArtifactContent, "x"))
	s.SaveArtifact(ctx, model.NewArtifact("a-2", b, model.ArtifactContent, "y"))

	got, err := s.ListArtifacts(ctx, model.ArtifactFilter{Query: "channels"})
	if err != nil {
		t.Fatalf("ListArtifacts: %v", err)
	}
	if len(got) != 1 || got[0].Topic != "Go channels" {
		t.Errorf("query result = %+v, want only Go channels", got)
	}
}

func TestGetArtifact(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	item := model.NewItem("i-1", "Topic")

	if err := s.SaveArtifact(ctx, model.NewArtifact("a-1", item, model.ArtifactContent, "body")); err != nil {
		t.Fatalf("SaveArtifact: %v", err)
	}

	got, err := s.GetArtifact(ctx, "a-1")
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if got.Body != "body" {
		t.Errorf("Body = %q, want %q", got.Body, "body")
	}

	_, err = s.GetArtifact(ctx, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetArtifact(missing) error = %v, want ErrNotFound", err)
	}
}
