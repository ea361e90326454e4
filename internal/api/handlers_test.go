package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/SeraKah-1/neuronotespro/internal/engine"
	"github.com/SeraKah-1/neuronotespro/internal/model"
	"github.com/SeraKah-1/neuronotespro/internal/store"
)

// blockingGen serves generation requests only after release is closed. With
// release pre-closed it completes instantly with canned text.
type blockingGen struct {
	release chan struct{}
}

func (g *blockingGen) GenerateOutline(ctx context.Context, cfg model.RunConfig, topic string) (string, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return "## Outline: " + topic, nil
}

func (g *blockingGen) GenerateContent(ctx context.Context, cfg model.RunConfig, topic, outline string) (string, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return "# " + topic + "\n\nbody", nil
}

func newTestServer(t *testing.T) (*Server, *store.Store, *engine.Engine, *blockingGen) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := store.OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	st, err := store.New(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	gen := &blockingGen{release: make(chan struct{})}
	close(gen.release)

	eng, err := engine.New(st, gen, engine.WithCooldown(0))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(eng.Close)

	return New(eng, st, ""), st, eng, gen
}

func doRequest(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode JSON: %v\nbody: %s", err, rr.Body.String())
	}
	return result
}

func waitForIdle(t *testing.T, eng *engine.Engine) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if snap := eng.State(); !snap.IsProcessing {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("engine still processing after 5s")
}

func TestState_Empty(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	h := srv.Handler()

	rr := doRequest(t, h, "GET", "/api/state", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	result := decodeJSON(t, rr)
	queue, ok := result["queue"].([]any)
	if !ok {
		t.Fatalf("queue = %T, want array", result["queue"])
	}
	if len(queue) != 0 {
		t.Errorf("queue length = %d, want 0", len(queue))
	}
	if result["is_processing"] != false {
		t.Errorf("is_processing = %v, want false", result["is_processing"])
	}
}

func TestAppendTopics(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	h := srv.Handler()

	rr := doRequest(t, h, "POST", "/api/queue/topics", `{"topics":["Raft consensus","B-trees"]}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d, body: %s", rr.Code, http.StatusCreated, rr.Body.String())
	}

	var added []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &added); err != nil {
		t.Fatal(err)
	}
	if len(added) != 2 {
		t.Fatalf("added = %d, want 2", len(added))
	}
	if added[0]["status"] != model.StatusPending {
		t.Errorf("status = %v, want PENDING", added[0]["status"])
	}
	if added[0]["id"] == "" {
		t.Error("added item has no ID")
	}
}

func TestAppendTopics_Empty(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	h := srv.Handler()

	rr := doRequest(t, h, "POST", "/api/queue/topics", `{"topics":[]}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestSetQueue_Reorder(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	h := srv.Handler()

	rr := doRequest(t, h, "POST", "/api/queue/topics", `{"topics":["A","B"]}`)
	var added []map[string]any
	json.Unmarshal(rr.Body.Bytes(), &added)
	idA := added[0]["id"].(string)
	idB := added[1]["id"].(string)

	body := `{"items":[{"id":"` + idB + `","topic":"B"},{"id":"` + idA + `","topic":"A"}]}`
	rr = doRequest(t, h, "PUT", "/api/queue", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	result := decodeJSON(t, rr)
	queue := result["queue"].([]any)
	first := queue[0].(map[string]any)
	if first["id"] != idB {
		t.Errorf("first item = %v, want %s", first["id"], idB)
	}
}

func TestSetQueue_DuplicateIDs(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	h := srv.Handler()

	body := `{"items":[{"id":"x","topic":"A"},{"id":"x","topic":"B"}]}`
	rr := doRequest(t, h, "PUT", "/api/queue", body)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestUpdateOutline(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	h := srv.Handler()

	rr := doRequest(t, h, "POST", "/api/queue/topics", `{"topics":["A"]}`)
	var added []map[string]any
	json.Unmarshal(rr.Body.Bytes(), &added)
	id := added[0]["id"].(string)

	rr = doRequest(t, h, "PUT", "/api/items/"+id+"/outline", `{"outline":"## Edited"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	result := decodeJSON(t, rr)
	queue := result["queue"].([]any)
	item := queue[0].(map[string]any)
	if item["status"] != model.StatusOutlineReady {
		t.Errorf("status = %v, want OUTLINE_READY", item["status"])
	}
	if item["outline"] != "## Edited" {
		t.Errorf("outline = %v, want edited text", item["outline"])
	}
}

func TestUpdateOutline_NotFound(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	h := srv.Handler()

	rr := doRequest(t, h, "PUT", "/api/items/nonexistent/outline", `{"outline":"x"}`)
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestUpdateOutline_Empty(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	h := srv.Handler()

	rr := doRequest(t, h, "POST", "/api/queue/topics", `{"topics":["A"]}`)
	var added []map[string]any
	json.Unmarshal(rr.Body.Bytes(), &added)
	id := added[0]["id"].(string)

	rr = doRequest(t, h, "PUT", "/api/items/"+id+"/outline", `{"outline":"   "}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestRun_EndToEnd(t *testing.T) {
	srv, _, eng, _ := newTestServer(t)
	h := srv.Handler()

	doRequest(t, h, "POST", "/api/queue/topics", `{"topics":["A"]}`)

	rr := doRequest(t, h, "POST", "/api/run/start", `{"auto_approve":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("start status = %d, want %d, body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	waitForIdle(t, eng)

	rr = doRequest(t, h, "GET", "/api/state", "")
	result := decodeJSON(t, rr)
	queue := result["queue"].([]any)
	item := queue[0].(map[string]any)
	if item["status"] != model.StatusDone {
		t.Errorf("status = %v, want DONE", item["status"])
	}

	rr = doRequest(t, h, "GET", "/api/artifacts", "")
	var artifacts []map[string]any
	json.Unmarshal(rr.Body.Bytes(), &artifacts)
	if len(artifacts) != 2 {
		t.Errorf("artifacts = %d, want 2 (outline and content)", len(artifacts))
	}
}

func TestStart_AlreadyRunning(t *testing.T) {
	srv, _, eng, gen := newTestServer(t)
	h := srv.Handler()

	// Re-arm the generator so the first run blocks mid-phase.
	gen.release = make(chan struct{})

	doRequest(t, h, "POST", "/api/queue/topics", `{"topics":["A"]}`)

	rr := doRequest(t, h, "POST", "/api/run/start", `{"auto_approve":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("first start status = %d, want %d", rr.Code, http.StatusOK)
	}

	rr = doRequest(t, h, "POST", "/api/run/start", `{"auto_approve":true}`)
	if rr.Code != http.StatusConflict {
		t.Errorf("second start status = %d, want %d", rr.Code, http.StatusConflict)
	}

	close(gen.release)
	waitForIdle(t, eng)
}

func TestStop_Idle(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	h := srv.Handler()

	rr := doRequest(t, h, "POST", "/api/run/stop", "")
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestResetCircuit(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	h := srv.Handler()

	rr := doRequest(t, h, "POST", "/api/run/reset-circuit", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	result := decodeJSON(t, rr)
	if result["circuit_open"] != false {
		t.Errorf("circuit_open = %v, want false", result["circuit_open"])
	}
}

func TestArtifacts_GetAndFilter(t *testing.T) {
	srv, st, _, _ := newTestServer(t)
	h := srv.Handler()

	ctx := context.Background()
	item := model.NewItem("item-1", "Raft consensus")
	a1 := model.NewArtifact("a-1", item, model.ArtifactOutline, "## outline")
	a2 := model.NewArtifact("a-2", item, model.ArtifactContent, "# content")
	for _, a := range []model.Artifact{a1, a2} {
		if err := st.SaveArtifact(ctx, a); err != nil {
			t.Fatal(err)
		}
	}

	rr := doRequest(t, h, "GET", "/api/artifacts?kind=outline", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	var artifacts []map[string]any
	json.Unmarshal(rr.Body.Bytes(), &artifacts)
	if len(artifacts) != 1 {
		t.Fatalf("filtered artifacts = %d, want 1", len(artifacts))
	}

	rr = doRequest(t, h, "GET", "/api/artifacts/a-2", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d, want %d", rr.Code, http.StatusOK)
	}
	got := decodeJSON(t, rr)
	if got["body"] != "# content" {
		t.Errorf("body = %v, want content text", got["body"])
	}
}

func TestArtifacts_NotFound(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	h := srv.Handler()

	rr := doRequest(t, h, "GET", "/api/artifacts/nonexistent", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestEvents_InitialSnapshot(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	h := srv.Handler()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req := httptest.NewRequest("GET", "/api/events", nil).WithContext(ctx)
	rr := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		h.ServeHTTP(rr, req)
		close(done)
	}()

	// The initial snapshot is delivered on subscribe; give the handler a
	// moment to write it, then end the stream and inspect the recording.
	time.Sleep(200 * time.Millisecond)
	cancel()
	<-done

	body := rr.Body.String()
	if !strings.Contains(body, "event: state") {
		t.Fatalf("no state event in stream, body: %q", body)
	}
	if !strings.Contains(body, `"queue":[]`) {
		t.Errorf("initial snapshot missing empty queue, body: %q", body)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
}
