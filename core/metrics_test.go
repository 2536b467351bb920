package core

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
)

func TestHealthLoggerSnapshotAndStatusEndpoint(t *testing.T) {
	n, _ := newTestNode(t, NewPuzzleConsensus(1.5, nil))
	forceSynced(n)

	h, err := NewHealthLogger(n, t.TempDir()+"/events.log")
	if err != nil {
		t.Fatalf("new health logger: %v", err)
	}
	defer h.Close()

	s := h.Snapshot()
	if s.Height != 0 {
		t.Fatalf("snapshot height = %d, want 0", s.Height)
	}
	if s.ConsensusKind != "puzzle" || s.Difficulty != 1.5 {
		t.Fatalf("snapshot consensus = %q/%v, want puzzle/1.5", s.ConsensusKind, s.Difficulty)
	}
	if s.SyncState != "AlreadySynced" {
		t.Fatalf("snapshot sync state = %q, want AlreadySynced", s.SyncState)
	}

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/status returned %d", rec.Code)
	}
	var body StatusSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode /status body: %v", err)
	}
	if body.ConsensusKind != "puzzle" {
		t.Fatalf("/status consensus kind = %q, want puzzle", body.ConsensusKind)
	}
}

func TestHealthLoggerCountsMinedBlocks(t *testing.T) {
	n, _ := newTestNode(t, NewPuzzleConsensus(1, nil))
	forceSynced(n)

	h, err := NewHealthLogger(n, t.TempDir()+"/events.log")
	if err != nil {
		t.Fatalf("new health logger: %v", err)
	}
	defer h.Close()

	n.StartMining()
	waitForCondition(t, func() bool { return n.Ledger().Height() >= 1 })
	n.StopMining()

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics returned %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "coinmesh_blocks_mined_total") {
		t.Fatal("expected coinmesh_blocks_mined_total in /metrics output")
	}
	var mined float64
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if v, ok := strings.CutPrefix(line, "coinmesh_blocks_mined_total "); ok {
			mined, _ = strconv.ParseFloat(v, 64)
		}
	}
	if mined < 1 {
		t.Fatalf("coinmesh_blocks_mined_total = %v, want >= 1", mined)
	}
}
