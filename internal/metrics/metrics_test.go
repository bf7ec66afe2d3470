package metrics

import "testing"

func TestRecordAndSnapshot(t *testing.T) {
	r := New()
	r.Record("GET", "/api/nexus/status", 10, false)
	r.Record("GET", "/api/nexus/status", 30, false)
	r.Record("GET", "/api/nexus/status", 20, true)
	r.Record("POST", "/api/nexus/learn", 5, false)

	snap := r.Snapshot()
	if len(snap.Endpoints) != 2 {
		t.Fatalf("endpoints = %d, want 2", len(snap.Endpoints))
	}

	var status EndpointSnapshot
	for _, e := range snap.Endpoints {
		if e.Endpoint == "GET /api/nexus/status" {
			status = e
		}
	}
	if status.Count != 3 {
		t.Errorf("count = %d, want 3", status.Count)
	}
	if status.Errors != 1 {
		t.Errorf("errors = %d, want 1", status.Errors)
	}
	if status.AvgMs != 20 {
		t.Errorf("avg = %v, want 20", status.AvgMs)
	}
	if status.MinMs != 10 || status.MaxMs != 30 {
		t.Errorf("min/max = %v/%v, want 10/30", status.MinMs, status.MaxMs)
	}
}

func TestSnapshotSorted(t *testing.T) {
	r := New()
	r.Record("POST", "/b", 1, false)
	r.Record("GET", "/a", 1, false)

	snap := r.Snapshot()
	if snap.Endpoints[0].Endpoint != "GET /a" {
		t.Errorf("first endpoint = %q, want GET /a", snap.Endpoints[0].Endpoint)
	}
}

func TestCorruptCounter(t *testing.T) {
	r := New()
	r.AddCorrupt(2)
	r.AddCorrupt(1)
	if got := r.Snapshot().CorruptRecords; got != 3 {
		t.Errorf("corrupt = %d, want 3", got)
	}
}
