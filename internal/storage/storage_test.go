package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func tempPaths(t *testing.T) Paths {
	t.Helper()
	dir := t.TempDir()
	return Paths{
		LearningEvents:  filepath.Join(dir, "learning_events.jsonl"),
		Proposals:       filepath.Join(dir, "improvement_proposals_v2.json"),
		ExperimentRuns:  filepath.Join(dir, "experiment_runs_v2.json"),
		OutcomeEvidence: filepath.Join(dir, "outcome_evidence.jsonl"),
		PolicyState:     filepath.Join(dir, "learning_policy_state.json"),
	}
}

func TestWriteJSONAtomicReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.json")
	if err := WriteJSONAtomic(path, map[string]int{"a": 1}); err != nil {
		t.Fatal(err)
	}
	if err := WriteJSONAtomic(path, map[string]int{"a": 2}); err != nil {
		t.Fatal(err)
	}
	var got map[string]int
	if found, err := ReadJSON(path, &got); !found || err != nil {
		t.Fatalf("ReadJSON found=%v err=%v", found, err)
	}
	if got["a"] != 2 {
		t.Errorf("a = %d, want 2", got["a"])
	}
	// No temp litter left behind.
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("dir entries = %d, want 1", len(entries))
	}
}

func TestReadJSONMissing(t *testing.T) {
	var out map[string]int
	found, err := ReadJSON(filepath.Join(t.TempDir(), "absent.json"), &out)
	if found || err != nil {
		t.Errorf("missing file: found=%v err=%v, want false/nil", found, err)
	}
}

func TestTailJSONLSkipsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ev.jsonl")
	content := `{"n":1}
not json at all
{"n":2}
{"n":3}
{broken
{"n":4}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	lines, skipped, err := TailJSONL(path, 2)
	if err != nil {
		t.Fatal(err)
	}
	if skipped != 2 {
		t.Errorf("skipped = %d, want 2", skipped)
	}
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	var last struct{ N int }
	if err := json.Unmarshal(lines[1], &last); err != nil {
		t.Fatal(err)
	}
	if last.N != 4 {
		t.Errorf("last n = %d, want 4", last.N)
	}
}

func TestEventsRoundTrip(t *testing.T) {
	s := New(tempPaths(t))
	for i := 0; i < 3; i++ {
		ev := LearningEvent{
			ID:        "ev" + string(rune('a'+i)),
			Timestamp: time.Now().UTC(),
			Source:    "scan",
			EventType: "scan_insight",
			Content:   "observation",
			Stream:    StreamProduction,
		}
		if err := s.AppendEvent(ev); err != nil {
			t.Fatal(err)
		}
	}
	events, err := s.RecentEvents(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[1].ID != "evc" {
		t.Errorf("last id = %q, want evc", events[1].ID)
	}
}

func TestUpdateProposalsPersists(t *testing.T) {
	s := New(tempPaths(t))
	err := s.UpdateProposals(func(pf *ProposalsFile) error {
		pf.Proposals = append(pf.Proposals, ProposalV2{
			ID: "p1", Status: ProposalPendingApproval, Signature: "sig",
		})
		pf.Pending = append(pf.Pending, "p1")
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	pf := s.LoadProposals()
	if len(pf.Proposals) != 1 || pf.Proposals[0].ID != "p1" {
		t.Fatalf("proposals = %+v, want one p1", pf.Proposals)
	}
	if pf.UpdatedAt.IsZero() {
		t.Error("updated_at not set")
	}
}

func TestPolicyStateRoundTrip(t *testing.T) {
	s := New(tempPaths(t))
	type st struct {
		Selected map[string]string `json:"selected"`
	}
	in := st{Selected: map[string]string{"focus_policy": "reliability_first"}}
	if err := s.SavePolicyState(in); err != nil {
		t.Fatal(err)
	}
	var out st
	found, err := s.LoadPolicyState(&out)
	if !found || err != nil {
		t.Fatalf("found=%v err=%v", found, err)
	}
	if out.Selected["focus_policy"] != "reliability_first" {
		t.Errorf("selected = %v", out.Selected)
	}
}

func TestAppendOnlyProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 30
	properties := gopter.NewProperties(params)

	properties.Property("appends never rewrite earlier bytes", prop.ForAll(
		func(contents []string) bool {
			path := filepath.Join(t.TempDir(), "log.jsonl")
			var prev []byte
			for _, c := range contents {
				if err := AppendJSONL(path, map[string]string{"c": c}); err != nil {
					return false
				}
				cur, err := os.ReadFile(path)
				if err != nil {
					return false
				}
				if !strings.HasPrefix(string(cur), string(prev)) {
					return false
				}
				prev = cur
			}
			return true
		},
		gen.SliceOfN(8, gen.AlphaString()),
	))

	properties.TestingRun(t)
}
