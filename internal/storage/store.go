package storage

import (
	"sync"
	"sync/atomic"
	"time"
)

// Paths names the five files the store owns.
type Paths struct {
	LearningEvents  string
	Proposals       string
	ExperimentRuns  string
	OutcomeEvidence string
	PolicyState     string
}

// ProposalsFile is the on-disk shape of improvement_proposals_v2.json.
type ProposalsFile struct {
	Proposals []ProposalV2 `json:"proposals"`
	Pending   []string     `json:"pending"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// RunsFile is the on-disk shape of experiment_runs_v2.json.
type RunsFile struct {
	Runs      []ExperimentRun `json:"runs"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store is the typed persistence layer for the learning pipeline. JSONL
// files are append-only; JSON files are replaced atomically under a mutex.
type Store struct {
	paths Paths

	proposalsMu sync.Mutex
	runsMu      sync.Mutex
	policyMu    sync.Mutex

	skipped atomic.Int64
}

// New builds a store over the given paths.
func New(paths Paths) *Store {
	return &Store{paths: paths}
}

// SkippedLines reports malformed JSONL lines tolerated so far.
func (s *Store) SkippedLines() int64 { return s.skipped.Load() }

// AppendEvent appends one learning event.
func (s *Store) AppendEvent(ev LearningEvent) error {
	return AppendJSONL(s.paths.LearningEvents, ev)
}

// RecentEvents returns the last limit events in file order.
func (s *Store) RecentEvents(limit int) ([]LearningEvent, error) {
	raw, skipped, err := TailJSONL(s.paths.LearningEvents, limit)
	s.skipped.Add(int64(skipped))
	if err != nil {
		return nil, err
	}
	events, bad := DecodeLines[LearningEvent](raw)
	s.skipped.Add(int64(bad))
	return events, nil
}

// LoadProposals reads the proposals file, returning an empty file when the
// path does not exist or cannot be parsed.
func (s *Store) LoadProposals() ProposalsFile {
	s.proposalsMu.Lock()
	defer s.proposalsMu.Unlock()
	return s.loadProposalsLocked()
}

func (s *Store) loadProposalsLocked() ProposalsFile {
	var pf ProposalsFile
	if _, err := ReadJSON(s.paths.Proposals, &pf); err != nil {
		return ProposalsFile{}
	}
	return pf
}

// UpdateProposals applies fn to the proposals file under the store lock and
// persists the result atomically.
func (s *Store) UpdateProposals(fn func(*ProposalsFile) error) error {
	s.proposalsMu.Lock()
	defer s.proposalsMu.Unlock()

	pf := s.loadProposalsLocked()
	if err := fn(&pf); err != nil {
		return err
	}
	pf.UpdatedAt = time.Now().UTC()
	return WriteJSONAtomic(s.paths.Proposals, &pf)
}

// LoadRuns reads the experiment runs file; defaults on missing/corrupt.
func (s *Store) LoadRuns() RunsFile {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()
	return s.loadRunsLocked()
}

func (s *Store) loadRunsLocked() RunsFile {
	var rf RunsFile
	if _, err := ReadJSON(s.paths.ExperimentRuns, &rf); err != nil {
		return RunsFile{}
	}
	return rf
}

// UpdateRuns applies fn to the runs file under the store lock.
func (s *Store) UpdateRuns(fn func(*RunsFile) error) error {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()

	rf := s.loadRunsLocked()
	if err := fn(&rf); err != nil {
		return err
	}
	rf.UpdatedAt = time.Now().UTC()
	return WriteJSONAtomic(s.paths.ExperimentRuns, &rf)
}

// FindRun returns the run with the given id.
func (s *Store) FindRun(id string) (ExperimentRun, bool) {
	rf := s.LoadRuns()
	for _, r := range rf.Runs {
		if r.ID == id {
			return r, true
		}
	}
	return ExperimentRun{}, false
}

// AppendEvidence appends one outcome evidence record.
func (s *Store) AppendEvidence(ev OutcomeEvidence) error {
	return AppendJSONL(s.paths.OutcomeEvidence, ev)
}

// RecentEvidence returns the last limit evidence records in file order.
func (s *Store) RecentEvidence(limit int) ([]OutcomeEvidence, error) {
	raw, skipped, err := TailJSONL(s.paths.OutcomeEvidence, limit)
	s.skipped.Add(int64(skipped))
	if err != nil {
		return nil, err
	}
	evs, bad := DecodeLines[OutcomeEvidence](raw)
	s.skipped.Add(int64(bad))
	return evs, nil
}

// SavePolicyState persists the bandit state atomically.
func (s *Store) SavePolicyState(v any) error {
	s.policyMu.Lock()
	defer s.policyMu.Unlock()
	return WriteJSONAtomic(s.paths.PolicyState, v)
}

// LoadPolicyState reads the bandit state into out.
func (s *Store) LoadPolicyState(out any) (bool, error) {
	s.policyMu.Lock()
	defer s.policyMu.Unlock()
	return ReadJSON(s.paths.PolicyState, out)
}
