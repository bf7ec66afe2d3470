package proposal

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/theanh97/nexus-nuance-sub001/internal/nexuserr"
	"github.com/theanh97/nexus-nuance-sub001/internal/storage"
)

// V1 improvement statuses.
const (
	ImprovementPending  = "pending"
	ImprovementApproved = "approved"
	ImprovementApplied  = "applied"
	ImprovementRejected = "rejected"
)

// Improvement is a scan-derived candidate on the legacy path. Source score
// is the 0..10 quality of the source that produced it.
type Improvement struct {
	ID           string     `json:"id"`
	CreatedAt    time.Time  `json:"created_at"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Source       string     `json:"source,omitempty"`
	SourceScore  float64    `json:"source_score"`
	Status       string     `json:"status"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	AppliedAt    *time.Time `json:"applied_at,omitempty"`
	AutoApproved bool       `json:"auto_approved,omitempty"`
	Unblocked    bool       `json:"unblocked,omitempty"`
}

type improvementsFile struct {
	Improvements []Improvement `json:"improvements"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// ImprovementStore persists v1 candidates at improvements.json. All
// operations are read-modify-write under the store lock.
type ImprovementStore struct {
	mu   sync.Mutex
	path string
	log  *zap.Logger
	now  func() time.Time
}

// NewImprovementStore builds a store over the given file path.
func NewImprovementStore(path string, log *zap.Logger) *ImprovementStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &ImprovementStore{path: path, log: log, now: time.Now}
}

func (s *ImprovementStore) load() improvementsFile {
	var f improvementsFile
	if _, err := storage.ReadJSON(s.path, &f); err != nil {
		return improvementsFile{}
	}
	return f
}

func (s *ImprovementStore) save(f improvementsFile) error {
	f.UpdatedAt = s.now().UTC()
	return storage.WriteJSONAtomic(s.path, &f)
}

// Add records a new pending candidate. Scores are clamped to [0,10].
func (s *ImprovementStore) Add(title, description, source string, score float64) (Improvement, error) {
	if title == "" {
		return Improvement{}, nexuserr.New(nexuserr.KindValidation, "improvement title required")
	}
	if score < 0 {
		score = 0
	}
	if score > 10 {
		score = 10
	}
	imp := Improvement{
		ID:          "imp_" + uuid.NewString()[:8],
		CreatedAt:   s.now().UTC(),
		Title:       title,
		Description: description,
		Source:      source,
		SourceScore: score,
		Status:      ImprovementPending,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.load()
	f.Improvements = append(f.Improvements, imp)
	if err := s.save(f); err != nil {
		return Improvement{}, err
	}
	return imp, nil
}

// List returns all improvements in insertion order.
func (s *ImprovementStore) List() []Improvement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load().Improvements
}

// Pending returns candidates still awaiting approval.
func (s *ImprovementStore) Pending() []Improvement {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Improvement
	for _, imp := range s.load().Improvements {
		if imp.Status == ImprovementPending {
			out = append(out, imp)
		}
	}
	return out
}

// AutoApprove promotes every pending candidate whose source score clears
// the threshold. Returns the candidates approved by this call.
func (s *ImprovementStore) AutoApprove(threshold float64) ([]Improvement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.load()
	var approved []Improvement
	now := s.now().UTC()
	for i := range f.Improvements {
		imp := &f.Improvements[i]
		if imp.Status != ImprovementPending || imp.SourceScore < threshold {
			continue
		}
		imp.Status = ImprovementApproved
		t := now
		imp.ApprovedAt = &t
		imp.AutoApproved = true
		approved = append(approved, *imp)
	}
	if len(approved) == 0 {
		return nil, nil
	}
	if err := s.save(f); err != nil {
		return nil, err
	}
	for _, imp := range approved {
		s.log.Info("improvement auto-approved",
			zap.String("id", imp.ID),
			zap.Float64("source_score", imp.SourceScore))
	}
	return approved, nil
}

// UnblockOne approves the single best pending candidate at or above
// minScore. Used to break improvement stagnation.
func (s *ImprovementStore) UnblockOne(minScore float64) (Improvement, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.load()
	best := -1
	for i := range f.Improvements {
		imp := &f.Improvements[i]
		if imp.Status != ImprovementPending || imp.SourceScore < minScore {
			continue
		}
		if best < 0 || imp.SourceScore > f.Improvements[best].SourceScore {
			best = i
		}
	}
	if best < 0 {
		return Improvement{}, false, nil
	}
	imp := &f.Improvements[best]
	imp.Status = ImprovementApproved
	t := s.now().UTC()
	imp.ApprovedAt = &t
	imp.AutoApproved = true
	imp.Unblocked = true
	if err := s.save(f); err != nil {
		return Improvement{}, false, err
	}
	s.log.Info("improvement unblocked under stagnation",
		zap.String("id", imp.ID),
		zap.Float64("source_score", imp.SourceScore))
	return *imp, true, nil
}

// MarkApplied moves an approved candidate to applied, exactly once.
func (s *ImprovementStore) MarkApplied(id string) (Improvement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.load()
	for i := range f.Improvements {
		imp := &f.Improvements[i]
		if imp.ID != id {
			continue
		}
		if imp.Status == ImprovementApplied {
			return Improvement{}, nexuserr.Newf(nexuserr.KindValidation, "improvement %s already applied", id)
		}
		if imp.Status != ImprovementApproved {
			return Improvement{}, nexuserr.Newf(nexuserr.KindValidation, "improvement %s is %s, not approved", id, imp.Status)
		}
		imp.Status = ImprovementApplied
		t := s.now().UTC()
		imp.AppliedAt = &t
		if err := s.save(f); err != nil {
			return Improvement{}, err
		}
		return *imp, nil
	}
	return Improvement{}, nexuserr.Newf(nexuserr.KindNotFound, "improvement %s not found", id)
}

// ApprovedUnapplied returns approved candidates not yet applied, best first.
func (s *ImprovementStore) ApprovedUnapplied() []Improvement {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Improvement
	for _, imp := range s.load().Improvements {
		if imp.Status == ImprovementApproved {
			out = append(out, imp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SourceScore > out[j].SourceScore })
	return out
}

// Stats summarizes candidate counts by status.
func (s *ImprovementStore) Stats() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	byStatus := map[string]int{}
	f := s.load()
	for _, imp := range f.Improvements {
		byStatus[imp.Status]++
	}
	return map[string]any{
		"total":      len(f.Improvements),
		"by_status":  byStatus,
		"updated_at": f.UpdatedAt,
	}
}
