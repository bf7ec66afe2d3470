// Package bandit picks meta-policy values by Thompson sampling. Each family
// holds a few candidate values as Beta-distributed arms; win/loss verdicts
// from verified experiments shift the posteriors.
package bandit

import (
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/theanh97/nexus-nuance-sub001/internal/storage"
)

// Family names.
const (
	FamilyApproveThreshold = "approve_threshold"
	FamilyScanMinScore     = "scan_min_score"
	FamilyFocusPolicy      = "focus_policy"
)

// Focus policy arm values.
const (
	FocusReliability = "reliability_first"
	FocusExecution   = "execution_first"
	FocusLearning    = "learning_first"
)

// Arm is one candidate value with its Beta posterior.
type Arm struct {
	Name string  `json:"name"`
	A    float64 `json:"a"`
	B    float64 `json:"b"`
}

// Mean returns the posterior mean a/(a+b).
func (a Arm) Mean() float64 { return a.A / (a.A + a.B) }

// Family is a named set of mutually exclusive arms.
type Family struct {
	Name string `json:"name"`
	Arms []Arm  `json:"arms"`
}

// Selection is one sampled choice per family.
type Selection struct {
	Choices    map[string]string `json:"choices"`
	SelectedAt time.Time         `json:"selected_at"`
}

// Float parses the chosen arm of a numeric family.
func (s Selection) Float(family string) (float64, bool) {
	name, ok := s.Choices[family]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(name, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// UpdateRecord is one reward application kept in history.
type UpdateRecord struct {
	At       time.Time         `json:"at"`
	Verdict  string            `json:"verdict"`
	Reward   float64           `json:"reward"`
	Weight   float64           `json:"weight"`
	Choices  map[string]string `json:"choices"`
	Metadata map[string]any    `json:"metadata,omitempty"`
}

type state struct {
	Families      []Family       `json:"families"`
	History       []UpdateRecord `json:"history"`
	LastSelection *Selection     `json:"last_selection,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Options bound reward weights and history.
type Options struct {
	HistoryMax int
	WeightMin  float64
	WeightMax  float64
	Seed       uint64
}

// DefaultOptions mirror the shipped configuration.
func DefaultOptions() Options {
	return Options{HistoryMax: 1000, WeightMin: 0.1, WeightMax: 4.0}
}

// DefaultFamilies returns the three canonical families with uniform priors.
func DefaultFamilies() []Family {
	return []Family{
		{Name: FamilyApproveThreshold, Arms: uniformArms("0.78", "0.82", "0.86")},
		{Name: FamilyScanMinScore, Arms: uniformArms("5.8", "6.0", "6.2")},
		{Name: FamilyFocusPolicy, Arms: uniformArms(FocusReliability, FocusExecution, FocusLearning)},
	}
}

func uniformArms(names ...string) []Arm {
	arms := make([]Arm, len(names))
	for i, n := range names {
		arms[i] = Arm{Name: n, A: 1, B: 1}
	}
	return arms
}

// Bandit owns the posteriors and persists them through the policy state
// file. Safe for concurrent use.
type Bandit struct {
	mu    sync.Mutex
	store *storage.Store
	opts  Options
	st    state
	src   rand.Source
	log   *zap.Logger
	now   func() time.Time
}

// New restores persisted state or starts from the default families.
func New(store *storage.Store, opts Options, log *zap.Logger) (*Bandit, error) {
	if log == nil {
		log = zap.NewNop()
	}
	def := DefaultOptions()
	if opts.HistoryMax <= 0 {
		opts.HistoryMax = def.HistoryMax
	}
	if opts.WeightMin <= 0 {
		opts.WeightMin = def.WeightMin
	}
	if opts.WeightMax <= 0 {
		opts.WeightMax = def.WeightMax
	}
	seed := opts.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	b := &Bandit{
		store: store,
		opts:  opts,
		src:   rand.NewSource(seed),
		log:   log,
		now:   time.Now,
	}
	var st state
	found, err := store.LoadPolicyState(&st)
	if err != nil {
		return nil, err
	}
	if !found || len(st.Families) == 0 {
		st.Families = DefaultFamilies()
	}
	b.st = st
	return b, nil
}

// SelectPolicy samples every family and persists the selection.
func (b *Bandit) SelectPolicy() (Selection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	choices := make(map[string]string, len(b.st.Families))
	for _, fam := range b.st.Families {
		bestName := ""
		bestSample := -1.0
		for _, arm := range fam.Arms {
			d := distuv.Beta{Alpha: arm.A, Beta: arm.B, Src: b.src}
			if x := d.Rand(); x > bestSample {
				bestSample = x
				bestName = arm.Name
			}
		}
		choices[fam.Name] = bestName
	}

	sel := Selection{Choices: choices, SelectedAt: b.now().UTC()}
	b.st.LastSelection = &sel
	if err := b.persist(); err != nil {
		return Selection{}, err
	}
	b.log.Debug("policy selected", zap.Any("choices", choices))
	return sel, nil
}

// Update applies one verdict to the arms the selection chose. Inconclusive
// verdicts change nothing.
func (b *Bandit) Update(verdict string, selected Selection, weight float64, metadata map[string]any) error {
	if verdict == storage.VerdictInconclusive || len(selected.Choices) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	reward := 0.0
	if verdict == storage.VerdictWin {
		reward = 1
	}
	w := weight
	if w < b.opts.WeightMin {
		w = b.opts.WeightMin
	}
	if w > b.opts.WeightMax {
		w = b.opts.WeightMax
	}

	for fi := range b.st.Families {
		fam := &b.st.Families[fi]
		chosen, ok := selected.Choices[fam.Name]
		if !ok {
			continue
		}
		for ai := range fam.Arms {
			if fam.Arms[ai].Name != chosen {
				continue
			}
			if reward == 1 {
				fam.Arms[ai].A += w
			} else {
				fam.Arms[ai].B += w
			}
			break
		}
	}

	b.st.History = append(b.st.History, UpdateRecord{
		At:       b.now().UTC(),
		Verdict:  verdict,
		Reward:   reward,
		Weight:   w,
		Choices:  selected.Choices,
		Metadata: metadata,
	})
	if over := len(b.st.History) - b.opts.HistoryMax; over > 0 {
		b.st.History = append([]UpdateRecord(nil), b.st.History[over:]...)
	}
	return b.persist()
}

// ApplyDriftGuard shrinks arms whose posterior drifted too far: total mass
// above maxTotal or mean outside [minMean, maxMean]. Returns the number of
// arms adjusted.
func (b *Bandit) ApplyDriftGuard(maxTotal, minMean, maxMean, shrinkRatio float64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	adjusted := 0
	for fi := range b.st.Families {
		for ai := range b.st.Families[fi].Arms {
			arm := &b.st.Families[fi].Arms[ai]
			total := arm.A + arm.B
			mean := arm.Mean()
			if total <= maxTotal && mean >= minMean && mean <= maxMean {
				continue
			}
			arm.A = 1 + (arm.A-1)*(1-shrinkRatio)
			arm.B = 1 + (arm.B-1)*(1-shrinkRatio)
			adjusted++
			b.log.Info("bandit arm shrunk toward prior",
				zap.String("family", b.st.Families[fi].Name),
				zap.String("arm", arm.Name),
				zap.Float64("a", arm.A),
				zap.Float64("b", arm.B))
		}
	}
	if adjusted == 0 {
		return 0, nil
	}
	return adjusted, b.persist()
}

// LastSelection returns the most recent persisted selection.
func (b *Bandit) LastSelection() (Selection, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.st.LastSelection == nil {
		return Selection{}, false
	}
	return *b.st.LastSelection, true
}

// Families returns a copy of the current posteriors.
func (b *Bandit) Families() []Family {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Family, len(b.st.Families))
	for i, fam := range b.st.Families {
		out[i] = Family{Name: fam.Name, Arms: append([]Arm(nil), fam.Arms...)}
	}
	return out
}

// HistoryLen reports how many updates are retained.
func (b *Bandit) HistoryLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.st.History)
}

// Stats summarizes posteriors for the API surface.
func (b *Bandit) Stats() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	families := map[string]any{}
	for _, fam := range b.st.Families {
		arms := map[string]any{}
		for _, arm := range fam.Arms {
			arms[arm.Name] = map[string]any{"a": arm.A, "b": arm.B, "mean": arm.Mean()}
		}
		families[fam.Name] = arms
	}
	out := map[string]any{
		"families":    families,
		"history_len": len(b.st.History),
	}
	if b.st.LastSelection != nil {
		out["last_selection"] = b.st.LastSelection.Choices
	}
	return out
}

func (b *Bandit) persist() error {
	b.st.UpdatedAt = b.now().UTC()
	return b.store.SavePolicyState(&b.st)
}
