package vm

import (
	"errors"
	"fmt"
	"sort"

	"github.com/chazu/listvm/pkg/reference"
)

// ---------------------------------------------------------------------------
// Collaborators
// ---------------------------------------------------------------------------

// Continuation is a rendered item: the compiled subtree instance for one key
// of one loop site. The VM creates, updates and tears these down but never
// looks inside.
type Continuation interface {
	Update(memo, value reference.Reference) error
	Teardown() error
}

// ContinuationFactory materializes the continuation for a key seen for the
// first time at a loop site.
type ContinuationFactory interface {
	Create(site Site, key string, memo, value reference.Reference) (Continuation, error)
}

// FactoryFunc adapts a function to ContinuationFactory.
type FactoryFunc func(site Site, key string, memo, value reference.Reference) (Continuation, error)

func (f FactoryFunc) Create(site Site, key string, memo, value reference.Reference) (Continuation, error) {
	return f(site, key, memo, value)
}

// Observer receives reconciliation events as they are issued.
type Observer interface {
	OnCreate(site Site, key string)
	OnUpdate(site Site, key string)
	OnTeardown(site Site, key string)
	OnReconcile(site Site, stats ReconcileStats)
}

type nopObserver struct{}

func (nopObserver) OnCreate(Site, string)            {}
func (nopObserver) OnUpdate(Site, string)            {}
func (nopObserver) OnTeardown(Site, string)          {}
func (nopObserver) OnReconcile(Site, ReconcileStats) {}

// Site identifies a loop site: the absolute offset of its body within the
// region it was entered from.
type Site struct {
	Start int    // absolute offset of the loop body
	Path  string // enclosing items, "" for the root region
}

func (s Site) String() string {
	if s.Path == "" {
		return fmt.Sprintf("L%04X", s.Start)
	}
	return fmt.Sprintf("%s/L%04X", s.Path, s.Start)
}

// ReconcileStats summarizes one closed pass over a loop site.
type ReconcileStats struct {
	Created   int
	Updated   int
	Moved     int
	TornDown  int
	Keys      []string // keys retained, in iteration order
	MovedKeys []string // retained keys whose relative order changed
}

// DuplicatePolicy decides what happens when a key repeats within one pass.
type DuplicatePolicy int

const (
	// DuplicateAbort fails the pass with a *DuplicateKeyError.
	DuplicateAbort DuplicatePolicy = iota
	// DuplicateLastWriteWins updates the first occurrence in place and keeps
	// its position.
	DuplicateLastWriteWins
)

func (p DuplicatePolicy) String() string {
	switch p {
	case DuplicateAbort:
		return "abort"
	case DuplicateLastWriteWins:
		return "last-write-wins"
	default:
		return fmt.Sprintf("DuplicatePolicy(%d)", int(p))
	}
}

// ParseDuplicatePolicy maps a configuration string to a policy. The empty
// string selects DuplicateAbort.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch s {
	case "", "abort":
		return DuplicateAbort, nil
	case "last-write-wins":
		return DuplicateLastWriteWins, nil
	}
	return 0, fmt.Errorf("unknown duplicate key policy %q", s)
}

// env is what list scopes need from their VM.
type env struct {
	factory  ContinuationFactory
	observer Observer
	policy   DuplicatePolicy
}

// ---------------------------------------------------------------------------
// Regions
// ---------------------------------------------------------------------------

// Region owns the loop sites entered from one render context: the VM's
// root, or the body of one item.
type Region struct {
	env     *env
	path    string
	scopes  map[int]*ListScope
	order   []int // scope starts in creation order
	visited map[int]bool
}

func newRegion(e *env, path string) *Region {
	return &Region{
		env:     e,
		path:    path,
		scopes:  make(map[int]*ListScope),
		visited: make(map[int]bool),
	}
}

// beginPass forgets which loop sites were entered.
func (r *Region) beginPass() {
	clear(r.visited)
}

// scope returns the list scope for the loop starting at start, creating it
// on first use, and marks the site visited.
func (r *Region) scope(start int) *ListScope {
	r.visited[start] = true
	if s, ok := r.scopes[start]; ok {
		return s
	}
	s := newListScope(r, Site{Start: start, Path: r.path})
	r.scopes[start] = s
	r.order = append(r.order, start)
	return s
}

func (r *Region) remove(start int) {
	if _, ok := r.scopes[start]; !ok {
		return
	}
	delete(r.scopes, start)
	delete(r.visited, start)
	for i, s := range r.order {
		if s == start {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// sweep destroys loop sites that were not entered since beginPass.
func (r *Region) sweep() error {
	var errs []error
	for _, start := range append([]int(nil), r.order...) {
		if r.visited[start] {
			continue
		}
		log.Debugf("%s: loop site not rendered, destroying", r.scopes[start].site)
		errs = append(errs, r.scopes[start].destroy())
	}
	return errors.Join(errs...)
}

// destroy destroys every loop site in the region, most recent first.
func (r *Region) destroy() error {
	var errs []error
	for i := len(r.order) - 1; i >= 0; i-- {
		errs = append(errs, r.scopes[r.order[i]].destroy())
	}
	return errors.Join(errs...)
}

// Sites returns the loop sites currently held by the region.
func (r *Region) Sites() []Site {
	sites := make([]Site, 0, len(r.order))
	for _, start := range r.order {
		sites = append(sites, r.scopes[start].site)
	}
	return sites
}

// ---------------------------------------------------------------------------
// List scopes
// ---------------------------------------------------------------------------

// ItemRecord is the state kept for one key of a loop site.
type ItemRecord struct {
	Key    string
	Memo   reference.Reference
	Value  reference.Reference
	cont   Continuation
	region *Region
}

// Region returns the region owning loops nested in the item's body.
func (r *ItemRecord) Region() *Region { return r.region }

// ListScope is the reconciliation memory of one loop site. prev holds the
// keys committed by the last completed pass; curr and touched collect the
// keys of the pass in progress.
type ListScope struct {
	site    Site
	region  *Region
	items   map[string]*ItemRecord
	prev    []string
	prevPos map[string]int
	curr    []string
	touched map[string]bool
	current *ItemRecord
	open    bool
	stats   ReconcileStats
}

func newListScope(r *Region, site Site) *ListScope {
	return &ListScope{
		site:    site,
		region:  r,
		items:   make(map[string]*ItemRecord),
		prevPos: make(map[string]int),
		touched: make(map[string]bool),
	}
}

// Site returns the loop site the scope reconciles.
func (s *ListScope) Site() Site { return s.site }

// Keys returns the committed keys in the order of the last completed pass.
func (s *ListScope) Keys() []string { return append([]string(nil), s.prev...) }

// Item returns the record for a committed or touched key.
func (s *ListScope) Item(key string) (*ItemRecord, bool) {
	rec, ok := s.items[key]
	return rec, ok
}

func (s *ListScope) begin() error {
	if s.open {
		return fmt.Errorf("%w: %s", ErrScopeReentered, s.site)
	}
	s.open = true
	s.curr = s.curr[:0]
	clear(s.touched)
	s.current = nil
	s.stats = ReconcileStats{}
	return nil
}

// EnterItem materializes the continuation for item: created on first sight
// of its key, updated in place when the key was committed before.
func (s *ListScope) EnterItem(item reference.IterationItem) (Continuation, error) {
	if s.touched[item.Key] {
		return s.duplicate(item)
	}
	e := s.region.env
	if rec, ok := s.items[item.Key]; ok {
		if err := rec.cont.Update(item.Memo, item.Value); err != nil {
			return nil, fmt.Errorf("%s: update %q: %w", s.site, item.Key, err)
		}
		rec.Memo, rec.Value = item.Memo, item.Value
		s.stats.Updated++
		e.observer.OnUpdate(s.site, item.Key)
		return rec.cont, nil
	}
	c, err := e.factory.Create(s.site, item.Key, item.Memo, item.Value)
	if err != nil {
		return nil, fmt.Errorf("%s: create %q: %w", s.site, item.Key, err)
	}
	s.items[item.Key] = &ItemRecord{
		Key:    item.Key,
		Memo:   item.Memo,
		Value:  item.Value,
		cont:   c,
		region: newRegion(e, fmt.Sprintf("%s[%s]", s.site, item.Key)),
	}
	s.stats.Created++
	e.observer.OnCreate(s.site, item.Key)
	return c, nil
}

func (s *ListScope) duplicate(item reference.IterationItem) (Continuation, error) {
	e := s.region.env
	if e.policy != DuplicateLastWriteWins {
		return nil, &DuplicateKeyError{Site: s.site, Key: item.Key}
	}
	log.Warningf("%s: duplicate key %q, updating first occurrence", s.site, item.Key)
	rec := s.items[item.Key]
	// The first occurrence keeps its position, so its memo stays.
	if err := rec.cont.Update(rec.Memo, item.Value); err != nil {
		return nil, fmt.Errorf("%s: update %q: %w", s.site, item.Key, err)
	}
	rec.Value = item.Value
	s.stats.Updated++
	e.observer.OnUpdate(s.site, item.Key)
	return rec.cont, nil
}

// RegisterItem marks key as touched by the pass in progress and binds it to
// c, replacing whatever the key was bound to before.
func (s *ListScope) RegisterItem(key string, c Continuation) {
	rec := s.items[key]
	if rec == nil {
		rec = &ItemRecord{Key: key, region: newRegion(s.region.env, fmt.Sprintf("%s[%s]", s.site, key))}
		s.items[key] = rec
	}
	rec.cont = c
	if !s.touched[key] {
		s.touched[key] = true
		s.curr = append(s.curr, key)
	}
	s.current = rec
	rec.region.beginPass()
}

// finishItem ends the body of the current item, destroying loop sites its
// body did not reach this time.
func (s *ListScope) finishItem() error {
	rec := s.current
	s.current = nil
	if rec == nil {
		return nil
	}
	return rec.region.sweep()
}

// currentRegion is where loops nested at this point of the body live.
func (s *ListScope) currentRegion() *Region {
	if s.current != nil {
		return s.current.region
	}
	return s.region
}

// close reconciles the pass: keys committed before but not touched now are
// torn down in their committed order, and the touched keys become the
// committed set.
func (s *ListScope) close() (ReconcileStats, error) {
	var errs []error
	errs = append(errs, s.finishItem())

	for _, key := range s.prev {
		if s.touched[key] {
			continue
		}
		errs = append(errs, s.teardown(key))
		s.stats.TornDown++
	}

	s.stats.MovedKeys = s.movedKeys()
	s.stats.Moved = len(s.stats.MovedKeys)
	s.stats.Keys = append([]string(nil), s.curr...)

	s.prev = append(s.prev[:0], s.curr...)
	clear(s.prevPos)
	for i, key := range s.prev {
		s.prevPos[key] = i
	}
	s.curr = s.curr[:0]
	clear(s.touched)
	s.open = false

	stats := s.stats
	s.region.env.observer.OnReconcile(s.site, stats)
	log.Debugf("%s: reconciled %d keys (+%d ~%d >%d -%d)",
		s.site, len(stats.Keys), stats.Created, stats.Updated, stats.Moved, stats.TornDown)
	return stats, errors.Join(errs...)
}

// movedKeys returns the reused keys that fall outside the longest run
// preserving their committed relative order.
func (s *ListScope) movedKeys() []string {
	var reused []string
	var positions []int
	for _, key := range s.curr {
		if p, ok := s.prevPos[key]; ok {
			reused = append(reused, key)
			positions = append(positions, p)
		}
	}
	if len(reused) < 2 {
		return nil
	}
	keep := longestIncreasing(positions)
	var moved []string
	for i, key := range reused {
		if !keep[i] {
			moved = append(moved, key)
		}
	}
	return moved
}

// longestIncreasing marks the members of one longest strictly increasing
// subsequence of seq.
func longestIncreasing(seq []int) []bool {
	tails := make([]int, 0, len(seq)) // indexes into seq
	parent := make([]int, len(seq))
	for i, x := range seq {
		j := sort.Search(len(tails), func(k int) bool { return seq[tails[k]] >= x })
		if j > 0 {
			parent[i] = tails[j-1]
		} else {
			parent[i] = -1
		}
		if j == len(tails) {
			tails = append(tails, i)
		} else {
			tails[j] = i
		}
	}
	keep := make([]bool, len(seq))
	if len(tails) == 0 {
		return keep
	}
	for i := tails[len(tails)-1]; i >= 0; i = parent[i] {
		keep[i] = true
	}
	return keep
}

// destroy tears down every continuation the scope holds and detaches it
// from its region. Keys touched by an unfinished pass go first, most recent
// first, then committed keys the pass had not reached, in committed order.
func (s *ListScope) destroy() error {
	var errs []error
	for i := len(s.curr) - 1; i >= 0; i-- {
		errs = append(errs, s.teardown(s.curr[i]))
	}
	for _, key := range s.prev {
		if !s.touched[key] {
			errs = append(errs, s.teardown(key))
		}
	}
	s.prev, s.curr = nil, nil
	clear(s.prevPos)
	clear(s.touched)
	s.current = nil
	s.open = false
	s.region.remove(s.site.Start)
	return errors.Join(errs...)
}

// teardown releases one key: loops nested in its body first, then the
// continuation itself.
func (s *ListScope) teardown(key string) error {
	rec, ok := s.items[key]
	if !ok {
		return nil
	}
	delete(s.items, key)
	var errs []error
	errs = append(errs, rec.region.destroy())
	if rec.cont != nil {
		if err := rec.cont.Teardown(); err != nil {
			errs = append(errs, fmt.Errorf("%s: teardown %q: %w", s.site, key, err))
		}
	}
	s.region.env.observer.OnTeardown(s.site, key)
	return errors.Join(errs...)
}
