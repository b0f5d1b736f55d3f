package dbrecovery

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/randalmurphal/dbrecovery/pkg/dbrecovery/statestore"
)

// journal records stage calls across fakes in order.
type journal struct {
	mu    sync.Mutex
	calls []string
}

func (j *journal) add(name string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls = append(j.calls, name)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.calls...)
}

type fakeChecker struct {
	j      *journal
	report IntegrityReport
	err    error
}

func (f *fakeChecker) Check(context.Context, string) (IntegrityReport, error) {
	f.j.add("check")
	return f.report, f.err
}

type fakeRebuilder struct {
	j   *journal
	err error
}

func (f *fakeRebuilder) Rebuild(context.Context, string) error {
	f.j.add("rebuild")
	return f.err
}

type fakeDumper struct {
	j     *journal
	err   error
	run   func(ctx context.Context)
	units int64
}

func (f *fakeDumper) Run(ctx context.Context, _ string, progress *Progress) error {
	f.j.add("dump")
	if f.run != nil {
		f.run(ctx)
	}
	if f.units > 0 {
		progress.SetTotal(f.units)
		for i := int64(0); i < f.units; i++ {
			progress.Add(1)
		}
	}
	return f.err
}

type fakeRecreator struct {
	j   *journal
	err error
}

func (f *fakeRecreator) Run(_ context.Context, progress *Progress) error {
	f.j.add("recreate")
	if f.err != nil {
		return f.err
	}
	progress.Complete()
	return nil
}

// setupRecorder returns a SetupFunc that records its call and returns payload.
func setupRecorder(j *journal, payload string, err error) SetupFunc[string] {
	return func(context.Context) (string, error) {
		j.add("setup")
		if err != nil {
			return "", err
		}
		return payload, nil
	}
}

// fixture bundles the fakes for one orchestrator test.
type fixture struct {
	j         *journal
	store     *statestore.MemoryStore
	checker   *fakeChecker
	rebuilder *fakeRebuilder
	dumper    *fakeDumper
	recreator *fakeRecreator
}

func newFixture(status statestore.Status, integrity IntegrityResult) *fixture {
	j := &journal{}
	return &fixture{
		j:         j,
		store:     statestore.NewMemoryStore(statestore.Record{Status: status, Count: 1}),
		checker:   &fakeChecker{j: j, report: IntegrityReport{Result: integrity}},
		rebuilder: &fakeRebuilder{j: j},
		dumper:    &fakeDumper{j: j},
		recreator: &fakeRecreator{j: j},
	}
}

func (f *fixture) stages() Stages {
	return Stages{
		Checker:   f.checker,
		Rebuilder: f.rebuilder,
		Dumper:    f.dumper,
		Recreator: f.recreator,
	}
}

func (f *fixture) orchestrator(setup SetupFunc[string], opts ...Option) *Orchestrator[string] {
	opts = append([]Option{WithLogger(nil)}, opts...)
	return NewOrchestrator("/data/app.db", f.store, f.stages(), setup, opts...)
}

// selectiveStore fails writes of one status.
type selectiveStore struct {
	*statestore.MemoryStore
	failOn statestore.Status
	err    error
}

func (s *selectiveStore) Write(rec statestore.Record) error {
	if rec.Status == s.failOn {
		return s.err
	}
	return s.MemoryStore.Write(rec)
}

// unreadableStore fails every read.
type unreadableStore struct {
	statestore.MemoryStore
}

func (*unreadableStore) Read() (statestore.Record, error) {
	return statestore.Record{}, errors.New("permission denied")
}

// fakeLocker records lock calls and optionally reports contention.
type fakeLocker struct {
	held    bool
	locks   int
	unlocks int
}

func (l *fakeLocker) Lock() error {
	if l.held {
		return fmt.Errorf("lock /data/app.db: %w", ErrLocked)
	}
	l.locks++
	return nil
}

func (l *fakeLocker) Unlock() error {
	l.unlocks++
	return nil
}

// eventLog collects published events.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) sink() Sink {
	return SinkFunc(func(ev Event) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.events = append(l.events, ev)
	})
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

// memRow is one row of a memTable; err makes Values fail for it.
type memRow struct {
	values []any
	err    error
}

// memTable is a table in a memBackend source.
type memTable struct {
	columns []string
	rows    []memRow
	// rowsErr makes Rows fail.
	rowsErr error
	// pageErrAt ends iteration with pageErr after that many rows.
	pageErrAt int
	pageErr   error
}

// memBackend is an in-memory Backend.
type memBackend struct {
	openErr   error
	tablesErr error
	createErr error
	order     []string
	tables    map[string]*memTable

	// insertErr is consulted for every insert.
	insertErr  func(table string, values []any) error
	commitErr  error
	installErr error

	target *memTarget
}

func newMemBackend() *memBackend {
	return &memBackend{tables: make(map[string]*memTable)}
}

func (b *memBackend) addTable(name string, t *memTable) {
	b.order = append(b.order, name)
	b.tables[name] = t
}

func (b *memBackend) OpenSource(context.Context, string) (Source, error) {
	if b.openErr != nil {
		return nil, b.openErr
	}
	return &memSource{b: b}, nil
}

func (b *memBackend) CreateTarget(context.Context, string, Source) (Target, error) {
	if b.createErr != nil {
		return nil, b.createErr
	}
	b.target = &memTarget{b: b, rows: make(map[string][][]any)}
	return b.target, nil
}

type memSource struct {
	b      *memBackend
	closed bool
}

func (s *memSource) Tables(context.Context) ([]string, error) {
	if s.b.tablesErr != nil {
		return nil, s.b.tablesErr
	}
	return append([]string(nil), s.b.order...), nil
}

func (s *memSource) Rows(_ context.Context, table string) (RowIterator, error) {
	t := s.b.tables[table]
	if t.rowsErr != nil {
		return nil, t.rowsErr
	}
	return &memIterator{t: t, pos: -1}, nil
}

func (s *memSource) Close() error {
	s.closed = true
	return nil
}

type memIterator struct {
	t   *memTable
	pos int
	err error
}

func (it *memIterator) Columns() []string { return it.t.columns }

func (it *memIterator) Next() bool {
	if it.err != nil {
		return false
	}
	it.pos++
	if it.t.pageErr != nil && it.pos == it.t.pageErrAt {
		it.err = it.t.pageErr
		return false
	}
	return it.pos < len(it.t.rows)
}

func (it *memIterator) Values() ([]any, error) {
	row := it.t.rows[it.pos]
	return row.values, row.err
}

func (it *memIterator) Err() error   { return it.err }
func (it *memIterator) Close() error { return nil }

type memTarget struct {
	b         *memBackend
	rows      map[string][][]any
	installed bool
	discarded bool
}

func (t *memTarget) OpenTable(_ context.Context, table string, _ []string) (TableWriter, error) {
	return &memWriter{t: t, table: table}, nil
}

func (t *memTarget) Install(context.Context) error {
	if t.b.installErr != nil {
		return t.b.installErr
	}
	t.installed = true
	return nil
}

func (t *memTarget) Discard() error {
	if !t.installed {
		t.discarded = true
	}
	return nil
}

type memWriter struct {
	t       *memTarget
	table   string
	pending [][]any
}

func (w *memWriter) Insert(values []any) error {
	if w.t.b.insertErr != nil {
		if err := w.t.b.insertErr(w.table, values); err != nil {
			return err
		}
	}
	w.pending = append(w.pending, values)
	return nil
}

func (w *memWriter) Commit() error {
	if w.t.b.commitErr != nil {
		return w.t.b.commitErr
	}
	w.t.rows[w.table] = append(w.t.rows[w.table], w.pending...)
	w.pending = nil
	return nil
}

func (w *memWriter) Rollback() error {
	w.pending = nil
	return nil
}

// rows builds n clean rows of one integer column.
func rows(n int) []memRow {
	out := make([]memRow, n)
	for i := range out {
		out[i] = memRow{values: []any{int64(i)}}
	}
	return out
}
