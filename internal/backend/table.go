package backend

import (
	"sort"

	"github.com/born-ml/tessera/internal/neterr"
	"github.com/born-ml/tessera/internal/schema"
)

// Table maps layer type names to unit factories. A table is built once for
// an engine; it is not safe to register while an engine uses it.
type Table struct {
	name      string
	factories map[string]Factory
	fallback  *Table
}

// NewTable returns an empty table.
func NewTable(name string) *Table {
	return &Table{name: name, factories: make(map[string]Factory)}
}

// Name returns the backend name.
func (t *Table) Name() string { return t.name }

// Register binds a factory to a layer type, replacing any previous binding.
func (t *Table) Register(typeName string, f Factory) *Table {
	t.factories[typeName] = f
	return t
}

// WithFallback makes lookups that miss this table consult f.
func (t *Table) WithFallback(f *Table) *Table {
	t.fallback = f
	return t
}

// Fallback returns the fallback table, or nil.
func (t *Table) Fallback() *Table { return t.fallback }

// Lookup finds the factory for typeName. With training set only factories
// that create updaters match.
func (t *Table) Lookup(typeName string, training bool) (Factory, *Table, bool) {
	for cur := t; cur != nil; cur = cur.fallback {
		f, ok := cur.factories[typeName]
		if ok && f.NewTester != nil && (!training || f.NewUpdater != nil) {
			return f, cur, true
		}
	}
	return Factory{}, nil, false
}

// Types lists the registered type names of this table, fallback excluded.
func (t *Table) Types() []string {
	names := make([]string, 0, len(t.factories))
	for name := range t.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check fails with a configuration error naming the first layer whose type
// has no unit.
func (t *Table) Check(s *schema.Schema, training bool) error {
	for _, l := range s.Layers() {
		if _, _, ok := t.Lookup(l.TypeName(), training); !ok {
			what := "tester"
			if training {
				what = "updater"
			}
			return neterr.Configf(l.Name(), "no %s registered for layer type %s in backend %s", what, l.TypeName(), t.name)
		}
	}
	return nil
}

// Tester creates the forward unit for spec.
func (t *Table) Tester(spec Spec) (Tester, error) {
	f, _, ok := t.Lookup(spec.Layer.TypeName(), false)
	if !ok {
		return nil, neterr.Configf(spec.Layer.Name(), "no tester registered for layer type %s in backend %s", spec.Layer.TypeName(), t.name)
	}
	u, err := f.NewTester(spec)
	if err != nil {
		return nil, neterr.WithLayer(err, spec.Layer.Name())
	}
	return u, nil
}

// Updater creates the training unit for spec.
func (t *Table) Updater(spec Spec) (Updater, error) {
	f, _, ok := t.Lookup(spec.Layer.TypeName(), true)
	if !ok {
		return nil, neterr.Configf(spec.Layer.Name(), "no updater registered for layer type %s in backend %s", spec.Layer.TypeName(), t.name)
	}
	u, err := f.NewUpdater(spec)
	if err != nil {
		return nil, neterr.WithLayer(err, spec.Layer.Name())
	}
	return u, nil
}
