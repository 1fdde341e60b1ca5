// Package registry is the concurrent, name keyed store of scripts.
package registry

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/CZERTAINLY/scriptd/internal/model"
	"github.com/CZERTAINLY/scriptd/internal/script"
)

// Registry maps names to scripts. There is no global lock: inserts, removals
// and lookups of different names never wait for each other.
type Registry struct {
	scripts sync.Map // string -> *script.Script
	count   atomic.Int64
}

func New() *Registry {
	return &Registry{}
}

// Insert adds s unless its name is already taken.
func (r *Registry) Insert(s *script.Script) error {
	if _, loaded := r.scripts.LoadOrStore(s.Name(), s); loaded {
		return fmt.Errorf("%w: %q", model.ErrNameInUse, s.Name())
	}
	r.count.Add(1)
	return nil
}

func (r *Registry) Get(name string) (*script.Script, error) {
	v, ok := r.scripts.Load(name)
	if !ok {
		return nil, fmt.Errorf("%w: script %q", model.ErrNotFound, name)
	}
	return v.(*script.Script), nil
}

// Remove deletes the script and cancels it when it is still queued or
// running.
func (r *Registry) Remove(name string) (*script.Script, error) {
	v, ok := r.scripts.LoadAndDelete(name)
	if !ok {
		return nil, fmt.Errorf("%w: script %q", model.ErrNotFound, name)
	}
	r.count.Add(-1)
	s := v.(*script.Script)
	s.Cancel()
	return s, nil
}

// List returns snapshots of scripts in one of states whose name contains
// substr. Empty states or substr match everything.
func (r *Registry) List(states []model.State, substr string) []script.Info {
	var ret []script.Info
	r.scripts.Range(func(key, value any) bool {
		if !strings.Contains(key.(string), substr) {
			return true
		}
		info := value.(*script.Script).Info()
		if len(states) > 0 && !slices.Contains(states, info.State) {
			return true
		}
		ret = append(ret, info)
		return true
	})
	return ret
}

func (r *Registry) Len() int {
	return int(r.count.Load())
}
