package attendance

import (
	"sort"
	"sync"

	"github.com/warp/attendance-engine/generic"
)

// keyedMutex hands out one mutex per key. Multi-key acquisition always
// goes in sorted order so overlapping batches can't deadlock.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock acquires every key and returns the function releasing them.
func (k *keyedMutex) Lock(keys ...string) (unlock func()) {
	sorted := uniqueSorted(keys)

	held := make([]*refMutex, 0, len(sorted))
	for _, key := range sorted {
		k.mu.Lock()
		m, ok := k.locks[key]
		if !ok {
			m = &refMutex{}
			k.locks[key] = m
		}
		m.refs++
		k.mu.Unlock()

		m.Lock()
		held = append(held, m)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
		k.mu.Lock()
		for i, key := range sorted {
			held[i].refs--
			if held[i].refs == 0 {
				delete(k.locks, key)
			}
		}
		k.mu.Unlock()
	}
}

func uniqueSorted(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if !seen[key] {
			seen[key] = true
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

// dayKey scopes a lock to one employee's work date, across revisions.
func dayKey(employeeID EmployeeID, date generic.Date) string {
	return "day|" + string(employeeID) + "|" + date.String()
}

func eventKey(employeeID EmployeeID) string {
	return "events|" + string(employeeID)
}
