package domain

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWhitelist_OptimisticDefault(t *testing.T) {
	w := NewWhitelist([]TaskKey{"GET/cart", "GET/home", "GET/cart"}, ServerSet{"A", "B"})

	require.Equal(t, 2, w.Len(), "duplicate keys must collapse to one entry")
	want := map[TaskKey][]ServerID{
		"GET/cart": {"A", "B"},
		"GET/home": {"A", "B"},
	}
	if diff := cmp.Diff(want, w.Entries()); diff != "" {
		t.Fatalf("unexpected entries (-want +got):\n%s", diff)
	}
}

func TestWhitelist_AddRemoveReportChanges(t *testing.T) {
	w := NewWhitelist([]TaskKey{"GET/cart"}, ServerSet{"A", "B"})

	assert.True(t, w.Remove("GET/cart", "A"))
	assert.False(t, w.Remove("GET/cart", "A"), "second remove is a no-op")
	assert.False(t, w.Contains("GET/cart", "A"))
	assert.Equal(t, []ServerID{"B"}, w.Admissible("GET/cart"))

	assert.True(t, w.Add("GET/cart", "A"))
	assert.False(t, w.Add("GET/cart", "A"))
	assert.Equal(t, []ServerID{"A", "B"}, w.Admissible("GET/cart"), "configured order is kept")
}

func TestWhitelist_UnknownKeyOrServerIsIgnored(t *testing.T) {
	w := NewWhitelist([]TaskKey{"GET/cart"}, ServerSet{"A"})

	assert.False(t, w.Add("GET/other", "A"))
	assert.False(t, w.Remove("GET/cart", "Z"))
	assert.Equal(t, 1, w.Len())
	assert.Nil(t, w.Admissible("GET/other"))
}

func TestWhitelist_EntriesNeverDeleted(t *testing.T) {
	w := NewWhitelist([]TaskKey{"GET/cart"}, ServerSet{"A", "B"})
	w.Remove("GET/cart", "A")
	w.Remove("GET/cart", "B")

	entries := w.Entries()
	require.Contains(t, entries, TaskKey("GET/cart"))
	assert.Empty(t, entries["GET/cart"])
}

func TestWhitelist_CloneIsIndependent(t *testing.T) {
	w := NewWhitelist([]TaskKey{"GET/cart"}, ServerSet{"A"})
	c := w.Clone()
	w.Remove("GET/cart", "A")

	assert.True(t, c.Contains("GET/cart", "A"))
	assert.False(t, w.Contains("GET/cart", "A"))
}
