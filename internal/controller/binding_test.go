package controller

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestBindingTableBindAndOwner(t *testing.T) {
	bt := NewBindingTable(nil)
	id := uuid.New()

	_, ok := bt.Owner("/a")
	assert.False(t, ok)

	bt.Bind("/a", id)
	owner, ok := bt.Owner("/a")
	assert.True(t, ok)
	assert.Equal(t, id, owner)
}

func TestBindingTableEvictWorkerFreesOnlyItsKeys(t *testing.T) {
	bt := NewBindingTable(nil)
	a, b := uuid.New(), uuid.New()

	bt.Bind("/x", a)
	bt.Bind("/y", a)
	bt.Bind("/z", b)

	freed := bt.evictWorker(a)
	assert.ElementsMatch(t, []string{"/x", "/y"}, freed)

	_, ok := bt.Owner("/x")
	assert.False(t, ok)
	owner, ok := bt.Owner("/z")
	assert.True(t, ok)
	assert.Equal(t, b, owner)
}

func TestBindingTableEvictKey(t *testing.T) {
	bt := NewBindingTable(nil)
	id := uuid.New()
	bt.Bind("/a", id)
	bt.EvictKey("/a")
	_, ok := bt.Owner("/a")
	assert.False(t, ok)
}

func TestBindingTableSnapshotGroupsByOwner(t *testing.T) {
	bt := NewBindingTable(nil)
	a := uuid.New()
	bt.Bind("/x", a)
	bt.Bind("/y", a)

	snap := bt.Snapshot()
	assert.ElementsMatch(t, []string{"/x", "/y"}, snap[a])
}
