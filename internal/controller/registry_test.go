package controller

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopSender struct{}

func (noopSender) Send(data []byte) error { return nil }
func (noopSender) Close() error           { return nil }

func TestRegistryAddAndLookup(t *testing.T) {
	binding := NewBindingTable(nil)
	r := NewRegistry(binding, nil)

	w, _ := r.Add(context.Background(), "10.0.0.1:1234", noopSender{})
	require.NotEqual(t, w.ID.String(), "")

	found, ok := r.Lookup(w.ID)
	require.True(t, ok)
	assert.Equal(t, w.ID, found.ID)
	assert.True(t, found.Healthy())
	assert.Equal(t, 1, r.Count())
	assert.Equal(t, 1, r.HealthyCount())
}

func TestRegistryRemoveCascadesToBindingTable(t *testing.T) {
	binding := NewBindingTable(nil)
	r := NewRegistry(binding, nil)

	w, _ := r.Add(context.Background(), "10.0.0.1:1234", noopSender{})
	binding.Bind("/resource/a", w.ID)
	binding.Bind("/resource/b", w.ID)

	require.True(t, r.Remove(w.ID, "test"))
	_, ok := r.Lookup(w.ID)
	assert.False(t, ok)

	_, ok = binding.Owner("/resource/a")
	assert.False(t, ok)
	_, ok = binding.Owner("/resource/b")
	assert.False(t, ok)
}

func TestRegistrySetHealthy(t *testing.T) {
	binding := NewBindingTable(nil)
	r := NewRegistry(binding, nil)
	w, _ := r.Add(context.Background(), "addr", noopSender{})

	r.SetHealthy(w.ID, false)
	assert.False(t, w.Healthy())
	assert.Equal(t, 0, r.HealthyCount())

	r.SetHealthy(w.ID, true)
	assert.True(t, w.Healthy())
}

func TestRegistryRemoveUnknownReturnsFalse(t *testing.T) {
	r := NewRegistry(nil, nil)
	assert.False(t, r.Remove(uuid.Nil, "test"))
}
