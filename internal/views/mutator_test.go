package views

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/clinic-console/internal/apierr"
	"github.com/wolfman30/clinic-console/internal/backend"
	"github.com/wolfman30/clinic-console/internal/querycache"
	"github.com/wolfman30/clinic-console/pkg/logging"
)

func activeByID(d querycache.Display[record]) map[string]bool {
	out := make(map[string]bool)
	if d.Result == nil {
		return out
	}
	for _, item := range d.Result.Items {
		out[item.ID] = item.IsActive
	}
	return out
}

func loadedRegistry(t *testing.T, be *stubBackend, sessions ...string) *Registry[record] {
	t.Helper()
	r := newTestRegistry(t, be.fetch, nil, nil)
	for _, s := range sessions {
		r.Get(context.Background(), s).DisplayData()
	}
	waitAll(t, r)
	return r
}

func TestMutator_DeletePatchesEverySession(t *testing.T) {
	be := newStubBackend()
	be.set(allKey, 47, records("a", 10)...)
	r := loadedRegistry(t, be, "s1", "s2")
	client := &stubMutations{}
	m := NewMutator(client, r, recordPatches, logging.Discard())

	release := be.block()
	done, err := m.Delete(context.Background(), []string{"a1", "a2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2"}, done)

	r.Each(func(c *querycache.Cache[record]) {
		d := c.DisplayData()
		assert.Equal(t, querycache.StateRefreshing, d.State)
		active := activeByID(d)
		assert.False(t, active["a1"])
		assert.False(t, active["a2"])
		assert.True(t, active["a3"])
		assert.Equal(t, 47, d.Result.Total)
	})
	release()
	waitAll(t, r)

	require.Len(t, client.mutations(), 2)
	assert.Equal(t, backend.OpDelete, client.mutations()[0].Op)
	assert.Equal(t, "appointments", client.mutations()[0].Entity)
	assert.Equal(t, 4, be.callCount(allKey), "each session refetched after the write")
}

func TestMutator_PartialFailurePatchesOnlyAccepted(t *testing.T) {
	be := newStubBackend()
	be.set(allKey, 10, records("a", 10)...)
	r := loadedRegistry(t, be, "s1")
	client := &stubMutations{fail: map[string]error{"a2": errBoom}}
	m := NewMutator(client, r, recordPatches, logging.Discard())

	release := be.block()
	defer release()
	done, err := m.Delete(context.Background(), []string{"a1", "a2"})

	assert.Equal(t, []string{"a1"}, done)
	assert.ErrorIs(t, err, apierr.ErrNotFound)
	active := activeByID(r.Get(context.Background(), "s1").DisplayData())
	assert.False(t, active["a1"])
	assert.True(t, active["a2"])
}

func TestMutator_FailedWriteChangesNothing(t *testing.T) {
	be := newStubBackend()
	be.set(allKey, 10, records("a", 10)...)
	r := loadedRegistry(t, be, "s1")
	client := &stubMutations{fail: map[string]error{"a1": errBoom}}
	m := NewMutator(client, r, recordPatches, logging.Discard())

	done, err := m.Delete(context.Background(), []string{"a1"})
	require.Error(t, err)
	assert.Empty(t, done)

	d := r.Get(context.Background(), "s1").DisplayData()
	assert.Equal(t, querycache.StateReady, d.State)
	assert.True(t, activeByID(d)["a1"])
	assert.Equal(t, 1, be.callCount(allKey))
}

func TestMutator_ReactivateRestoresFlag(t *testing.T) {
	be := newStubBackend()
	items := records("a", 3)
	items[0].IsActive = false
	be.set(allKey, 3, items...)
	r := loadedRegistry(t, be, "s1")
	m := NewMutator(&stubMutations{}, r, recordPatches, logging.Discard())

	release := be.block()
	defer release()
	_, err := m.Reactivate(context.Background(), []string{"a1"})
	require.NoError(t, err)
	assert.True(t, activeByID(r.Get(context.Background(), "s1").DisplayData())["a1"])
}

func TestMutator_UpdateSwapsReturnedRecord(t *testing.T) {
	be := newStubBackend()
	be.set(allKey, 10, records("a", 10)...)
	r := loadedRegistry(t, be, "s1")
	client := &stubMutations{result: record{ID: "a4", Status: "COMPLETED", IsActive: true}}
	m := NewMutator(client, r, recordPatches, logging.Discard())

	release := be.block()
	defer release()
	updated, err := m.Update(context.Background(), "a4", &recordPayload{Status: "COMPLETED"})
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", updated.Status)

	d := r.Get(context.Background(), "s1").DisplayData()
	require.NotNil(t, d.Result)
	assert.Equal(t, "COMPLETED", d.Result.Items[3].Status)
	assert.Equal(t, "CONFIRMED", d.Result.Items[2].Status)
	assert.Equal(t, backend.OpUpdate, client.mutations()[0].Op)
	assert.Equal(t, "a4", client.mutations()[0].ID)
}

func TestMutator_CreateInvalidatesViews(t *testing.T) {
	be := newStubBackend()
	be.set(allKey, 10, records("a", 10)...)
	r := loadedRegistry(t, be, "s1")
	client := &stubMutations{result: record{ID: "a11", Status: "PENDING", IsActive: true}}
	m := NewMutator(client, r, recordPatches, logging.Discard())

	created, err := m.Create(context.Background(), &recordPayload{Status: "PENDING"})
	require.NoError(t, err)
	assert.Equal(t, "a11", created.ID)
	waitAll(t, r)
	assert.Equal(t, 2, be.callCount(allKey))
}
