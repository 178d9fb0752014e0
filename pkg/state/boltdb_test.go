package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsclear/sandbox/pkg/types"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetDeleteContainer(t *testing.T) {
	s := newTestStore(t)

	rec := &types.ContainerRecord{
		UserID:      "alice",
		ContainerID: "ctr-1",
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.PutContainer(rec))

	got, err := s.GetContainer("alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.ContainerID, got.ContainerID)
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))

	// Replacement overwrites in place.
	rec.ContainerID = "ctr-2"
	require.NoError(t, s.PutContainer(rec))
	got, err = s.GetContainer("alice")
	require.NoError(t, err)
	assert.Equal(t, "ctr-2", got.ContainerID)

	require.NoError(t, s.DeleteContainer("alice"))
	got, err = s.GetContainer("alice")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Deleting a missing key is not an error.
	assert.NoError(t, s.DeleteContainer("alice"))
}

func TestListContainers(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.PutContainer(&types.ContainerRecord{UserID: "alice", ContainerID: "ctr-1"}))
	require.NoError(t, s.PutContainer(&types.ContainerRecord{UserID: "bob", ContainerID: "ctr-2"}))

	recs, err := s.ListContainers()
	require.NoError(t, err)
	require.Len(t, recs, 2)

	byUser := map[string]string{}
	for _, r := range recs {
		byUser[r.UserID] = r.ContainerID
	}
	assert.Equal(t, map[string]string{"alice": "ctr-1", "bob": "ctr-2"}, byUser)
}

func TestReopenPersists(t *testing.T) {
	dir := t.TempDir()

	s, err := NewBoltStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.PutContainer(&types.ContainerRecord{UserID: "alice", ContainerID: "ctr-1"}))
	require.NoError(t, s.Close())

	s2, err := NewBoltStore(dir)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.GetContainer("alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ctr-1", got.ContainerID)
}
