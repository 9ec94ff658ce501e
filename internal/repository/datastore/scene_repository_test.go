package datastore

import (
	"context"
	"testing"
	"time"

	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fogmask/internal/domain"
)

func newRepo(t *testing.T) *SceneRepository {
	t.Helper()
	return NewSceneRepository(context.Background(), dssync.MutexWrap(ds.NewMapDatastore()), "/fogmask/meta")
}

func TestSceneLifecycle(t *testing.T) {
	repo := newRepo(t)

	scene, err := domain.NewScene("s1", "tomb", 100, 80, 20)
	require.NoError(t, err)
	require.NoError(t, repo.Create(scene))
	assert.ErrorIs(t, repo.Create(scene), domain.ErrSceneExists)

	got, err := repo.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, "tomb", got.Name)
	assert.Equal(t, 80, got.Height)

	got.Name = "vault"
	require.NoError(t, repo.Update(got))
	got, err = repo.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, "vault", got.Name)

	require.NoError(t, repo.Delete("s1"))
	_, err = repo.Get("s1")
	assert.ErrorIs(t, err, domain.ErrSceneNotFound)
	assert.ErrorIs(t, repo.Delete("s1"), domain.ErrSceneNotFound)
	assert.ErrorIs(t, repo.Update(scene), domain.ErrSceneNotFound)
}

func TestListOrdersByCreation(t *testing.T) {
	repo := newRepo(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"c", "a", "b"} {
		scene, err := domain.NewScene(id, id, 10, 10, 0)
		require.NoError(t, err)
		scene.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.Create(scene))
	}

	scenes, err := repo.List()
	require.NoError(t, err)
	require.Len(t, scenes, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{scenes[0].ID, scenes[1].ID, scenes[2].ID})
}
