package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyderes/social-feed/internal/apperr"
	"github.com/cyderes/social-feed/internal/models"
)

func newSQLiteStore(t *testing.T) *SQLStorage {
	t.Helper()
	store, err := NewSQLiteStorage(context.Background(), filepath.Join(t.TempDir(), "feed.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func cachedPost(id, userID int) models.CachedPost {
	return models.Post{ID: id, UserID: userID, Title: "title", Body: "body"}.ToCached()
}

func TestSQLite_FetchAllEmpty(t *testing.T) {
	store := newSQLiteStore(t)

	posts, err := store.FetchAll(context.Background())

	require.NoError(t, err)
	assert.NotNil(t, posts)
	assert.Empty(t, posts)
}

func TestSQLite_ReplaceAllOrdersByID(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	input := []models.CachedPost{cachedPost(3, 1), cachedPost(1, 2), cachedPost(2, 7)}
	require.NoError(t, store.ReplaceAll(ctx, input))

	got, err := store.FetchAll(ctx)
	require.NoError(t, err)

	want := []models.CachedPost{cachedPost(1, 2), cachedPost(2, 7), cachedPost(3, 1)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("FetchAll mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "https://picsum.photos/seed/7/100/100", got[1].AvatarURL)
}

func TestSQLite_ReplaceAllRemovesStaleRows(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.ReplaceAll(ctx, []models.CachedPost{cachedPost(1, 1), cachedPost(2, 1), cachedPost(3, 1)}))
	require.NoError(t, store.ReplaceAll(ctx, []models.CachedPost{cachedPost(5, 2)}))

	got, err := store.FetchAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.CachedPost{cachedPost(5, 2)}, got)
}

func TestSQLite_ReplaceAllIdempotent(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	input := []models.CachedPost{cachedPost(1, 1), cachedPost(2, 2)}

	require.NoError(t, store.ReplaceAll(ctx, input))
	require.NoError(t, store.ReplaceAll(ctx, input))

	got, err := store.FetchAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, input, got)
}

func TestSQLite_ReplaceAllDuplicateIDsLastWins(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	first := cachedPost(1, 1)
	second := cachedPost(1, 1)
	second.Title = "newer"

	require.NoError(t, store.ReplaceAll(ctx, []models.CachedPost{first, second}))

	got, err := store.FetchAll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "newer", got[0].Title)
}

func TestSQLite_ReplaceAllEmptyClears(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.ReplaceAll(ctx, []models.CachedPost{cachedPost(1, 1)}))
	require.NoError(t, store.ReplaceAll(ctx, nil))

	got, err := store.FetchAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.db")
	ctx := context.Background()

	store, err := NewSQLiteStorage(ctx, path)
	require.NoError(t, err)
	require.NoError(t, store.ReplaceAll(ctx, []models.CachedPost{cachedPost(1, 4)}))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStorage(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.FetchAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.CachedPost{cachedPost(1, 4)}, got)
}

func TestSQLite_ConcurrentReadersSeeWholeReplacements(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	small := []models.CachedPost{cachedPost(1, 1)}
	large := make([]models.CachedPost, 0, 50)
	for i := 1; i <= 50; i++ {
		large = append(large, cachedPost(i, i))
	}
	require.NoError(t, store.ReplaceAll(ctx, small))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			if i%2 == 0 {
				assert.NoError(t, store.ReplaceAll(ctx, large))
			} else {
				assert.NoError(t, store.ReplaceAll(ctx, small))
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 40; i++ {
			got, err := store.FetchAll(ctx)
			assert.NoError(t, err)
			assert.Contains(t, []int{len(small), len(large)}, len(got))
		}
	}()
	wg.Wait()
}

func newMockSQLStore(t *testing.T) (*SQLStorage, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return newSQLStorage(sqlx.NewDb(mockDB, "postgres")), mock
}

func TestPostgres_ReplaceAllTransaction(t *testing.T) {
	store, mock := newMockSQLStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM cached_posts").WillReturnResult(sqlmock.NewResult(0, 4))
	prep := mock.ExpectPrepare("INSERT INTO cached_posts")
	prep.ExpectExec().
		WithArgs(1, 2, "title", "body", "https://picsum.photos/seed/2/100/100").
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs(5, 2, "title", "body", "https://picsum.photos/seed/2/100/100").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.ReplaceAll(context.Background(), []models.CachedPost{cachedPost(5, 2), cachedPost(1, 2)})

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ReplaceAllRollsBackOnInsertFailure(t *testing.T) {
	store, mock := newMockSQLStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM cached_posts").WillReturnResult(sqlmock.NewResult(0, 1))
	prep := mock.ExpectPrepare("INSERT INTO cached_posts")
	prep.ExpectExec().WithArgs(1, 1, "title", "body", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs(2, 1, "title", "body", sqlmock.AnyArg()).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.ReplaceAll(context.Background(), []models.CachedPost{cachedPost(1, 1), cachedPost(2, 1)})

	assert.Error(t, err)
	assert.True(t, apperr.IsCode(err, apperr.ErrCacheWrite))
	assert.Contains(t, err.Error(), "failed to insert post 2")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ReplaceAllRollsBackOnDeleteFailure(t *testing.T) {
	store, mock := newMockSQLStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM cached_posts").WillReturnError(errors.New("lock timeout"))
	mock.ExpectRollback()

	err := store.ReplaceAll(context.Background(), []models.CachedPost{cachedPost(1, 1)})

	assert.True(t, apperr.IsCode(err, apperr.ErrCacheWrite))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_FetchAll(t *testing.T) {
	store, mock := newMockSQLStore(t)

	rows := sqlmock.NewRows([]string{"id", "user_id", "title", "body", "avatar_url"}).
		AddRow(1, 2, "a", "b", "https://picsum.photos/seed/2/100/100").
		AddRow(2, 3, "c", "d", "https://picsum.photos/seed/3/100/100")
	mock.ExpectQuery("SELECT id, user_id, title, body, avatar_url FROM cached_posts ORDER BY id ASC").WillReturnRows(rows)

	got, err := store.FetchAll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []models.CachedPost{
		{ID: 1, UserID: 2, Title: "a", Body: "b", AvatarURL: "https://picsum.photos/seed/2/100/100"},
		{ID: 2, UserID: 3, Title: "c", Body: "d", AvatarURL: "https://picsum.photos/seed/3/100/100"},
	}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_FetchAllError(t *testing.T) {
	store, mock := newMockSQLStore(t)
	mock.ExpectQuery("SELECT").WillReturnError(errors.New("connection reset"))

	got, err := store.FetchAll(context.Background())

	assert.Nil(t, got)
	assert.True(t, apperr.IsCode(err, apperr.ErrCacheRead))
}
