package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hitoshi/snapchef/internal/database"
	"github.com/hitoshi/snapchef/internal/model"
	"github.com/hitoshi/snapchef/internal/repository"
	"github.com/hitoshi/snapchef/internal/security"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newSQLiteRepo(t *testing.T) repository.KeyValueRepository {
	t.Helper()
	db, err := database.Open(database.DriverSQLite, filepath.Join(t.TempDir(), "session.db"))
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return repository.NewSQLiteKVRepo(db, repository.DefaultNamespace)
}

// fakeKVRepo はKeyValueRepositoryのテスト用実装。
type fakeKVRepo struct {
	data         map[string][]byte
	getFn        func(key string) ([]byte, bool, error)
	setManyFn    func(entries map[string][]byte) error
	deleteManyFn func(keys ...string) error
}

func newFakeKVRepo() *fakeKVRepo {
	return &fakeKVRepo{data: make(map[string][]byte)}
}

func (f *fakeKVRepo) Get(_ context.Context, key string) ([]byte, bool, error) {
	if f.getFn != nil {
		return f.getFn(key)
	}
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeKVRepo) SetMany(_ context.Context, entries map[string][]byte) error {
	if f.setManyFn != nil {
		return f.setManyFn(entries)
	}
	for k, v := range entries {
		f.data[k] = v
	}
	return nil
}

func (f *fakeKVRepo) DeleteMany(_ context.Context, keys ...string) error {
	if f.deleteManyFn != nil {
		return f.deleteManyFn(keys...)
	}
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func TestStore_SaveLoadClear_SQLite(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newSQLiteRepo(t), nil, discardLogger())

	if got := store.Load(ctx); got != nil {
		t.Fatalf("空のストアからLoad = %+v, want nil", got)
	}

	userInfo := model.UserInfo{"sub": "auth0|1", "name": "Chef", "recipesCount": float64(2)}
	if err := store.Save(ctx, "token-1", userInfo); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got := store.Load(ctx)
	if got == nil {
		t.Fatal("Load() = nil after Save")
	}
	if got.Token != "token-1" {
		t.Errorf("Token = %q, want token-1", got.Token)
	}
	if diff := cmp.Diff(userInfo, got.UserInfo); diff != "" {
		t.Errorf("UserInfo mismatch (-want +got):\n%s", diff)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if got := store.Load(ctx); got != nil {
		t.Errorf("Clear後のLoad = %+v, want nil", got)
	}

	// 2回目のClearもエラーにならないこと
	if err := store.Clear(ctx); err != nil {
		t.Errorf("2回目のClear() error = %v", err)
	}
}

func TestStore_SealsToken(t *testing.T) {
	ctx := context.Background()
	repo := newFakeKVRepo()
	sealer, err := security.NewTokenSealer("test-secret")
	if err != nil {
		t.Fatalf("NewTokenSealer() error = %v", err)
	}
	store := NewStore(repo, sealer, discardLogger())

	if err := store.Save(ctx, "plain-token", model.UserInfo{"sub": "auth0|1"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if string(repo.data[KeyToken]) == "plain-token" {
		t.Error("トークンが平文で保存されている")
	}

	got := store.Load(ctx)
	if got == nil || got.Token != "plain-token" {
		t.Fatalf("Load() = %+v, want token plain-token", got)
	}

	// 別の鍵では復号できず、未ログインとして扱われること
	other, _ := security.NewTokenSealer("other-secret")
	if got := NewStore(repo, other, discardLogger()).Load(ctx); got != nil {
		t.Errorf("別の鍵でLoad = %+v, want nil", got)
	}
}

func TestStore_LoadFailOpen(t *testing.T) {
	tests := []struct {
		name string
		repo *fakeKVRepo
	}{
		{
			name: "read error",
			repo: &fakeKVRepo{getFn: func(string) ([]byte, bool, error) {
				return nil, false, errors.New("disk error")
			}},
		},
		{
			name: "corrupt user info",
			repo: &fakeKVRepo{data: map[string][]byte{KeyToken: []byte("t"), KeyUserInfo: []byte("{not json")}},
		},
		{
			name: "token only",
			repo: &fakeKVRepo{data: map[string][]byte{KeyToken: []byte("t")}},
		},
		{
			name: "user info without sub",
			repo: &fakeKVRepo{data: map[string][]byte{KeyToken: []byte("t"), KeyUserInfo: []byte(`{"name":"x"}`)}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewStore(tt.repo, nil, discardLogger())
			if got := store.Load(context.Background()); got != nil {
				t.Errorf("Load() = %+v, want nil", got)
			}
		})
	}
}

func TestStore_WriteErrorsArePersistenceErrors(t *testing.T) {
	repo := &fakeKVRepo{
		setManyFn:    func(map[string][]byte) error { return errors.New("readonly") },
		deleteManyFn: func(...string) error { return errors.New("readonly") },
	}
	store := NewStore(repo, nil, discardLogger())

	var persistErr *model.PersistenceError
	if err := store.Save(context.Background(), "t", model.UserInfo{"sub": "s"}); !errors.As(err, &persistErr) || persistErr.Op != "save" {
		t.Errorf("Save() err = %v, want PersistenceError(save)", err)
	}
	if err := store.Clear(context.Background()); !errors.As(err, &persistErr) || persistErr.Op != "clear" {
		t.Errorf("Clear() err = %v, want PersistenceError(clear)", err)
	}
}
