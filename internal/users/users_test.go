package users

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRedisAddr = "localhost:6379"

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	repo, err := OpenRepository(filepath.Join(t.TempDir(), "users.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestRepository_CreateAndFind(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	u := &User{Username: " alice ", DisplayName: "Alice", PasswordHash: "hash"}
	require.NoError(t, repo.Create(ctx, u))
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "alice", u.Username)

	byID, err := repo.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", byID.DisplayName)

	byName, err := repo.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byName.ID)
}

func TestRepository_Errors(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &User{Username: "bob", PasswordHash: "x"}))
	err := repo.Create(ctx, &User{Username: "bob", PasswordHash: "y"})
	assert.ErrorIs(t, err, ErrUserExists)

	_, err = repo.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = repo.FindByUsername(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUser_Name(t *testing.T) {
	assert.Equal(t, "Alice", (&User{Username: "alice", DisplayName: "Alice"}).Name())
	assert.Equal(t, "alice", (&User{Username: "alice"}).Name())
}

// countingLookup counts directory hits and blocks until released.
type countingLookup struct {
	calls   atomic.Int32
	release chan struct{}
	users   map[string]*User
}

func (c *countingLookup) FindByID(ctx context.Context, id string) (*User, error) {
	c.calls.Add(1)
	if c.release != nil {
		select {
		case <-c.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	u, ok := c.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func TestResolver_WithoutCache(t *testing.T) {
	lookup := &countingLookup{users: map[string]*User{"u1": {ID: "u1", Username: "alice", DisplayName: "Alice"}}}
	r := NewResolver(lookup, nil, 0, zerolog.Nop())

	name, err := r.DisplayName(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", name)

	_, err = r.DisplayName(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestResolver_CollapsesConcurrentMisses(t *testing.T) {
	lookup := &countingLookup{
		release: make(chan struct{}),
		users:   map[string]*User{"u1": {ID: "u1", Username: "alice"}},
	}
	r := NewResolver(lookup, nil, 0, zerolog.Nop())

	var wg sync.WaitGroup
	names := make(chan string, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name, err := r.DisplayName(context.Background(), "u1")
			assert.NoError(t, err)
			names <- name
		}()
	}

	// Let the callers pile up on the in-flight lookup before releasing it.
	require.Eventually(t, func() bool { return lookup.calls.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(lookup.release)
	wg.Wait()
	close(names)

	for name := range names {
		assert.Equal(t, "alice", name)
	}
	assert.LessOrEqual(t, lookup.calls.Load(), int32(5))
	assert.GreaterOrEqual(t, lookup.calls.Load(), int32(1))
}

func TestResolver_SharedLookupOutlivesFirstCaller(t *testing.T) {
	lookup := &countingLookup{
		release: make(chan struct{}),
		users:   map[string]*User{"u1": {ID: "u1", Username: "alice", DisplayName: "Alice"}},
	}
	r := NewResolver(lookup, nil, 0, zerolog.Nop())

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := r.DisplayName(firstCtx, "u1")
		first <- err
	}()
	require.Eventually(t, func() bool { return lookup.calls.Load() == 1 }, time.Second, time.Millisecond)

	second := make(chan string, 1)
	go func() {
		name, err := r.DisplayName(context.Background(), "u1")
		assert.NoError(t, err)
		second <- name
	}()
	time.Sleep(20 * time.Millisecond)

	// The first caller goes away while the second is waiting on the same lookup.
	cancelFirst()
	time.Sleep(20 * time.Millisecond)
	close(lookup.release)

	assert.Equal(t, "Alice", <-second)
	assert.NoError(t, <-first)
}

// TestResolver_RedisCache requires Redis on localhost:6379.
func TestResolver_RedisCache(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: testRedisAddr})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available at %s: %v", testRedisAddr, err)
	}
	t.Cleanup(func() {
		client.Del(ctx, namePrefix+"cached-user")
		client.Close()
	})
	client.Del(ctx, namePrefix+"cached-user")

	lookup := &countingLookup{users: map[string]*User{"cached-user": {ID: "cached-user", DisplayName: "Cached"}}}
	r := NewResolver(lookup, client, time.Minute, zerolog.Nop())

	for i := 0; i < 3; i++ {
		name, err := r.DisplayName(ctx, "cached-user")
		require.NoError(t, err)
		assert.Equal(t, "Cached", name)
	}
	assert.Equal(t, int32(1), lookup.calls.Load())

	ttl, err := client.TTL(ctx, namePrefix+"cached-user").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
