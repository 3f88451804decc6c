package credentials

import (
	"context"
	"testing"

	"websentry/internal/host"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore() *Store {
	memHost := host.NewMemHost()
	return NewStore(memHost.Storage, zerolog.Nop())
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()

	assert.False(t, store.Authenticated(ctx))

	require.NoError(t, store.SetToken(ctx, "tok-123", "alice@example.com"))
	assert.Equal(t, "tok-123", store.Token(ctx))
	assert.Equal(t, "alice@example.com", store.User(ctx))
	assert.True(t, store.Authenticated(ctx))

	require.NoError(t, store.ClearAll(ctx))
	assert.Empty(t, store.Token(ctx))
	assert.False(t, store.Authenticated(ctx))
}

func TestStoreChangeNotifications(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()

	var states []bool
	store.OnChange(func(authenticated bool) {
		states = append(states, authenticated)
	})

	require.NoError(t, store.SetToken(ctx, "tok", "u"))
	require.NoError(t, store.ClearAll(ctx))

	assert.Equal(t, []bool{true, false}, states)
}
