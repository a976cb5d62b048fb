package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	domainauth "github.com/target/portal-api/internal/domain/auth"
	apperrors "github.com/target/portal-api/internal/errors"
)

func TestFakeSessionStore_EmitAndUnsubscribe(t *testing.T) {
	store := NewFakeSessionStore()

	var got []domainauth.AuthEvent
	sub := store.OnAuthStateChange(func(event domainauth.AuthEvent, _ *domainauth.Session) {
		got = append(got, event)
	})
	require.Equal(t, 1, store.Listeners())

	store.Emit(domainauth.EventSignedIn, NewSession("u1", "u1@example.com"))
	store.Emit(domainauth.EventSignedOut, nil)
	sub.Unsubscribe()
	store.Emit(domainauth.EventSignedIn, NewSession("u1", "u1@example.com"))

	assert.Equal(t, []domainauth.AuthEvent{domainauth.EventSignedIn, domainauth.EventSignedOut}, got)
	assert.Equal(t, 0, store.Listeners())
}

func TestFakeSessionStore_DefaultSignInFails(t *testing.T) {
	store := NewFakeSessionStore()
	_, err := store.SignInWithPassword(context.Background(), "a@example.com", "pw")
	assert.True(t, domainauth.IsKind(err, domainauth.KindInvalidCredentials))
}

func TestMemoryProfileStore_InsertConflictAndErrors(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryProfileStore()
	store.InsertErrs = []error{errors.New("transient")}

	np := domainauth.NewProfile{ID: "u1", Email: "u1@example.com", FullName: "U One", Role: domainauth.RoleUser, IsActive: true}
	require.Error(t, store.InsertProfile(ctx, np))
	require.NoError(t, store.InsertProfile(ctx, np))
	assert.True(t, apperrors.IsConflict(store.InsertProfile(ctx, np)))

	p, err := store.GetProfile(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, p.FullName)
	assert.Equal(t, "U One", *p.FullName)
	assert.Equal(t, 3, store.Inserts())

	_, err = store.GetProfile(ctx, "missing")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRecordingPresence_Beacon(t *testing.T) {
	p := &RecordingPresence{}
	assert.False(t, p.SendBeacon(false))
	p.BeaconAvailable = true
	assert.True(t, p.SendBeacon(false))
	assert.Equal(t, []bool{false}, p.Beacons())
}

func TestMemorySessionPersistence(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionPersistence()
	sess := NewSession("u1", "u1@example.com")

	require.Error(t, store.Save(ctx, "", *sess))
	require.NoError(t, store.Save(ctx, "default", *sess))

	got, err := store.Get(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.User.ID)

	require.NoError(t, store.Delete(ctx, "default"))
	_, err = store.Get(ctx, "default")
	assert.ErrorIs(t, err, ErrNotFound)
}
