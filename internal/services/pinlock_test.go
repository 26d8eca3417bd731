package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Jakob98-code/distance-tracker/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPinLock(t *testing.T, store *memoryLocal, clock *fakeClock) (*PinLock, *int) {
	t.Helper()
	unlocks := 0
	p, err := NewPinLock(context.Background(), store, func() { unlocks++ }, WithClock(clock.Now))
	require.NoError(t, err)
	return p, &unlocks
}

func enter(t *testing.T, p *PinLock, pin string) (PinView, error) {
	t.Helper()
	var view PinView
	var err error
	for i := range len(pin) {
		view, err = p.PressDigit(context.Background(), pin[i])
		if i < len(pin)-1 {
			require.NoError(t, err)
		}
	}
	return view, err
}

func TestHashPin(t *testing.T) {
	assert.Equal(t, "8f875e0882491babf786e011ce4f80b757efdba5dacc80970dedd0e4262c7652", HashPin("1234"))
	assert.NotEqual(t, HashPin("1234"), HashPin("1235"))
}

func TestPinLock_FreshInstallStartsInSetup(t *testing.T) {
	p, _ := newTestPinLock(t, &memoryLocal{}, newFakeClock())

	view := p.View()
	assert.Equal(t, PinSetup, view.State)
	assert.Equal(t, "Create PIN", view.Title)
	assert.Equal(t, "Choose a 4-digit PIN to protect your app", view.Subtitle)
}

func TestPinLock_ExistingPinStartsInUnlock(t *testing.T) {
	store := &memoryLocal{pin: &models.PinRecord{Hash: HashPin("1234")}}
	p, _ := newTestPinLock(t, store, newFakeClock())
	assert.Equal(t, PinUnlock, p.State())
}

func TestPinLock_SetupRoundTrip(t *testing.T) {
	store := &memoryLocal{}
	p, unlocks := newTestPinLock(t, store, newFakeClock())

	view, err := enter(t, p, "1234")
	require.NoError(t, err)
	assert.Equal(t, PinSetupConfirm, view.State)
	assert.Equal(t, 0, view.Entered)
	assert.Nil(t, store.pinRecord())

	view, err = enter(t, p, "1234")
	require.NoError(t, err)
	assert.Equal(t, PinUnlocked, view.State)
	assert.Equal(t, 1, *unlocks)

	require.NotNil(t, store.pinRecord())
	assert.Equal(t, HashPin("1234"), store.pinRecord().Hash)
}

func TestPinLock_SetupMismatchReturnsToSetup(t *testing.T) {
	store := &memoryLocal{}
	p, unlocks := newTestPinLock(t, store, newFakeClock())

	_, err := enter(t, p, "1234")
	require.NoError(t, err)
	view, err := enter(t, p, "4321")
	assert.ErrorIs(t, err, ErrPinMismatch)
	assert.Equal(t, PinSetup, view.State)
	assert.Equal(t, "PINs don't match. Try again.", view.Error)
	assert.Nil(t, store.pinRecord())
	assert.Equal(t, 0, *unlocks)

	// the pending pin was discarded: the next entry starts a new setup
	view, err = enter(t, p, "5555")
	require.NoError(t, err)
	assert.Equal(t, PinSetupConfirm, view.State)
	assert.Empty(t, view.Error)
}

func TestPinLock_UnlockWithCorrectPin(t *testing.T) {
	store := &memoryLocal{pin: &models.PinRecord{Hash: HashPin("2468")}}
	p, unlocks := newTestPinLock(t, store, newFakeClock())

	view, err := enter(t, p, "2468")
	require.NoError(t, err)
	assert.Equal(t, PinUnlocked, view.State)
	assert.Equal(t, 1, *unlocks)

	// further keys are ignored once unlocked
	view, err = p.PressDigit(context.Background(), '1')
	require.NoError(t, err)
	assert.Equal(t, PinUnlocked, view.State)
	assert.Equal(t, 1, *unlocks)
}

func TestPinLock_WrongPinCountsDown(t *testing.T) {
	store := &memoryLocal{pin: &models.PinRecord{Hash: HashPin("2468")}}
	p, _ := newTestPinLock(t, store, newFakeClock())

	view, err := enter(t, p, "0000")
	var wrong *IncorrectPinError
	require.True(t, errors.As(err, &wrong))
	assert.Equal(t, 4, wrong.AttemptsLeft)
	assert.Equal(t, "Incorrect PIN. 4 attempts left.", view.Error)
	assert.Equal(t, PinUnlock, view.State)
	assert.Equal(t, 0, view.Entered)
	assert.Equal(t, 1, p.Attempts())
}

func TestPinLock_LockoutAfterFiveAttempts(t *testing.T) {
	store := &memoryLocal{pin: &models.PinRecord{Hash: HashPin("2468")}}
	clock := newFakeClock()
	p, unlocks := newTestPinLock(t, store, clock)

	for i := 0; i < MaxPinAttempts-1; i++ {
		_, err := enter(t, p, "0000")
		var wrong *IncorrectPinError
		require.True(t, errors.As(err, &wrong))
	}
	view, err := enter(t, p, "0000")
	assert.ErrorIs(t, err, ErrLockoutActive)
	assert.Equal(t, PinLockedOut, view.State)
	assert.Equal(t, "Too many attempts. Try again in 15 minutes.", view.Subtitle)

	lockout := store.lockoutState()
	require.NotNil(t, lockout)
	assert.Equal(t, clock.Now().Add(15*time.Minute), lockout.Until)

	// a sixth attempt before expiry is rejected without counting
	clock.Advance(10 * time.Minute)
	view, err = p.PressDigit(context.Background(), '2')
	assert.ErrorIs(t, err, ErrLockoutActive)
	assert.Equal(t, 0, view.Entered)
	assert.Equal(t, MaxPinAttempts, p.Attempts())
	assert.Equal(t, "Too many attempts. Try again in 5 minutes.", view.Subtitle)

	_, err = p.Delete(context.Background())
	assert.ErrorIs(t, err, ErrLockoutActive)
	assert.Equal(t, 0, *unlocks)
}

func TestPinLock_LockoutExpiresOnNextKey(t *testing.T) {
	store := &memoryLocal{pin: &models.PinRecord{Hash: HashPin("2468")}}
	clock := newFakeClock()
	p, unlocks := newTestPinLock(t, store, clock)

	for i := 0; i < MaxPinAttempts; i++ {
		_, _ = enter(t, p, "0000")
	}
	require.Equal(t, PinLockedOut, p.State())

	clock.Advance(LockoutDuration)
	view, err := p.PressDigit(context.Background(), '2')
	require.NoError(t, err)
	assert.Equal(t, PinUnlock, view.State)
	assert.Equal(t, 1, view.Entered, "the key that lifted the lockout is processed")
	assert.Equal(t, 0, p.Attempts())
	assert.Nil(t, store.lockoutState())

	view, err = enter(t, p, "468")
	require.NoError(t, err)
	assert.Equal(t, PinUnlocked, view.State)
	assert.Equal(t, 1, *unlocks)
}

func TestPinLock_ConstructionRestoresLockout(t *testing.T) {
	clock := newFakeClock()
	store := &memoryLocal{
		pin:     &models.PinRecord{Hash: HashPin("2468")},
		lockout: &models.LockoutState{Until: clock.Now().Add(3 * time.Minute)},
	}
	p, _ := newTestPinLock(t, store, clock)

	view := p.View()
	assert.Equal(t, PinLockedOut, view.State)
	require.NotNil(t, view.LockedUntil)
	assert.Equal(t, "Too many attempts. Try again in 3 minutes.", view.Subtitle)
}

func TestPinLock_ConstructionClearsExpiredLockout(t *testing.T) {
	clock := newFakeClock()
	store := &memoryLocal{
		pin:     &models.PinRecord{Hash: HashPin("2468")},
		lockout: &models.LockoutState{Until: clock.Now().Add(-time.Second)},
	}
	p, _ := newTestPinLock(t, store, clock)

	assert.Equal(t, PinUnlock, p.State())
	assert.Nil(t, store.lockoutState())
}

func TestPinLock_MissingPinWinsOverLockout(t *testing.T) {
	clock := newFakeClock()
	store := &memoryLocal{lockout: &models.LockoutState{Until: clock.Now().Add(time.Minute)}}
	p, _ := newTestPinLock(t, store, clock)
	assert.Equal(t, PinSetup, p.State())
}

func TestPinLock_DeleteAndPress(t *testing.T) {
	store := &memoryLocal{pin: &models.PinRecord{Hash: HashPin("2468")}}
	p, _ := newTestPinLock(t, store, newFakeClock())
	ctx := context.Background()

	_, err := p.Press(ctx, "1")
	require.NoError(t, err)
	view, err := p.Press(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, 2, view.Entered)

	view, err = p.Press(ctx, DeleteKey)
	require.NoError(t, err)
	assert.Equal(t, 1, view.Entered)

	view, err = p.Delete(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, view.Entered)

	// deleting from an empty entry is harmless
	view, err = p.Delete(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, view.Entered)

	_, err = p.Press(ctx, "x")
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = p.Press(ctx, "12")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestPinLock_DeleteClearsError(t *testing.T) {
	store := &memoryLocal{pin: &models.PinRecord{Hash: HashPin("2468")}}
	p, _ := newTestPinLock(t, store, newFakeClock())

	view, _ := enter(t, p, "0000")
	require.NotEmpty(t, view.Error)

	view, err := p.Delete(context.Background())
	require.NoError(t, err)
	assert.Empty(t, view.Error)
}
