package statestore_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/dbrecovery/pkg/dbrecovery/statestore"
)

func TestFlag_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		initial statestore.Status
		read    bool
		want    statestore.Status
	}{
		{"not corrupted, write flag", statestore.NotCorrupted, false, statestore.Corrupted},
		{"not corrupted, read flag", statestore.NotCorrupted, true, statestore.ReadCorrupted},
		{"read corrupted, write flag upgrades", statestore.ReadCorrupted, false, statestore.Corrupted},
		{"read corrupted, read flag", statestore.ReadCorrupted, true, statestore.ReadCorrupted},
		{"corrupted, read flag stays", statestore.Corrupted, true, statestore.Corrupted},
		{"already dumped, write flag stays", statestore.CorruptedButAlreadyDumpedAndRestored, false, statestore.CorruptedButAlreadyDumpedAndRestored},
		{"already dumped, read flag stays", statestore.CorruptedButAlreadyDumpedAndRestored, true, statestore.CorruptedButAlreadyDumpedAndRestored},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := statestore.NewMemoryStore(statestore.Record{Status: tt.initial, Count: 1})

			var (
				rec statestore.Record
				err error
			)
			if tt.read {
				rec, err = statestore.FlagReadCorruption(store)
			} else {
				rec, err = statestore.FlagCorruption(store)
			}
			require.NoError(t, err)

			assert.Equal(t, tt.want, rec.Status)
			assert.Equal(t, 2, rec.Count)
			assert.Equal(t, []statestore.Status{tt.want}, store.History())
		})
	}
}

func TestFlag_WriteFailure(t *testing.T) {
	store := statestore.NewMemoryStore(statestore.Record{})
	boom := errors.New("disk on fire")
	store.FailWrites(boom)

	_, err := statestore.FlagCorruption(store)
	assert.ErrorIs(t, err, boom)

	rec, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, statestore.NotCorrupted, rec.Status)
}

func TestParseStatus(t *testing.T) {
	for _, s := range []statestore.Status{
		statestore.NotCorrupted,
		statestore.Corrupted,
		statestore.ReadCorrupted,
		statestore.CorruptedButAlreadyDumpedAndRestored,
	} {
		parsed, err := statestore.ParseStatus(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}

	parsed, err := statestore.ParseStatus("")
	require.NoError(t, err)
	assert.Equal(t, statestore.NotCorrupted, parsed)

	_, err = statestore.ParseStatus("on_fire")
	assert.ErrorIs(t, err, statestore.ErrUnknownStatus)

	assert.False(t, statestore.NotCorrupted.IsCorrupted())
	assert.True(t, statestore.CorruptedButAlreadyDumpedAndRestored.IsCorrupted())
}
