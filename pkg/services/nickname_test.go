package services

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T, known map[string]bool) *NicknameRegistry {
	t.Helper()
	reg, err := NewNicknameRegistry(known, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	return reg
}

func TestGenerateUnique(t *testing.T) {
	reg := newRegistry(t, nil)

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		nickname, icon, err := reg.Generate()
		require.NoError(t, err)
		assert.NotEmpty(t, icon)
		assert.False(t, seen[nickname], "nickname %q handed out twice", nickname)
		seen[nickname] = true
		assert.True(t, reg.Valid(nickname))
	}
}

func TestGenerateSkipsKnown(t *testing.T) {
	reg := newRegistry(t, map[string]bool{"affable-axolotl": true})

	for i := 0; i < 200; i++ {
		nickname, _, err := reg.Generate()
		require.NoError(t, err)
		assert.NotEqual(t, "affable-axolotl", nickname)
	}
}

func TestSplitDashAnimals(t *testing.T) {
	reg := newRegistry(t, nil)

	tests := []struct {
		nickname  string
		adjective string
		animal    string
	}{
		{"affable-axolotl", "affable", "axolotl"},
		{"brave-sea-lion", "brave", "sea-lion"},
	}
	for _, tc := range tests {
		adjective, animal, err := reg.Split(tc.nickname)
		require.NoError(t, err)
		assert.Equal(t, tc.adjective, adjective)
		assert.Equal(t, tc.animal, animal)
	}

	_, _, err := reg.Split("nodash")
	assert.Error(t, err)
}

func TestValid(t *testing.T) {
	reg := newRegistry(t, nil)

	assert.True(t, reg.Valid("affable-axolotl"))
	assert.False(t, reg.Valid("affable-unicorn"))
	assert.False(t, reg.Valid("glittering-axolotl"))
	assert.False(t, reg.Valid("axolotl"))
}

func TestReserveBlocksGeneration(t *testing.T) {
	reg := newRegistry(t, nil)
	reg.Reserve("affable-axolotl")

	for i := 0; i < 200; i++ {
		nickname, _, err := reg.Generate()
		require.NoError(t, err)
		assert.NotEqual(t, "affable-axolotl", nickname)
	}
}
