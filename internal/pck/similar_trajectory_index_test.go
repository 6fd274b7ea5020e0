package pck

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSimilarTrajectoryIndexDisabledWithNoAddr(t *testing.T) {
	t.Parallel()
	idx, err := NewSimilarTrajectoryIndex("", "pck_trajectories", 1536, nil)
	require.NoError(t, err)
	assert.Nil(t, idx)
}

func TestNewSimilarTrajectoryIndexRequiresCollection(t *testing.T) {
	t.Parallel()
	_, err := NewSimilarTrajectoryIndex("localhost:6334", "", 1536, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collection")
}

func TestNilSimilarTrajectoryIndexMethodsAreNoops(t *testing.T) {
	t.Parallel()
	var idx *SimilarTrajectoryIndex

	err := idx.Index(nil, "traj-1", "some input")
	require.NoError(t, err)

	results, err := idx.SimilarTo(nil, "some input", 5)
	require.NoError(t, err)
	assert.Nil(t, results)

	idx.Close() // must not panic
}

func TestParseQdrantAddrDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := parseQdrantAddr("localhost")
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 6334, cfg.Port)
	assert.False(t, cfg.UseTLS)
}

func TestParseQdrantAddrWithSchemeAndAPIKey(t *testing.T) {
	t.Parallel()
	cfg, err := parseQdrantAddr("https://qdrant.internal:6335?api_key=secret")
	require.NoError(t, err)
	assert.Equal(t, "qdrant.internal", cfg.Host)
	assert.Equal(t, 6335, cfg.Port)
	assert.True(t, cfg.UseTLS)
	assert.Equal(t, "secret", cfg.APIKey)
}

func TestParseQdrantAddrInvalidPort(t *testing.T) {
	t.Parallel()
	_, err := parseQdrantAddr("localhost:not-a-port")
	require.Error(t, err)
}
