package probe

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadSnapshots(t *testing.T) {
	in := `{"id":"p1","depth":0,"vars":[["a", {"t":"int","v":"1"}]]}
{"id":"p2","depth":1,"vars":[],"value":{"t":"str","v":"x"}}
`
	snaps, overflow, err := ReadSnapshots(strings.NewReader(in), 0)
	require.NoError(t, err)
	assert.False(t, overflow)
	require.Len(t, snaps, 2)

	assert.Equal(t, "p1", snaps[0].ProbeID)
	assert.Equal(t, `[["a",{"t":"int","v":"1"}]]`, string(snaps[0].Vars))
	assert.Nil(t, snaps[0].Value)
	assert.Equal(t, int64(1), snaps[1].Depth)
	assert.Equal(t, `{"t":"str","v":"x"}`, string(snaps[1].Value))
}

func TestReadSnapshotsOverflowMarker(t *testing.T) {
	in := "{\"id\":\"p1\",\"depth\":0,\"vars\":[]}\n{\"overflow\":true}\n"
	snaps, overflow, err := ReadSnapshots(strings.NewReader(in), 0)
	require.NoError(t, err)
	assert.True(t, overflow)
	assert.Len(t, snaps, 1)
}

func TestReadSnapshotsCap(t *testing.T) {
	in := strings.Repeat("{\"id\":\"p1\",\"depth\":0,\"vars\":[]}\n", 5)
	snaps, overflow, err := ReadSnapshots(strings.NewReader(in), 3)
	require.NoError(t, err)
	assert.True(t, overflow)
	assert.Len(t, snaps, 3)
}

func TestReadSnapshotsIgnoresTruncatedTail(t *testing.T) {
	in := "{\"id\":\"p1\",\"depth\":0,\"vars\":[]}\n{\"id\":\"p2\",\"dep"
	snaps, overflow, err := ReadSnapshots(strings.NewReader(in), 0)
	require.NoError(t, err)
	assert.False(t, overflow)
	require.Len(t, snaps, 1)
	assert.Equal(t, "p1", snaps[0].ProbeID)
}

func TestReadSnapshotsRejectsCorruptMiddle(t *testing.T) {
	in := "{\"id\":\"p1\",\"dep\n{\"id\":\"p2\",\"depth\":0,\"vars\":[]}\n"
	_, _, err := ReadSnapshots(strings.NewReader(in), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

func TestReadSnapshotsEmpty(t *testing.T) {
	snaps, overflow, err := ReadSnapshots(strings.NewReader(""), 0)
	require.NoError(t, err)
	assert.False(t, overflow)
	assert.Empty(t, snaps)
}
