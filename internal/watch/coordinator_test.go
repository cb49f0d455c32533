package watch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryCoordinator_BackoffSchedule(t *testing.T) {
	c := NewRetryCoordinator(nil)
	mod := time.Now()

	delay, ok := c.NoteFailure("/logs/a.jsonl", 100, mod)
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, delay)

	delay, ok = c.NoteFailure("/logs/a.jsonl", 100, mod)
	require.True(t, ok)
	assert.Equal(t, 10*time.Second, delay)

	delay, ok = c.NoteFailure("/logs/a.jsonl", 100, mod)
	require.True(t, ok)
	assert.Equal(t, 20*time.Second, delay)

	// Fourth failure exhausts the schedule.
	_, ok = c.NoteFailure("/logs/a.jsonl", 100, mod)
	assert.False(t, ok)
	assert.True(t, c.Excluded("/logs/a.jsonl"))
}

func TestRetryCoordinator_ContentChangeResets(t *testing.T) {
	c := NewRetryCoordinator(nil)
	mod := time.Now()

	for i := 0; i < 3; i++ {
		c.NoteFailure("/logs/a.jsonl", 100, mod)
	}
	require.True(t, c.Excluded("/logs/a.jsonl"))

	// Same shape observed again: still excluded.
	c.NoteObserved("/logs/a.jsonl", 100, mod)
	assert.True(t, c.Excluded("/logs/a.jsonl"))

	// The file grew: eligible again, schedule restarts.
	c.NoteObserved("/logs/a.jsonl", 150, mod)
	assert.False(t, c.Excluded("/logs/a.jsonl"))

	delay, ok := c.NoteFailure("/logs/a.jsonl", 150, mod)
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, delay)
}

func TestRetryCoordinator_MtimeChangeResets(t *testing.T) {
	c := NewRetryCoordinator(nil)
	mod := time.Now()

	for i := 0; i < 3; i++ {
		c.NoteFailure("/logs/a.jsonl", 100, mod)
	}
	require.True(t, c.Excluded("/logs/a.jsonl"))

	c.NoteObserved("/logs/a.jsonl", 100, mod.Add(time.Second))
	assert.False(t, c.Excluded("/logs/a.jsonl"))
}

func TestRetryCoordinator_SuccessClears(t *testing.T) {
	c := NewRetryCoordinator(nil)
	mod := time.Now()

	c.NoteFailure("/logs/a.jsonl", 100, mod)
	c.NoteFailure("/logs/a.jsonl", 100, mod)
	c.NoteSuccess("/logs/a.jsonl")

	delay, ok := c.NoteFailure("/logs/a.jsonl", 100, mod)
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, delay, "success must reset the schedule")
}

func TestRetryCoordinator_CustomBackoff(t *testing.T) {
	c := NewRetryCoordinator([]time.Duration{time.Second})
	mod := time.Now()

	delay, ok := c.NoteFailure("/logs/a.jsonl", 100, mod)
	require.True(t, ok)
	assert.Equal(t, time.Second, delay)

	_, ok = c.NoteFailure("/logs/a.jsonl", 100, mod)
	assert.False(t, ok)
}

func TestRetryCoordinator_FilesAreIndependent(t *testing.T) {
	c := NewRetryCoordinator(nil)
	mod := time.Now()

	for i := 0; i < 3; i++ {
		c.NoteFailure("/logs/a.jsonl", 100, mod)
	}
	assert.True(t, c.Excluded("/logs/a.jsonl"))
	assert.False(t, c.Excluded("/logs/b.jsonl"))

	delay, ok := c.NoteFailure("/logs/b.jsonl", 100, mod)
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, delay)
}
