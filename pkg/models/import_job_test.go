package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	allowed := [][2]JobStatus{
		{JobStatusQueued, JobStatusRunning},
		{JobStatusQueued, JobStatusCancelled},
		{JobStatusRunning, JobStatusSucceeded},
		{JobStatusRunning, JobStatusFailed},
		{JobStatusRunning, JobStatusCancelled},
	}
	for _, pair := range allowed {
		assert.True(t, CanTransition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}

	denied := [][2]JobStatus{
		{JobStatusQueued, JobStatusSucceeded},
		{JobStatusQueued, JobStatusFailed},
		{JobStatusRunning, JobStatusQueued},
		{JobStatusSucceeded, JobStatusRunning},
		{JobStatusFailed, JobStatusQueued},
		{JobStatusCancelled, JobStatusRunning},
	}
	for _, pair := range denied {
		assert.False(t, CanTransition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}
}

func TestJobStatusIsTerminal(t *testing.T) {
	assert.False(t, JobStatusQueued.IsTerminal())
	assert.False(t, JobStatusRunning.IsTerminal())
	assert.True(t, JobStatusSucceeded.IsTerminal())
	assert.True(t, JobStatusFailed.IsTerminal())
	assert.True(t, JobStatusCancelled.IsTerminal())
}

func TestArchiveStateOutcomeFor(t *testing.T) {
	state := &ArchiveState{
		Completed: []ArchiveEntryResult{
			{Name: "a.csv", Outcome: EntryOutcomeProcessed},
			{Name: "b.csv", Outcome: EntryOutcomeFailed},
		},
		Remaining: []string{"c.csv"},
	}

	result, ok := state.OutcomeFor("b.csv")
	assert.True(t, ok)
	assert.Equal(t, EntryOutcomeFailed, result.Outcome)

	_, ok = state.OutcomeFor("c.csv")
	assert.False(t, ok, "remaining entries have no outcome yet")
}
