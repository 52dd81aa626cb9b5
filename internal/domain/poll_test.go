package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPollNeedsTwoOptions(t *testing.T) {
	_, err := NewPoll("p1", "q", []string{"only"}, "peer", false, false)
	assert.Error(t, err)

	p, err := NewPoll("p1", "q", []string{"yes", "no"}, "peer", false, false)
	assert.NoError(t, err)
	assert.True(t, p.Active)
	assert.Equal(t, []int{0, 0}, p.Results)
}

func TestPollVoteTally(t *testing.T) {
	p, _ := NewPoll("p1", "q", []string{"a", "b", "c"}, "peer", false, false)

	before := p.Results[0]
	err := p.Vote([]int{1})
	assert.NoError(t, err)
	assert.Equal(t, before, p.Results[0])
	assert.Equal(t, 1, p.Results[1])
	assert.Equal(t, 1, p.Total)

	err = p.Vote([]int{1})
	assert.NoError(t, err)
	assert.Equal(t, 2, p.Results[1])
	assert.Equal(t, 2, p.Total)
}

func TestPollVoteValidation(t *testing.T) {
	p, _ := NewPoll("p1", "q", []string{"a", "b"}, "peer", false, false)

	assert.ErrorIs(t, p.Vote([]int{5}), ErrVoteOutOfRange)
	assert.ErrorIs(t, p.Vote([]int{-1}), ErrVoteOutOfRange)
	assert.ErrorIs(t, p.Vote(nil), ErrVoteEmptyBallot)
	// Single-choice poll rejects a multi-option ballot.
	assert.ErrorIs(t, p.Vote([]int{0, 1}), ErrVoteMultiple)
	assert.Equal(t, 0, p.Total)
}

func TestPollMultipleChoice(t *testing.T) {
	p, _ := NewPoll("p1", "q", []string{"a", "b", "c"}, "peer", false, true)

	err := p.Vote([]int{0, 2})
	assert.NoError(t, err)
	assert.Equal(t, 1, p.Results[0])
	assert.Equal(t, 0, p.Results[1])
	assert.Equal(t, 1, p.Results[2])
	assert.Equal(t, 1, p.Total)
}

func TestPollClose(t *testing.T) {
	p, _ := NewPoll("p1", "q", []string{"a", "b"}, "peer", false, false)
	assert.NoError(t, p.Vote([]int{1}))
	assert.NoError(t, p.Vote([]int{1}))

	p.Close()
	assert.False(t, p.Active)
	assert.Equal(t, 2, p.Total)
	assert.ErrorIs(t, p.Vote([]int{0}), ErrPollClosed)

	// Closing twice is harmless.
	p.Close()
	assert.False(t, p.Active)
}
