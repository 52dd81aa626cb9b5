package domain

import "errors"

var (
	ErrPollClosed      = errors.New("poll is closed")
	ErrPollNoOptions   = errors.New("poll needs at least two options")
	ErrVoteOutOfRange  = errors.New("vote option out of range")
	ErrVoteMultiple    = errors.New("poll is single-choice")
	ErrVoteEmptyBallot = errors.New("empty ballot")
)

type Poll struct {
	ID        string   `json:"id"`
	Question  string   `json:"question"`
	Options   []string `json:"options"`
	CreatedBy string   `json:"created_by"`
	Anonymous bool     `json:"anonymous"`
	Multiple  bool     `json:"multiple"`
	Results   []int    `json:"results"`
	Total     int      `json:"total_votes"`
	Active    bool     `json:"active"`
}

func NewPoll(id, question string, options []string, createdBy string, anonymous, multiple bool) (*Poll, error) {
	if len(options) < 2 {
		return nil, ErrPollNoOptions
	}
	return &Poll{
		ID:        id,
		Question:  question,
		Options:   options,
		CreatedBy: createdBy,
		Anonymous: anonymous,
		Multiple:  multiple,
		Results:   make([]int, len(options)),
		Active:    true,
	}, nil
}

// Vote applies one ballot. Only the per-option counters are kept, so
// anonymity costs nothing.
func (p *Poll) Vote(options []int) error {
	if !p.Active {
		return ErrPollClosed
	}
	if len(options) == 0 {
		return ErrVoteEmptyBallot
	}
	if !p.Multiple && len(options) > 1 {
		return ErrVoteMultiple
	}
	for _, i := range options {
		if i < 0 || i >= len(p.Options) {
			return ErrVoteOutOfRange
		}
	}
	for _, i := range options {
		p.Results[i]++
	}
	p.Total++
	return nil
}

// Close freezes the tally. Closing an already-closed poll is a no-op.
func (p *Poll) Close() {
	p.Active = false
}
