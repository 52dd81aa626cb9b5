package core

import "github.com/dkeye/Huddle/internal/domain"

func copyPoll(p *domain.Poll) domain.Poll {
	out := *p
	out.Options = append([]string(nil), p.Options...)
	out.Results = append([]int(nil), p.Results...)
	return out
}

func (r *Room) CreatePoll(p *domain.Poll) domain.Poll {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.polls[p.ID] = p
	r.pollOrder = append(r.pollOrder, p.ID)
	return copyPoll(p)
}

// Vote applies a ballot and returns the updated tally, never the
// ballot itself.
func (r *Room) Vote(pollID string, options []int) (domain.Poll, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.polls[pollID]
	if !ok {
		return domain.Poll{}, domain.NotFoundf("unknown poll %s", pollID)
	}
	if err := p.Vote(options); err != nil {
		return domain.Poll{}, domain.Protocolf("vote on poll %s: %v", pollID, err)
	}
	return copyPoll(p), nil
}

// ClosePoll freezes the tally. Any room member may close any poll.
func (r *Room) ClosePoll(pollID string) (domain.Poll, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.polls[pollID]
	if !ok {
		return domain.Poll{}, domain.NotFoundf("unknown poll %s", pollID)
	}
	p.Close()
	return copyPoll(p), nil
}

func (r *Room) AppendStroke(s domain.Stroke) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.board.Append(s)
}

// UndoStroke removes the most recently appended stroke room-wide.
func (r *Room) UndoStroke() (domain.Stroke, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.board.Undo()
}

func (r *Room) ClearBoard() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.board.Clear()
}

// SetNotes overwrites the shared note, last writer wins.
func (r *Room) SetNotes(content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = content
}

func (r *Room) Notes() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.notes
}

func (r *Room) SetPresenting(st domain.PresentingState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presenting[st.Surface] = st
}
