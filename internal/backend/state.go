package backend

import "github.com/bnema/waykms/internal/drm"

// KMSState is one commit's worth of display state. Once handed to
// stateSlots.submit it is not modified again.
type KMSState struct {
	CrtcID      uint32
	Active      bool
	Mode        *drm.ModeInfo
	ModeChanged bool
	Image       *SwapImage
	FbID        uint32

	// modeBlob is the MODE_ID blob this state was committed with (atomic only).
	modeBlob uint32
}

// stateSlots holds the pending, next and current states of a display. Every
// transition moves the state pointer and clears the source slot, so no two
// slots ever reference the same state.
type stateSlots struct {
	pending *KMSState
	next    *KMSState
	current *KMSState

	// inFlight counts submitted commits awaiting their page flip.
	inFlight int
}

// stage replaces the pending state and returns the one it displaced.
func (s *stateSlots) stage(st *KMSState) *KMSState {
	old := s.pending
	s.pending = st
	return old
}

// submit moves pending into next. It fails while a commit is in flight.
func (s *stateSlots) submit() (*KMSState, error) {
	if s.next != nil {
		return nil, ErrCommitInFlight
	}
	st := s.pending
	s.pending = nil
	s.next = st
	if st != nil {
		s.inFlight++
	}
	return st, nil
}

// retire promotes next into current and returns the state it replaced.
func (s *stateSlots) retire() (old *KMSState, ok bool) {
	if s.next == nil {
		return nil, false
	}
	old = s.current
	s.current = s.next
	s.next = nil
	s.inFlight = 0
	return old, true
}

// rollback drops the in-flight state, leaving current untouched.
func (s *stateSlots) rollback() *KMSState {
	st := s.next
	s.next = nil
	s.inFlight = 0
	return st
}

// clear empties every slot and returns the states that were held.
func (s *stateSlots) clear() []*KMSState {
	var out []*KMSState
	for _, st := range []*KMSState{s.pending, s.next, s.current} {
		if st != nil {
			out = append(out, st)
		}
	}
	*s = stateSlots{}
	return out
}
