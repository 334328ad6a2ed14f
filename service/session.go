package service

import (
	"context"
	"strconv"
	"sync"
	"time"

	"ballotbox/models"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
)

type sessionEntry struct {
	mu      sync.Mutex
	session models.VoterSession
	ended   bool
}

// SessionStore holds the live voter sessions of this process. Nothing is
// persisted: a restart logs every voter out.
type SessionStore struct {
	sessions cmap.ConcurrentMap[string, *sessionEntry]
	byVoter  cmap.ConcurrentMap[string, string]
	lifetime time.Duration
	now      func() time.Time
}

func NewSessionStore(lifetime time.Duration) *SessionStore {
	return &SessionStore{
		sessions: cmap.New[*sessionEntry](),
		byVoter:  cmap.New[string](),
		lifetime: lifetime,
		now:      time.Now,
	}
}

// Create starts a session for a checked-in voter. A previous session of the
// same voter is ended.
func (s *SessionStore) Create(voterNumber int64, ballotStyle string) models.VoterSession {
	now := s.now()
	session := models.VoterSession{
		ID:          uuid.NewString(),
		VoterNumber: voterNumber,
		BallotStyle: ballotStyle,
		State:       models.StateCheckedIn,
		CheckedInAt: now,
	}
	if s.lifetime > 0 {
		session.ExpiresAt = now.Add(s.lifetime)
	}

	s.sessions.Set(session.ID, &sessionEntry{session: session})

	var previous string
	s.byVoter.Upsert(strconv.FormatInt(voterNumber, 10), session.ID, func(exist bool, old, id string) string {
		if exist {
			previous = old
		}
		return id
	})
	if previous != "" && previous != session.ID {
		s.endEntry(previous)
	}
	return session
}

// Get returns a live session. Expired sessions are removed.
func (s *SessionStore) Get(id string) (models.VoterSession, bool) {
	e, ok := s.sessions.Get(id)
	if !ok {
		return models.VoterSession{}, false
	}

	e.mu.Lock()
	session, ended := e.session, e.ended
	e.mu.Unlock()

	if ended {
		return models.VoterSession{}, false
	}
	if session.Expired(s.now()) {
		s.End(id)
		return models.VoterSession{}, false
	}
	return session, true
}

// Advance records that the session reached state. The furthest state is
// kept, so a voter going back to the ballot does not lose it.
func (s *SessionStore) Advance(id string, state models.SessionState) bool {
	e, ok := s.sessions.Get(id)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ended {
		return false
	}
	if state > e.session.State {
		e.session.State = state
	}
	return true
}

// HoldSelections records that the selections token hashed to tokenHash was
// issued to the session. It replaces any earlier token.
func (s *SessionStore) HoldSelections(id, tokenHash string) bool {
	e, ok := s.sessions.Get(id)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ended {
		return false
	}
	if e.session.State < models.StateSelectionsHeld {
		e.session.State = models.StateSelectionsHeld
	}
	e.session.SelectionsHash = tokenHash
	return true
}

// End logs the session out.
func (s *SessionStore) End(id string) {
	e, ok := s.endEntry(id)
	if !ok {
		return
	}
	voter := strconv.FormatInt(e.VoterNumber, 10)
	s.byVoter.RemoveCb(voter, func(_ string, current string, exists bool) bool {
		return exists && current == id
	})
}

func (s *SessionStore) endEntry(id string) (models.VoterSession, bool) {
	e, ok := s.sessions.Pop(id)
	if !ok {
		return models.VoterSession{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ended = true
	return e.session, true
}

// Len is the number of sessions held, expired ones included until swept.
func (s *SessionStore) Len() int {
	return s.sessions.Count()
}

// Sweep removes expired sessions and returns how many it removed.
func (s *SessionStore) Sweep() int {
	now := s.now()
	var expired []string
	for item := range s.sessions.IterBuffered() {
		item.Val.mu.Lock()
		if item.Val.session.Expired(now) {
			expired = append(expired, item.Key)
		}
		item.Val.mu.Unlock()
	}
	for _, id := range expired {
		s.End(id)
	}
	return len(expired)
}

// StartSweeper runs Sweep every interval until ctx is done.
func (s *SessionStore) StartSweeper(ctx context.Context, interval time.Duration, onSweep func(removed int)) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.Sweep(); n > 0 && onSweep != nil {
					onSweep(n)
				}
			}
		}
	}()
}
