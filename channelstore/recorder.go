package channelstore

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strawpay/stroem-consumerj/issuer"
)

// Recorder is an issuer.Snapshotter that stores a channel when a session
// first reaches CONNECTION_OPEN. Later returns to CONNECTION_OPEN, after a
// failed increment, are not recorded. Fields set by the user on an existing
// record are kept. A Recorder may be shared by sessions.
type Recorder struct {
	Store     *Store
	IssuerURI string

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	mu       sync.Mutex
	recorded map[uuid.UUID]struct{}
}

// firstOpen reports whether s is the first open snapshot of its session, and
// forgets closed sessions.
func (r *Recorder) firstOpen(s issuer.Snapshot) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.Step == issuer.StepConnectionClosed {
		delete(r.recorded, s.SessionID)
		return false
	}
	if s.Step != issuer.StepConnectionOpen {
		return false
	}
	if _, ok := r.recorded[s.SessionID]; ok {
		return false
	}
	if r.recorded == nil {
		r.recorded = map[uuid.UUID]struct{}{}
	}
	r.recorded[s.SessionID] = struct{}{}
	return true
}

var _ issuer.Snapshotter = (*Recorder)(nil)

func (r *Recorder) Snapshot(c *issuer.Conn, s issuer.Snapshot) {
	if !r.firstOpen(s) || s.Issuer == nil {
		return
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}

	ch, err := r.Store.Get(s.ServerID)
	if errors.Is(err, ErrNotFound) {
		ch = Channel{ServerID: s.ServerID, OpenedAt: now().UTC()}
	} else if err != nil {
		log.Errorf("%v: reading channel %v: %v", c.ID(), s.ServerID, err)
		return
	}
	if s.FreshChannel {
		ch.OpenedAt = now().UTC()
	}
	if r.IssuerURI != "" {
		ch.IssuerURI = r.IssuerURI
	}
	ch.IssuerName = s.Issuer.Name
	ch.IssuerPublicKey = s.Issuer.PublicKey
	ch.MaxValue = s.MaxValue
	ch.Timeout = s.ChannelTimeout

	err = r.Store.Put(ch)
	if err != nil {
		log.Errorf("%v: %v", c.ID(), err)
		return
	}
	log.Debugf("%v: recorded channel %v with issuer %q", c.ID(), s.ServerID, ch.IssuerName)
}
