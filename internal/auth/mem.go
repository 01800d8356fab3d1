package auth

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemory is a Store backed by maps, used in tests and single-node
// development setups. Promote and Consume take the same mutex as every
// other operation, which gives the exactly-one-winner behavior the
// interface demands.
type InMemory struct {
	mu            sync.Mutex
	users         map[string]*User
	registrations map[string]*PendingRegistration
	challenges    map[string]*LoginChallenge
	resets        map[string]*PasswordResetChallenge
	sessions      map[string]*Session
}

func NewInMemory() *InMemory {
	return &InMemory{
		users:         make(map[string]*User),
		registrations: make(map[string]*PendingRegistration),
		challenges:    make(map[string]*LoginChallenge),
		resets:        make(map[string]*PasswordResetChallenge),
		sessions:      make(map[string]*Session),
	}
}

// SeedUser inserts a user directly, bypassing the registration flow.
// Intended for development bootstrap and test fixtures.
func (m *InMemory) SeedUser(u *User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.ID] = &cp
}

func (m *InMemory) Users(context.Context) UserStore                     { return (*memUsers)(m) }
func (m *InMemory) Registrations(context.Context) RegistrationStore     { return (*memRegs)(m) }
func (m *InMemory) LoginChallenges(context.Context) LoginChallengeStore { return (*memChallenges)(m) }
func (m *InMemory) PasswordResets(context.Context) PasswordResetStore   { return (*memResets)(m) }
func (m *InMemory) Sessions(context.Context) SessionStore               { return (*memSessions)(m) }

type memUsers InMemory

func (m *memUsers) Find(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) FindByIdentifier(_ context.Context, identifier string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == identifier || u.Phone == identifier {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) ExistsByEmailOrPhone(_ context.Context, email, phone string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email || u.Phone == phone {
			return true, nil
		}
	}
	return false, nil
}

func (m *memUsers) List(_ context.Context) ([]*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memUsers) ListPending(_ context.Context) ([]*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*User
	for _, u := range m.users {
		if !u.IsApproved {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memUsers) Approve(_ context.Context, userID, adminID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return false, ErrNotFound
	}
	if u.IsApproved {
		return false, nil
	}
	u.IsApproved = true
	u.ApprovedAt = &at
	u.ApprovedBy = &adminID
	u.UpdatedAt = at
	return true, nil
}

func (m *memUsers) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (m *memUsers) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return ErrNotFound
	}
	delete(m.users, id)
	for sid, s := range m.sessions {
		if s.UserID == id {
			delete(m.sessions, sid)
		}
	}
	return nil
}

type memRegs InMemory

func (m *memRegs) Replace(_ context.Context, reg *PendingRegistration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.registrations {
		if r.Email == reg.Email || r.Phone == reg.Phone {
			delete(m.registrations, id)
		}
	}
	cp := *reg
	m.registrations[reg.ID] = &cp
	return nil
}

func (m *memRegs) FindNewestByEmail(_ context.Context, email string) (*PendingRegistration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var newest *PendingRegistration
	for _, r := range m.registrations {
		if r.Email != email {
			continue
		}
		if newest == nil || r.CreatedAt.After(newest.CreatedAt) {
			newest = r
		}
	}
	if newest == nil {
		return nil, ErrNotFound
	}
	cp := *newest
	return &cp, nil
}

func (m *memRegs) UpdateOTP(_ context.Context, id, code string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.registrations[id]
	if !ok {
		return ErrNotFound
	}
	r.OTPCode = code
	r.OTPExpiresAt = expiresAt
	return nil
}

func (m *memRegs) Promote(_ context.Context, regID string, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.registrations[regID]; !ok {
		return ErrNotFound
	}
	delete(m.registrations, regID)
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memRegs) DeleteExpired(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.registrations {
		if r.OTPExpiresAt.Before(cutoff) {
			delete(m.registrations, id)
			n++
		}
	}
	return n, nil
}

type memChallenges InMemory

func (m *memChallenges) Replace(_ context.Context, ch *LoginChallenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.challenges {
		if c.UserID == ch.UserID {
			delete(m.challenges, id)
		}
	}
	cp := *ch
	m.challenges[ch.ID] = &cp
	return nil
}

func (m *memChallenges) FindByUserID(_ context.Context, userID string) (*LoginChallenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.challenges {
		if c.UserID == userID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memChallenges) UpdateOTP(_ context.Context, id, code string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.challenges[id]
	if !ok {
		return ErrNotFound
	}
	c.OTPCode = code
	c.OTPExpiresAt = expiresAt
	return nil
}

func (m *memChallenges) Promote(_ context.Context, challengeID string, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.challenges[challengeID]; !ok {
		return ErrNotFound
	}
	delete(m.challenges, challengeID)
	for sid, sess := range m.sessions {
		if sess.UserID == s.UserID {
			delete(m.sessions, sid)
		}
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *memChallenges) DeleteExpired(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, c := range m.challenges {
		if c.OTPExpiresAt.Before(cutoff) {
			delete(m.challenges, id)
			n++
		}
	}
	return n, nil
}

type memResets InMemory

func (m *memResets) Replace(_ context.Context, ch *PasswordResetChallenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.resets {
		if c.Email == ch.Email {
			delete(m.resets, id)
		}
	}
	cp := *ch
	m.resets[ch.ID] = &cp
	return nil
}

func (m *memResets) FindByEmail(_ context.Context, email string) (*PasswordResetChallenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var newest *PasswordResetChallenge
	for _, c := range m.resets {
		if c.Email != email {
			continue
		}
		if newest == nil || c.CreatedAt.After(newest.CreatedAt) {
			newest = c
		}
	}
	if newest == nil {
		return nil, ErrNotFound
	}
	cp := *newest
	return &cp, nil
}

func (m *memResets) MarkVerified(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.resets[id]
	if !ok {
		return ErrNotFound
	}
	c.IsVerified = true
	return nil
}

func (m *memResets) UpdateOTP(_ context.Context, id, code string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.resets[id]
	if !ok {
		return ErrNotFound
	}
	c.OTPCode = code
	c.OTPExpiresAt = expiresAt
	c.IsVerified = false
	return nil
}

func (m *memResets) Consume(_ context.Context, id, userID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.resets[id]
	if !ok || c.Used {
		return ErrNotFound
	}
	c.Used = true
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	for sid, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, sid)
		}
	}
	return nil
}

func (m *memResets) DeleteExpired(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, c := range m.resets {
		if c.OTPExpiresAt.Before(cutoff) {
			delete(m.resets, id)
			n++
		}
	}
	return n, nil
}

type memSessions InMemory

func (m *memSessions) FindByToken(_ context.Context, token string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.Token == token {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memSessions) DeleteByToken(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.Token == token {
			delete(m.sessions, id)
		}
	}
	return nil
}

func (m *memSessions) DeleteByUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, id)
		}
	}
	return nil
}

func (m *memSessions) DeleteExpired(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if s.ExpiresAt.Before(cutoff) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}
