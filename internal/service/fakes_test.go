package service

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/toolhub/hubauth/internal/mail"
	"github.com/toolhub/hubauth/internal/model"
	appErr "github.com/toolhub/hubauth/internal/pkg/errors"
)

var errStoreDown = errors.New("connection refused")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memoryUsers struct {
	mu      sync.Mutex
	users   map[int64]*model.User
	err     error
	lookups int
}

func newMemoryUsers(users ...*model.User) *memoryUsers {
	m := &memoryUsers{users: map[int64]*model.User{}}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *memoryUsers) GetByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	if m.err != nil {
		return nil, m.err
	}
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, appErr.ErrNotFound
}

func (m *memoryUsers) GetByID(_ context.Context, id int64) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	u, ok := m.users[id]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memoryUsers) UpdatePassword(_ context.Context, id int64, hash string, mtime int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return appErr.ErrNotFound
	}
	u.PasswordHash = hash
	u.UpdatedAt = mtime
	return nil
}

func (m *memoryUsers) setRole(id int64, role model.Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id].Role = role
}

type memorySessions struct {
	mu       sync.Mutex
	users    *memoryUsers
	sessions map[string]*model.Session
	err      error
}

func newMemorySessions(users *memoryUsers) *memorySessions {
	return &memorySessions{users: users, sessions: map[string]*model.Session{}}
}

func (m *memorySessions) Create(_ context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *memorySessions) GetWithUser(ctx context.Context, id string) (*model.SessionWithUser, error) {
	m.mu.Lock()
	if m.err != nil {
		m.mu.Unlock()
		return nil, m.err
	}
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, appErr.ErrNotFound
	}
	u, err := m.users.GetByID(ctx, s.UserID)
	if err != nil {
		return nil, err
	}
	cp := *s
	return &model.SessionWithUser{Session: &cp, User: u.SessionView()}, nil
}

func (m *memorySessions) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	delete(m.sessions, id)
	return nil
}

func (m *memorySessions) DeleteByUser(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, id)
		}
	}
	return nil
}

func (m *memorySessions) DeleteExpired(_ context.Context, now int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if s.ExpiresAt <= now {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func (m *memorySessions) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// memoryCodes mirrors the SQL semantics of repo.VerificationCodeRepo.
type memoryCodes struct {
	mu    sync.Mutex
	codes []*model.VerificationCode
}

func (m *memoryCodes) Create(_ context.Context, c *model.VerificationCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.codes = append(m.codes, &cp)
	return nil
}

func (m *memoryCodes) activeLocked(userID int64, typ model.VerificationType, now int64) []*model.VerificationCode {
	var out []*model.VerificationCode
	for _, c := range m.codes {
		if c.UserID == userID && c.Type == typ && c.ConsumedAt == nil && c.ExpiresAt > now {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out
}

func (m *memoryCodes) LatestActive(_ context.Context, userID int64, typ model.VerificationType, now int64) (*model.VerificationCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	active := m.activeLocked(userID, typ, now)
	if len(active) == 0 {
		return nil, appErr.ErrNotFound
	}
	cp := *active[0]
	return &cp, nil
}

func (m *memoryCodes) FindMatch(_ context.Context, userID int64, typ model.VerificationType, code string, now int64) (*model.VerificationCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.activeLocked(userID, typ, now) {
		if c.Code == code {
			cp := *c
			return &cp, nil
		}
	}
	return nil, appErr.ErrNotFound
}

func (m *memoryCodes) IncrementLatestAttempts(_ context.Context, userID int64, typ model.VerificationType, now int64, lockAt int, lockUntil int64) (*model.AttemptResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	active := m.activeLocked(userID, typ, now)
	if len(active) == 0 {
		return nil, appErr.ErrNotFound
	}
	c := active[0]
	c.AttemptCount++
	ts := now
	c.LastAttemptAt = &ts
	if c.AttemptCount >= lockAt {
		until := lockUntil
		c.LockedUntil = &until
	}
	return &model.AttemptResult{Count: c.AttemptCount, LockedUntil: c.LockedUntil}, nil
}

func (m *memoryCodes) find(id string) *model.VerificationCode {
	for _, c := range m.codes {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (m *memoryCodes) Lock(_ context.Context, id string, until int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.find(id)
	if c == nil {
		return appErr.ErrNotFound
	}
	c.LockedUntil = &until
	return nil
}

func (m *memoryCodes) Consume(_ context.Context, id string, now int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.find(id)
	if c == nil {
		return appErr.ErrNotFound
	}
	c.ConsumedAt = &now
	return nil
}

func (m *memoryCodes) Purge(_ context.Context, now, consumedBefore int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.codes[:0]
	var n int64
	for _, c := range m.codes {
		if c.ExpiresAt <= now || (c.ConsumedAt != nil && *c.ConsumedAt < consumedBefore) {
			n++
			continue
		}
		kept = append(kept, c)
	}
	m.codes = kept
	return n, nil
}

func (m *memoryCodes) latestFor(userID int64, typ model.VerificationType) *model.VerificationCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.codes) - 1; i >= 0; i-- {
		if m.codes[i].UserID == userID && m.codes[i].Type == typ {
			cp := *m.codes[i]
			return &cp
		}
	}
	return nil
}

type stubProbe struct {
	mu    sync.Mutex
	avail Availability
	calls int
}

func (p *stubProbe) Probe(context.Context) Availability {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.avail
}

func (p *stubProbe) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (m *memoryUsers) lookupCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookups
}

func (p *stubProbe) set(a Availability) {
	p.mu.Lock()
	p.avail = a
	p.mu.Unlock()
}

type activityEntry struct {
	UserID   *int64
	Action   string
	Metadata map[string]interface{}
}

type recordingActivity struct {
	mu      sync.Mutex
	entries []activityEntry
}

func (r *recordingActivity) Log(_ context.Context, userID *int64, action string, metadata map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, activityEntry{UserID: userID, Action: action, Metadata: metadata})
}

func (r *recordingActivity) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

func (r *recordingActivity) last() activityEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[len(r.entries)-1]
}

type recordingSender struct {
	mu   sync.Mutex
	sent []mail.Mail
	err  error
}

func (s *recordingSender) Send(_ context.Context, m mail.Mail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, m)
	return s.err
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *recordingSender) last() mail.Mail {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[len(s.sent)-1]
}

var mailCodeRe = regexp.MustCompile(`\*\*([A-Za-z0-9]+)\*\*`)

func codeFromMail(t *testing.T, m mail.Mail) string {
	t.Helper()
	match := mailCodeRe.FindStringSubmatch(m.Text)
	require.Len(t, match, 2, "no code in mail: %s", m.Text)
	return match[1]
}
