package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"retail-ops/support-chat/internal/models"
)

type fakeSessions struct {
	mu   sync.Mutex
	data map[primitive.ObjectID]models.ChatSession
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{data: map[primitive.ObjectID]models.ChatSession{}}
}

func (f *fakeSessions) put(s models.ChatSession) models.ChatSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.ID.IsZero() {
		s.ID = primitive.NewObjectID()
	}
	f.data[s.ID] = s.Clone()
	return s
}

func (f *fakeSessions) Create(_ context.Context, s *models.ChatSession) error {
	s.ID = primitive.NewObjectID()
	s.Mode = models.ModeAI
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	f.put(*s)
	return nil
}

func (f *fakeSessions) GetByID(_ context.Context, id primitive.ObjectID) (*models.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.data[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	c := s.Clone()
	return &c, nil
}

func (f *fakeSessions) list(keep func(models.ChatSession) bool) []models.ChatSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.ChatSession{}
	for _, s := range f.data {
		if keep(s) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Hex() < out[j].ID.Hex() })
	return out
}

func (f *fakeSessions) ListByMode(_ context.Context, mode models.SessionMode) ([]models.ChatSession, error) {
	return f.list(func(s models.ChatSession) bool { return s.Mode == mode }), nil
}

func (f *fakeSessions) ListAssigned(_ context.Context, staffID string) ([]models.ChatSession, error) {
	return f.list(func(s models.ChatSession) bool { return s.AssignedTo(staffID) }), nil
}

func (f *fakeSessions) ListByCustomer(_ context.Context, customerID string) ([]models.ChatSession, error) {
	return f.list(func(s models.ChatSession) bool { return s.CustomerID == customerID }), nil
}

func (f *fakeSessions) update(id primitive.ObjectID, match func(models.ChatSession) bool, fn func(*models.ChatSession)) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.data[id]
	if !ok || !match(s) {
		return false
	}
	fn(&s)
	f.data[id] = s
	return true
}

func (f *fakeSessions) MarkWaiting(_ context.Context, id primitive.ObjectID) (bool, error) {
	return f.update(id,
		func(s models.ChatSession) bool { return s.Mode == models.ModeAI },
		func(s *models.ChatSession) { s.Mode = models.ModeWaitingStaff }), nil
}

func (f *fakeSessions) Claim(_ context.Context, id primitive.ObjectID, staffID string) (bool, error) {
	return f.update(id,
		func(s models.ChatSession) bool { return s.Mode == models.ModeWaitingStaff && s.AssignedStaffID == nil },
		func(s *models.ChatSession) {
			s.Mode = models.ModeStaffConnected
			s.AssignedStaffID = models.StringPtr(staffID)
		}), nil
}

func (f *fakeSessions) Release(_ context.Context, id primitive.ObjectID, staffID string) (bool, error) {
	return f.update(id,
		func(s models.ChatSession) bool { return s.Mode == models.ModeStaffConnected && s.AssignedTo(staffID) },
		func(s *models.ChatSession) {
			s.Mode = models.ModeAI
			s.AssignedStaffID = nil
			s.LastStaffID = staffID
		}), nil
}

func (f *fakeSessions) FindPrior(_ context.Context, customerID, staffID string, exclude primitive.ObjectID) (*models.ChatSession, error) {
	list := f.list(func(s models.ChatSession) bool {
		return s.ID != exclude && s.CustomerID == customerID && s.LastStaffID == staffID && s.Mode == models.ModeAI
	})
	if len(list) == 0 {
		return nil, models.ErrNotFound
	}
	return &list[0], nil
}

func (f *fakeSessions) Absorb(_ context.Context, target primitive.ObjectID, staffID string, unread int, last *models.LastMessage) (bool, error) {
	return f.update(target,
		func(s models.ChatSession) bool { return s.Mode == models.ModeAI },
		func(s *models.ChatSession) {
			s.Mode = models.ModeStaffConnected
			s.AssignedStaffID = models.StringPtr(staffID)
			s.UnreadCount += unread
			if last != nil {
				s.LastMessage = last
			}
		}), nil
}

func (f *fakeSessions) SetLastMessage(_ context.Context, id primitive.ObjectID, last *models.LastMessage, unreadInc int) error {
	ok := f.update(id, func(models.ChatSession) bool { return true }, func(s *models.ChatSession) {
		s.LastMessage = last
		s.UnreadCount += unreadInc
	})
	if !ok {
		return models.ErrNotFound
	}
	return nil
}

func (f *fakeSessions) ResetUnread(_ context.Context, id primitive.ObjectID) error {
	if !f.update(id, func(models.ChatSession) bool { return true }, func(s *models.ChatSession) { s.UnreadCount = 0 }) {
		return models.ErrNotFound
	}
	return nil
}

func (f *fakeSessions) Delete(_ context.Context, id primitive.ObjectID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[id]; !ok {
		return models.ErrNotFound
	}
	delete(f.data, id)
	return nil
}

type fakeMessages struct {
	mu    sync.Mutex
	data  []models.ChatMessage
	clock time.Time
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{clock: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (f *fakeMessages) Create(_ context.Context, m *models.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m.ID.IsZero() {
		m.ID = primitive.NewObjectID()
	}
	f.clock = f.clock.Add(time.Second)
	m.CreatedAt = f.clock
	f.data = append(f.data, m.Clone())
	return nil
}

func (f *fakeMessages) GetByID(_ context.Context, id primitive.ObjectID) (*models.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.data {
		if m.ID == id {
			c := m.Clone()
			return &c, nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeMessages) filter(keep func(models.ChatMessage) bool) []models.ChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.ChatMessage{}
	for _, m := range f.data {
		if keep(m) {
			out = append(out, m.Clone())
		}
	}
	return out
}

func (f *fakeMessages) ListBySession(_ context.Context, sessionID primitive.ObjectID) ([]models.ChatMessage, error) {
	return f.filter(func(m models.ChatMessage) bool { return m.ChatID == sessionID && !m.IsDeleted }), nil
}

func (f *fakeMessages) Search(_ context.Context, sessionID primitive.ObjectID, query string) ([]models.ChatMessage, error) {
	q := strings.ToLower(query)
	return f.filter(func(m models.ChatMessage) bool {
		return m.ChatID == sessionID && !m.IsDeleted && strings.Contains(strings.ToLower(m.Content), q)
	}), nil
}

func (f *fakeMessages) each(id primitive.ObjectID, fn func(*models.ChatMessage)) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.data {
		if f.data[i].ID == id && !f.data[i].IsDeleted {
			fn(&f.data[i])
			return true
		}
	}
	return false
}

func (f *fakeMessages) UpdateContent(_ context.Context, id primitive.ObjectID, content string, at time.Time) error {
	if !f.each(id, func(m *models.ChatMessage) {
		m.Content = content
		m.IsEdited = true
		m.UpdatedAt = &at
	}) {
		return models.ErrNotFound
	}
	return nil
}

func (f *fakeMessages) SoftDelete(_ context.Context, id primitive.ObjectID) error {
	if !f.each(id, func(m *models.ChatMessage) { m.IsDeleted = true }) {
		return models.ErrNotFound
	}
	return nil
}

func (f *fakeMessages) Latest(ctx context.Context, sessionID primitive.ObjectID) (*models.ChatMessage, error) {
	list, _ := f.ListBySession(ctx, sessionID)
	if len(list) == 0 {
		return nil, nil
	}
	last := list[len(list)-1]
	return &last, nil
}

func (f *fakeMessages) Reassign(_ context.Context, from, to primitive.ObjectID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.data {
		if f.data[i].ChatID == from {
			f.data[i].ChatID = to
		}
	}
	return nil
}

func (f *fakeMessages) DeleteBySession(_ context.Context, sessionID primitive.ObjectID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.data[:0]
	for _, m := range f.data {
		if m.ChatID != sessionID {
			kept = append(kept, m)
		}
	}
	f.data = kept
	return nil
}

type prefKey struct {
	staff   string
	session primitive.ObjectID
}

type fakePrefs struct {
	mu   sync.Mutex
	data map[prefKey]models.SessionPreference
}

func newFakePrefs() *fakePrefs {
	return &fakePrefs{data: map[prefKey]models.SessionPreference{}}
}

func (f *fakePrefs) ForStaff(_ context.Context, staffID string, ids []primitive.ObjectID) (map[primitive.ObjectID]models.SessionPreference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[primitive.ObjectID]models.SessionPreference{}
	for _, id := range ids {
		if p, ok := f.data[prefKey{staffID, id}]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (f *fakePrefs) set(staffID string, id primitive.ObjectID, fn func(*models.SessionPreference)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := prefKey{staffID, id}
	p := f.data[k]
	p.StaffID, p.SessionID = staffID, id
	fn(&p)
	f.data[k] = p
}

func (f *fakePrefs) SetPinned(_ context.Context, staffID string, id primitive.ObjectID, pinned bool) error {
	f.set(staffID, id, func(p *models.SessionPreference) { p.Pinned = pinned })
	return nil
}

func (f *fakePrefs) SetMuted(_ context.Context, staffID string, id primitive.ObjectID, muted bool) error {
	f.set(staffID, id, func(p *models.SessionPreference) { p.Muted = muted })
	return nil
}

func (f *fakePrefs) DeleteBySession(_ context.Context, id primitive.ObjectID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k := range f.data {
		if k.session == id {
			delete(f.data, k)
		}
	}
	return nil
}

type fakeQueue struct {
	mu          sync.Mutex
	cached      []models.ChatSession
	hit         bool
	invalidated int
}

func (f *fakeQueue) GetWaiting(context.Context) ([]models.ChatSession, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hit {
		return nil, false
	}
	out := make([]models.ChatSession, len(f.cached))
	copy(out, f.cached)
	return out, true
}

func (f *fakeQueue) SetWaiting(_ context.Context, list []models.ChatSession) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cached = make([]models.ChatSession, len(list))
	copy(f.cached, list)
	f.hit = true
}

func (f *fakeQueue) Invalidate(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cached, f.hit = nil, false
	f.invalidated++
}

type fakeEvents struct {
	mu     sync.Mutex
	events []SupportEvent
}

func (f *fakeEvents) Publish(_ context.Context, e SupportEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func (f *fakeEvents) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		out = append(out, e.EventType)
	}
	return out
}

type fakeIdempotency struct {
	mu   sync.Mutex
	keys map[string]primitive.ObjectID
}

func (f *fakeIdempotency) Reserve(_ context.Context, key string, id primitive.ObjectID) (primitive.ObjectID, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys == nil {
		f.keys = map[string]primitive.ObjectID{}
	}
	if prev, ok := f.keys[key]; ok {
		return prev, false, nil
	}
	f.keys[key] = id
	return id, true, nil
}

func (f *fakeIdempotency) Release(_ context.Context, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys, key)
}

type stubResponder struct {
	reply string
	err   error
}

func (s stubResponder) Reply(context.Context, []models.ChatMessage) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

var errModelDown = errors.New("model unavailable")
