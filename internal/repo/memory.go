package repo

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/tidwall/sjson"

	"github.com/LeventeLantos/webhook-inbox/internal/model"
)

// MemoryStore keeps messages and contacts in process memory. It enforces
// the same uniqueness rules as the Postgres store and is safe for
// concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	nextID   int64
	messages []model.Message
	byExt    map[string]int
	contacts map[string]model.Contact
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byExt:    make(map[string]int),
		contacts: make(map[string]model.Contact),
		now:      time.Now,
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *MemoryStore) Close() {}

func (s *MemoryStore) FindMessage(ctx context.Context, key model.LookupKey) (model.Message, error) {
	if err := ctx.Err(); err != nil {
		return model.Message{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.findLocked(key)
	if !ok {
		return model.Message{}, ErrNotFound
	}
	return cloneMessage(s.messages[idx]), nil
}

func (s *MemoryStore) findLocked(key model.LookupKey) (int, bool) {
	best, bestRank := -1, -1
	for i, m := range s.messages {
		r := key.Rank(m)
		if r < 0 {
			continue
		}
		if best == -1 || r < bestRank {
			best, bestRank = i, r
		}
	}
	return best, best >= 0
}

func (s *MemoryStore) InsertMessage(ctx context.Context, m *model.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ExternalID != "" {
		if _, taken := s.byExt[m.ExternalID]; taken {
			return ErrDuplicate
		}
	}

	now := s.now().UTC()
	s.nextID++
	m.ID = s.nextID
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	if m.DeliveryState == "" {
		m.DeliveryState = model.Sent
	}
	if m.ContentKind == "" {
		m.ContentKind = model.DefaultContentKind
	}

	s.messages = append(s.messages, cloneMessage(*m))
	if m.ExternalID != "" {
		s.byExt[m.ExternalID] = len(s.messages) - 1
	}
	return nil
}

func (s *MemoryStore) ReplaceMessage(ctx context.Context, id int64, m model.Message) (model.Message, error) {
	if err := ctx.Err(); err != nil {
		return model.Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOfLocked(id)
	if idx < 0 {
		return model.Message{}, ErrNotFound
	}
	cur := s.messages[idx]

	if m.ExternalID == "" {
		m.ExternalID = cur.ExternalID
	}
	if m.MetaID == "" {
		m.MetaID = cur.MetaID
	}
	if m.ExternalID != cur.ExternalID {
		if other, taken := s.byExt[m.ExternalID]; taken && other != idx {
			return model.Message{}, ErrDuplicate
		}
		delete(s.byExt, cur.ExternalID)
		s.byExt[m.ExternalID] = idx
	}

	m.ID = cur.ID
	if m.CreatedAt.IsZero() {
		m.CreatedAt = cur.CreatedAt
	}
	m.UpdatedAt = s.now().UTC()
	s.messages[idx] = cloneMessage(m)
	return cloneMessage(m), nil
}

func (s *MemoryStore) SetDeliveryState(ctx context.Context, key model.LookupKey, state model.DeliveryState, note model.StatusAnnotation) (model.Message, error) {
	if err := ctx.Err(); err != nil {
		return model.Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.findLocked(key)
	if !ok {
		return model.Message{}, ErrNotFound
	}

	raw, err := appendAnnotation(s.messages[idx].RawOrigin, note)
	if err != nil {
		return model.Message{}, err
	}

	m := &s.messages[idx]
	m.DeliveryState = state
	m.RawOrigin = raw
	m.UpdatedAt = s.now().UTC()
	return cloneMessage(*m), nil
}

func (s *MemoryStore) MarkConversationRead(ctx context.Context, conversationID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	now := s.now().UTC()
	for i := range s.messages {
		m := &s.messages[i]
		if m.ConversationID != conversationID || m.Direction != model.Incoming || m.DeliveryState == model.Read {
			continue
		}
		m.DeliveryState = model.Read
		m.UpdatedAt = now
		n++
	}
	return n, nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, f MessageFilter) ([]model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]model.Message, 0, len(s.messages))
	for _, m := range s.messages {
		if f.ConversationID != "" && m.ConversationID != f.ConversationID {
			continue
		}
		out = append(out, cloneMessage(m))
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Stats(ctx context.Context) (model.Stats, error) {
	if err := ctx.Err(); err != nil {
		return model.Stats{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	st := model.Stats{
		Messages:    int64(len(s.messages)),
		Contacts:    int64(len(s.contacts)),
		ByDirection: make(map[model.Direction]int64),
		ByState:     make(map[model.DeliveryState]int64),
	}
	for _, m := range s.messages {
		st.ByDirection[m.Direction]++
		st.ByState[m.DeliveryState]++
	}
	return st, nil
}

func (s *MemoryStore) GetContact(ctx context.Context, conversationID string) (model.Contact, error) {
	if err := ctx.Err(); err != nil {
		return model.Contact{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contacts[conversationID]
	if !ok {
		return model.Contact{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) UpsertContact(ctx context.Context, c model.Contact) (model.Contact, error) {
	if err := ctx.Err(); err != nil {
		return model.Contact{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c.LastSeenAt.IsZero() {
		c.LastSeenAt = s.now().UTC()
	}
	if cur, ok := s.contacts[c.ConversationID]; ok {
		cur.DisplayName = c.DisplayName
		cur.Phone = c.Phone
		cur.LastSeenAt = c.LastSeenAt
		cur.IsOnline = cur.IsOnline || c.IsOnline
		if c.AvatarRef != nil {
			cur.AvatarRef = c.AvatarRef
		}
		c = cur
	}
	s.contacts[c.ConversationID] = c
	return c, nil
}

func (s *MemoryStore) EnsureContact(ctx context.Context, c model.Contact) (model.Contact, error) {
	if err := ctx.Err(); err != nil {
		return model.Contact{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.contacts[c.ConversationID]; ok {
		return cur, nil
	}
	if c.LastSeenAt.IsZero() {
		c.LastSeenAt = s.now().UTC()
	}
	s.contacts[c.ConversationID] = c
	return c, nil
}

func (s *MemoryStore) ListContacts(ctx context.Context) ([]model.Contact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]model.Contact, 0, len(s.contacts))
	for _, c := range s.contacts {
		out = append(out, c)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastSeenAt.Equal(out[j].LastSeenAt) {
			return out[i].ConversationID < out[j].ConversationID
		}
		return out[i].LastSeenAt.After(out[j].LastSeenAt)
	})
	return out, nil
}

func (s *MemoryStore) indexOfLocked(id int64) int {
	for i := range s.messages {
		if s.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func cloneMessage(m model.Message) model.Message {
	if m.RawOrigin != nil {
		m.RawOrigin = append(json.RawMessage(nil), m.RawOrigin...)
	}
	return m
}

// appendAnnotation adds note to the statusUpdates array of a raw origin
// bag, creating the bag when it is empty.
func appendAnnotation(raw json.RawMessage, note model.StatusAnnotation) (json.RawMessage, error) {
	b, err := json.Marshal(note)
	if err != nil {
		return nil, err
	}
	doc := []byte(raw)
	if len(doc) == 0 {
		doc = []byte(`{}`)
	}
	out, err := sjson.SetRawBytes(append([]byte(nil), doc...), "statusUpdates.-1", b)
	if err != nil {
		return nil, err
	}
	return out, nil
}
