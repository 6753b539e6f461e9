package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. All data is lost on restart.
type MemoryStore struct {
	mu sync.RWMutex

	users         map[int64]*User
	conversations map[int64]*Conversation
	messages      map[int64]*Message
	settings      map[string]*Setting
	keywords      map[int64]*BlockedKeyword
	models        map[int64]*Model

	// Last id handed out per table, like an AUTOINCREMENT sequence.
	seq    map[string]int64
	closed bool
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[int64]*User),
		conversations: make(map[int64]*Conversation),
		messages:      make(map[int64]*Message),
		settings:      make(map[string]*Setting),
		keywords:      make(map[int64]*BlockedKeyword),
		models:        make(map[int64]*Model),
		seq:           make(map[string]int64),
	}
}

// id returns the next id for table. Callers hold mu.
func (s *MemoryStore) id(table string) int64 {
	s.seq[table]++
	return s.seq[table]
}

func (s *MemoryStore) CreateUser(ctx context.Context, username, passwordHash string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username == username {
			return nil, ErrConflict
		}
	}

	u := &User{
		ID:           s.id("users"),
		Username:     username,
		PasswordHash: passwordHash,
		IsAdmin:      len(s.users) == 0,
		IsActive:     true,
		Quota:        DefaultQuota,
		CreatedAt:    time.Now().UTC(),
	}
	s.users[u.ID] = u
	return copyUser(u), nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id int64) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

func (s *MemoryStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Username == username {
			return copyUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListUsers(ctx context.Context) ([]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, copyUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdateUser(ctx context.Context, id int64, update UserUpdate) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if update.IsActive != nil {
		u.IsActive = *update.IsActive
	}
	if update.Quota != nil {
		u.Quota = *update.Quota
	}
	if update.IsAdmin != nil {
		u.IsAdmin = *update.IsAdmin
	}
	return copyUser(u), nil
}

func (s *MemoryStore) CountUsers(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}

func (s *MemoryStore) IncrementUsage(ctx context.Context, id int64) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	u.UsageCount++
	return copyUser(u), nil
}

func (s *MemoryStore) ResetUsage(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, u := range s.users {
		if u.UsageCount != 0 {
			u.UsageCount = 0
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) TouchLogin(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	u.LastLogin = &now
	return nil
}

func (s *MemoryStore) ListConversations(ctx context.Context, userID int64) ([]*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Conversation, 0)
	for _, c := range s.conversations {
		if c.UserID == userID {
			cp := *c
			out = append(out, &cp)
		}
	}
	// Newest first.
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *MemoryStore) CreateConversation(ctx context.Context, userID int64, title string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := &Conversation{ID: s.id("conversations"), Title: title, UserID: userID, CreatedAt: time.Now().UTC()}
	s.conversations[c.ID] = c
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) UpdateConversation(ctx context.Context, id int64, title string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	c.Title = title
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) DeleteConversation(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return ErrNotFound
	}
	delete(s.conversations, id)
	for mid, m := range s.messages {
		if m.ConversationID == id {
			delete(s.messages, mid)
		}
	}
	return nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, conversationID int64) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Message, 0)
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) CreateMessage(ctx context.Context, conversationID int64, role, content string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return nil, ErrNotFound
	}
	m := &Message{ID: s.id("messages"), ConversationID: conversationID, Role: role, Content: content, CreatedAt: time.Now().UTC()}
	s.messages[m.ID] = m
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) GetSetting(ctx context.Context, key string) (*Setting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.settings[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (s *MemoryStore) PutSetting(ctx context.Context, key, value string, userID *int64) (*Setting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	st, ok := s.settings[key]
	if ok {
		st.Value = value
		st.UpdatedAt = now
	} else {
		st = &Setting{ID: s.id("settings"), Key: key, Value: value, UserID: userID, CreatedAt: now, UpdatedAt: now}
		s.settings[key] = st
	}
	cp := *st
	return &cp, nil
}

func (s *MemoryStore) ListKeywords(ctx context.Context) ([]*BlockedKeyword, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*BlockedKeyword, 0, len(s.keywords))
	for _, k := range s.keywords {
		cp := *k
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) CreateKeyword(ctx context.Context, keyword string, createdBy *int64) (*BlockedKeyword, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keyword = strings.ToLower(strings.TrimSpace(keyword))
	for _, k := range s.keywords {
		if k.Keyword == keyword {
			return nil, ErrConflict
		}
	}
	k := &BlockedKeyword{ID: s.id("blocked_keywords"), Keyword: keyword, CreatedAt: time.Now().UTC(), CreatedBy: createdBy}
	s.keywords[k.ID] = k
	cp := *k
	return &cp, nil
}

func (s *MemoryStore) DeleteKeyword(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keywords[id]; !ok {
		return ErrNotFound
	}
	delete(s.keywords, id)
	return nil
}

func (s *MemoryStore) ListModels(ctx context.Context) ([]*Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Model, 0, len(s.models))
	for _, m := range s.models {
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetModel(ctx context.Context, id int64) (*Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.models[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) GetModelByName(ctx context.Context, name string) (*Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.models {
		if m.Name == name {
			cp := *m
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetDefaultModel(ctx context.Context) (*Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.models {
		if m.IsDefault {
			cp := *m
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) CreateModel(ctx context.Context, in *Model) (*Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.models {
		if m.Name == in.Name {
			return nil, ErrConflict
		}
	}

	m := *in
	m.ID = s.id("models")
	m.CreatedAt = time.Now().UTC()
	m.IsDefault = in.IsDefault || len(s.models) == 0
	if m.IsDefault {
		for _, other := range s.models {
			other.IsDefault = false
		}
	}
	s.models[m.ID] = &m
	cp := m
	return &cp, nil
}

func (s *MemoryStore) SetDefaultModel(ctx context.Context, id int64) (*Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.models[id]
	if !ok {
		return nil, ErrNotFound
	}
	for _, other := range s.models {
		other.IsDefault = false
	}
	m.IsDefault = true
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) DeleteModel(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.models[id]
	if !ok {
		return ErrNotFound
	}
	if m.IsDefault {
		return ErrDefaultModel
	}
	if len(s.models) <= 1 {
		return ErrLastModel
	}
	delete(s.models, id)
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func copyUser(u *User) *User {
	cp := *u
	if u.LastLogin != nil {
		t := *u.LastLogin
		cp.LastLogin = &t
	}
	return &cp
}
