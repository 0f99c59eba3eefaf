package core

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// memUserRepo is an in-memory UserRepository.
type memUserRepo struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]*UserRecord
	err    error
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: map[int64]*UserRecord{}}
}

func (r *memUserRepo) add(t interface{ Fatalf(string, ...any) }, username, password string, role Role) User {
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	id, err := r.Create(context.Background(), NewUser{Username: username, Email: username + "@example.com", PasswordHash: hash, Role: role})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return r.users[id].User
}

func (r *memUserRepo) FindByUsername(_ context.Context, username string) (*UserRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	for _, u := range r.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *memUserRepo) FindByID(_ context.Context, id int64) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	u, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := u.User
	return &cp, nil
}

func (r *memUserRepo) Create(_ context.Context, u NewUser) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	for _, existing := range r.users {
		if existing.Username == u.Username || existing.Email == u.Email {
			return 0, ErrUserExists
		}
	}
	r.nextID++
	now := time.Now().UTC()
	r.users[r.nextID] = &UserRecord{
		User:         User{ID: r.nextID, Username: u.Username, Email: u.Email, Role: u.Role, CreatedAt: now, UpdatedAt: now},
		PasswordHash: u.PasswordHash,
	}
	return r.nextID, nil
}

func (r *memUserRepo) CreateIfAbsent(ctx context.Context, u NewUser) (int64, bool, error) {
	id, err := r.Create(ctx, u)
	if errors.Is(err, ErrUserExists) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (r *memUserRepo) HasAdmin(context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	for _, u := range r.users {
		if u.Role == RoleAdmin {
			return true, nil
		}
	}
	return false, nil
}

func (r *memUserRepo) List(context.Context) ([]User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	out := make([]User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u.User)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *memUserRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return ErrUserNotFound
	}
	delete(r.users, id)
	return nil
}

func (r *memUserRepo) username(id int64) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return "", false
	}
	return u.Username, true
}

// memAuditStore is an in-memory AuditStore that joins usernames at read time.
type memAuditStore struct {
	mu     sync.Mutex
	users  *memUserRepo
	rows   []AuditEntry
	insErr error
	lstErr error
}

func newMemAuditStore(users *memUserRepo) *memAuditStore {
	return &memAuditStore{users: users}
}

func (s *memAuditStore) Insert(_ context.Context, ev AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insErr != nil {
		return s.insErr
	}
	e := AuditEntry{
		ID:        int64(len(s.rows) + 1),
		UserID:    ev.UserID,
		Action:    ev.Action,
		CreatedAt: ev.OccurredAt,
	}
	if ev.Description != "" {
		d := ev.Description
		e.Description = &d
	}
	if ev.IPAddress != "" {
		ip := ev.IPAddress
		e.IPAddress = &ip
	}
	if ev.UserAgent != "" {
		ua := ev.UserAgent
		e.UserAgent = &ua
	}
	s.rows = append(s.rows, e)
	return nil
}

func (s *memAuditStore) List(_ context.Context, limit, offset int) ([]AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lstErr != nil {
		return nil, s.lstErr
	}
	rows := make([]AuditEntry, len(s.rows))
	copy(rows, s.rows)
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].ID > rows[j].ID
		}
		return rows[i].CreatedAt.After(rows[j].CreatedAt)
	})
	out := make([]AuditEntry, 0, limit)
	for i := offset; i < len(rows) && len(out) < limit; i++ {
		e := rows[i]
		if e.UserID != nil && s.users != nil {
			if name, ok := s.users.username(*e.UserID); ok {
				e.Username = &name
			} else {
				// mirrors ON DELETE SET NULL
				e.UserID = nil
			}
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *memAuditStore) count(action AuditAction) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.rows {
		if r.Action == action {
			n++
		}
	}
	return n
}

func (s *memAuditStore) all() []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuditEntry, len(s.rows))
	copy(out, s.rows)
	return out
}
