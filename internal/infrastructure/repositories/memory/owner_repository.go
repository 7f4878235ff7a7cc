package memory

import (
	"context"
	"sort"
	"sync"

	"tempvoice/internal/core/domain"
	"tempvoice/internal/core/ports"
)

type userLists map[domain.UserID]map[domain.UserID]struct{}

func (l userLists) add(owner, user domain.UserID) {
	set, ok := l[owner]
	if !ok {
		set = make(map[domain.UserID]struct{})
		l[owner] = set
	}
	set[user] = struct{}{}
}

func (l userLists) remove(owner, user domain.UserID) {
	if set, ok := l[owner]; ok {
		delete(set, user)
		if len(set) == 0 {
			delete(l, owner)
		}
	}
}

func (l userLists) list(owner domain.UserID) []domain.UserID {
	users := make([]domain.UserID, 0, len(l[owner]))
	for u := range l[owner] {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

type MemoryOwnerRepository struct {
	trusted  userLists
	blocked  userLists
	settings map[domain.UserID]domain.UserSettings
	mu       sync.RWMutex
}

func NewMemoryOwnerRepository() ports.OwnerRepository {
	return &MemoryOwnerRepository{
		trusted:  make(userLists),
		blocked:  make(userLists),
		settings: make(map[domain.UserID]domain.UserSettings),
	}
}

func (r *MemoryOwnerRepository) AddTrusted(ctx context.Context, owner, user domain.UserID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocked.remove(owner, user)
	r.trusted.add(owner, user)
	return nil
}

func (r *MemoryOwnerRepository) RemoveTrusted(ctx context.Context, owner, user domain.UserID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trusted.remove(owner, user)
	return nil
}

func (r *MemoryOwnerRepository) ListTrusted(ctx context.Context, owner domain.UserID) ([]domain.UserID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.trusted.list(owner), nil
}

func (r *MemoryOwnerRepository) AddBlocked(ctx context.Context, owner, user domain.UserID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trusted.remove(owner, user)
	r.blocked.add(owner, user)
	return nil
}

func (r *MemoryOwnerRepository) RemoveBlocked(ctx context.Context, owner, user domain.UserID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocked.remove(owner, user)
	return nil
}

func (r *MemoryOwnerRepository) ListBlocked(ctx context.Context, owner domain.UserID) ([]domain.UserID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.blocked.list(owner), nil
}

func (r *MemoryOwnerRepository) GetSettings(ctx context.Context, user domain.UserID) (*domain.UserSettings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.settings[user]
	if !ok {
		return nil, domain.ErrSettingsNotFound
	}
	return &s, nil
}

func (r *MemoryOwnerRepository) SaveSettings(ctx context.Context, settings *domain.UserSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.settings[settings.UserID] = *settings
	return nil
}
