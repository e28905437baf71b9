package fallback

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/toolhub/hubauth/internal/model"
)

const defaultMaxPendingUsers = 1024

// Registry stores pending fallback users by normalized email.
type Registry interface {
	Get(email string) (*model.FallbackUser, bool)
	// Add stores u unless the email is already present and reports
	// whether it was stored.
	Add(u *model.FallbackUser) bool
	Remove(email string)
	List() []*model.FallbackUser
}

// LRURegistry bounds memory during a long outage. When full, the least
// recently touched pending user is evicted.
type LRURegistry struct {
	cache *lru.Cache[string, *model.FallbackUser]
}

func NewLRURegistry(size int) (*LRURegistry, error) {
	if size <= 0 {
		size = defaultMaxPendingUsers
	}
	cache, err := lru.New[string, *model.FallbackUser](size)
	if err != nil {
		return nil, err
	}
	return &LRURegistry{cache: cache}, nil
}

func (r *LRURegistry) Get(email string) (*model.FallbackUser, bool) {
	return r.cache.Get(email)
}

func (r *LRURegistry) Add(u *model.FallbackUser) bool {
	found, _ := r.cache.ContainsOrAdd(u.Email, u)
	return !found
}

func (r *LRURegistry) Remove(email string) {
	r.cache.Remove(email)
}

func (r *LRURegistry) List() []*model.FallbackUser {
	return r.cache.Values()
}
