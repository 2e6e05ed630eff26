package registry

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Client is the minimal view of a Telegram client the registry needs to
// manage lifetimes. The manager stores its richer client type behind it.
type Client interface {
	IsConnected() bool
	Authorized() bool
	Close()
}

// Handle is a live Telegram client cached for one phone number. Handles are
// owned exclusively by the Registry; callers borrow them through Get.
type Handle struct {
	Phone     string
	Client    Client
	CreatedAt time.Time
	LastUsed  time.Time

	broken bool
}

// Authorized reports whether the underlying client believes it is signed in.
func (h *Handle) Authorized() bool {
	return h.Client.Authorized()
}

// Registry is the process-wide mapping from phone number to live client
// handle. It is purely in-memory: a process restart forfeits every cached
// handle and the persisted session blob becomes the root of trust again.
type Registry struct {
	ttl time.Duration
	log *zap.Logger

	mu      sync.Mutex
	handles map[string]*Handle
	locks   map[string]*sync.Mutex
}

// New creates an empty registry with the given client TTL.
func New(ttl time.Duration, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		ttl:     ttl,
		log:     log,
		handles: make(map[string]*Handle),
		locks:   make(map[string]*sync.Mutex),
	}
}

// Lock acquires the per-phone lock and returns its release function. The
// auth-flow transitions for a phone (send-code, verify-code, reactivation,
// disconnect) run under this lock; different phones proceed in parallel.
// The manager does not take it: client construction is single-flighted
// per phone on its own.
func (r *Registry) Lock(phone string) (unlock func()) {
	r.mu.Lock()
	lock, ok := r.locks[phone]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[phone] = lock
	}
	r.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// Get returns the cached handle for phone if it is still fresh and the
// underlying client reports connected. Stale or broken handles are evicted
// on the spot and nil is returned.
func (r *Registry) Get(phone string) *Handle {
	r.mu.Lock()
	h, ok := r.handles[phone]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	if h.broken || time.Since(h.CreatedAt) > r.ttl || !h.Client.IsConnected() {
		r.Evict(phone)
		return nil
	}

	r.mu.Lock()
	h.LastUsed = time.Now()
	r.mu.Unlock()
	return h
}

// Put caches a freshly connected client for phone, replacing (and closing)
// any previous handle.
func (r *Registry) Put(phone string, client Client) *Handle {
	now := time.Now()
	h := &Handle{
		Phone:     phone,
		Client:    client,
		CreatedAt: now,
		LastUsed:  now,
	}

	r.mu.Lock()
	prev := r.handles[phone]
	r.handles[phone] = h
	r.mu.Unlock()

	if prev != nil && prev.Client != client {
		r.closeAsync(prev)
	}
	return h
}

// Evict removes the handle for phone and disconnects it best-effort.
// Idempotent.
func (r *Registry) Evict(phone string) {
	r.mu.Lock()
	h, ok := r.handles[phone]
	delete(r.handles, phone)
	r.mu.Unlock()

	if ok {
		r.log.Debug("evicting telegram client", zap.String("phone", phone))
		r.closeAsync(h)
	}
}

// MarkBroken flags the handle for phone so the next Get (or the sweep)
// evicts it. Used after an unrecoverable error class.
func (r *Registry) MarkBroken(phone string) {
	r.mu.Lock()
	if h, ok := r.handles[phone]; ok {
		h.broken = true
	}
	r.mu.Unlock()
}

// Sweep evicts every expired or broken handle and returns how many were
// removed. Invoked periodically by the cleanup scheduler.
func (r *Registry) Sweep() int {
	now := time.Now()

	r.mu.Lock()
	var expired []*Handle
	for phone, h := range r.handles {
		if h.broken || now.Sub(h.CreatedAt) > r.ttl || !h.Client.IsConnected() {
			expired = append(expired, h)
			delete(r.handles, phone)
		}
	}
	r.mu.Unlock()

	for _, h := range expired {
		r.closeAsync(h)
	}
	if len(expired) > 0 {
		r.log.Info("swept expired telegram clients", zap.Int("count", len(expired)))
	}
	return len(expired)
}

// Len returns the number of cached handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Shutdown disconnects and drops every cached handle.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.handles = make(map[string]*Handle)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *Handle) {
			defer wg.Done()
			h.Client.Close()
		}(h)
	}
	wg.Wait()
}

// closeAsync disconnects a handle without blocking the caller; Close waits
// for the engine goroutine with its own internal timeout.
func (r *Registry) closeAsync(h *Handle) {
	go h.Client.Close()
}
