package statusstore

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps status records in process with TTL eviction. It is the
// default backend; a single gateway instance is enough for the long-poll
// endpoint since records are written and read through the same process.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]memoryRecord
	ttl     time.Duration
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

type memoryRecord struct {
	status    PaymentStatus
	expiresAt time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	s := &MemoryStore{
		records: make(map[string]memoryRecord),
		ttl:     ttl,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go s.janitor()
	return s
}

func (s *MemoryStore) Get(ctx context.Context, paymentID string) (PaymentStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[KeyPrefix+paymentID]
	if !ok || s.now().After(rec.expiresAt) {
		return PaymentStatus{}, ErrNotFound
	}
	return rec.status, nil
}

func (s *MemoryStore) Put(ctx context.Context, paymentID string, status PaymentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := KeyPrefix + paymentID
	if rec, ok := s.records[key]; ok && s.now().Before(rec.expiresAt) {
		return ErrAlreadyWritten
	}
	s.records[key] = memoryRecord{status: status, expiresAt: s.now().Add(s.ttl)}
	return nil
}

// Close stops the eviction loop.
func (s *MemoryStore) Close() {
	s.once.Do(func() { close(s.stop) })
}

func (s *MemoryStore) janitor() {
	interval := s.ttl
	if interval > 10*time.Second {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.evictExpired()
		}
	}
}

func (s *MemoryStore) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for key, rec := range s.records {
		if now.After(rec.expiresAt) {
			delete(s.records, key)
		}
	}
}
