package concierge

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/ashureev/tripmate/internal/config"
	"github.com/ashureev/tripmate/internal/domain"
	"github.com/ashureev/tripmate/internal/gateway"
)

type fakeRepo struct {
	mu       sync.Mutex
	sessions map[string]domain.SessionRecord
	visitors map[string]domain.Visitor
	upserts  int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		sessions: make(map[string]domain.SessionRecord),
		visitors: make(map[string]domain.Visitor),
	}
}

func (f *fakeRepo) GetVisitor(_ context.Context, visitorID string) (*domain.Visitor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.visitors[visitorID]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (f *fakeRepo) UpsertVisitor(_ context.Context, v *domain.Visitor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visitors[v.VisitorID] = *v
	return nil
}

func (f *fakeRepo) UpdateLastSeen(context.Context, string, time.Time) error { return nil }

func (f *fakeRepo) GetSession(_ context.Context, visitorID, sessionID string) (*domain.SessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.sessions[domain.SessionKey(visitorID, sessionID)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (f *fakeRepo) UpsertSession(_ context.Context, rec *domain.SessionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[rec.Key()] = *rec
	f.upserts++
	return nil
}

func (f *fakeRepo) DeleteSession(_ context.Context, visitorID, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, domain.SessionKey(visitorID, sessionID))
	return nil
}

func (f *fakeRepo) GetExpiredSessions(context.Context, time.Duration) ([]*domain.SessionRecord, error) {
	return nil, nil
}

func (f *fakeRepo) DeleteIdleVisitors(context.Context, time.Duration) (int64, error) { return 0, nil }
func (f *fakeRepo) Ping(context.Context) error                                    { return nil }
func (f *fakeRepo) Close() error                                                  { return nil }

func (f *fakeRepo) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upserts
}

type fakeCreds struct{ key string }

func (f fakeCreds) APIKey() (string, error) {
	if f.key == "" {
		return "", config.ErrMissingCredential
	}
	return f.key, nil
}

func (f fakeCreds) Status() config.CredentialStatus {
	if f.key == "" {
		return config.CredentialStatus{Source: config.SourceNone, Remediation: config.Remediation}
	}
	return config.CredentialStatus{Configured: true, Source: config.SourceEnv}
}

// blockingGateway streams one fragment once release is closed.
type blockingGateway struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingGateway() *blockingGateway {
	return &blockingGateway{started: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingGateway) Generate(context.Context, gateway.Request) (string, error) {
	return "fallback", nil
}

func (b *blockingGateway) Stream(ctx context.Context, _ gateway.Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		b.once.Do(func() { close(b.started) })
		select {
		case <-b.release:
			yield("late answer", nil)
		case <-ctx.Done():
			yield("", ctx.Err())
		}
	}
}
