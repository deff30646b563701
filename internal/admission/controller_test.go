package admission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isqad/robosignal/internal/core"
)

const mockOfferSDP = "v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"

type fakeClock struct {
	lock sync.Mutex
	now  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.now = c.now.Add(d)
}

type MockEngine struct {
	lock       sync.Mutex
	AnswerErr  error
	Answered   []core.ConnectionID
	Closed     []core.ConnectionID
	Candidates []webrtc.ICECandidateInit
}

func (e *MockEngine) Answer(ctx context.Context, connID core.ConnectionID, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	if e.AnswerErr != nil {
		return webrtc.SessionDescription{}, e.AnswerErr
	}
	e.Answered = append(e.Answered, connID)

	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-for-" + string(connID)}, nil
}

func (e *MockEngine) AddICECandidate(ctx context.Context, connID core.ConnectionID, candidate webrtc.ICECandidateInit) error {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.Candidates = append(e.Candidates, candidate)
	return nil
}

func (e *MockEngine) Close(connID core.ConnectionID) error {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.Closed = append(e.Closed, connID)
	return nil
}

type MockSessionStorage struct {
	lock     sync.Mutex
	Saved    []*SessionRecord
	Released map[core.ConnectionID]string
}

func NewMockSessionStorage() *MockSessionStorage {
	return &MockSessionStorage{Released: make(map[core.ConnectionID]string)}
}

func (s *MockSessionStorage) Save(ctx context.Context, record *SessionRecord) (*SessionRecord, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.Saved = append(s.Saved, record)
	return record, nil
}

func (s *MockSessionStorage) MarkReleased(ctx context.Context, connID core.ConnectionID, reason string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.Released[connID] = reason
	return nil
}

func (s *MockSessionStorage) FindByConnectionID(ctx context.Context, connID core.ConnectionID) (*SessionRecord, error) {
	return nil, nil
}

func newMockController() (*Controller, *MockEngine, *MockSessionStorage, *fakeClock) {
	clock := newFakeClock()
	engine := &MockEngine{}
	storage := NewMockSessionStorage()
	c := NewController(NewMemorySlot(clock), engine, storage, Options{
		IdleTimeout: time.Minute,
		Clock:       clock,
	})

	return c, engine, storage, clock
}

func offer() OfferRequest {
	return OfferRequest{Type: "offer", SDP: mockOfferSDP, ID: "notebook", IP: "10.0.0.1"}
}

func TestOfferAdmitRejectReadmit(t *testing.T) {
	ctx := context.Background()
	c, engine, storage, _ := newMockController()

	first, err := c.Offer(ctx, offer())
	require.Nil(t, err)
	assert.False(t, first.Rejected())
	assert.Equal(t, "answer", first.Type)
	assert.Len(t, first.ValidationKey, 2*validationKeySize)
	require.Len(t, engine.Answered, 1)
	connID := engine.Answered[0]
	assert.Equal(t, "answer-for-"+string(connID), first.SDP)

	second, err := c.Offer(ctx, offer())
	require.Nil(t, err)
	assert.Equal(t, RejectAnswer(), second)
	assert.Empty(t, second.ValidationKey)
	assert.Len(t, engine.Answered, 1)

	require.Nil(t, c.Release(ctx, connID, ReasonDisconnect))
	assert.Equal(t, []core.ConnectionID{connID}, engine.Closed)
	assert.Equal(t, ReasonDisconnect, storage.Released[connID])

	third, err := c.Offer(ctx, offer())
	require.Nil(t, err)
	assert.False(t, third.Rejected())
	assert.NotEqual(t, first.ValidationKey, third.ValidationKey)

	require.Len(t, storage.Saved, 2)
	assert.Equal(t, "notebook", storage.Saved[0].ClientID)
	assert.Equal(t, "10.0.0.1", storage.Saved[0].RemoteIP)
}

func TestConcurrentOffersAdmitExactlyOne(t *testing.T) {
	ctx := context.Background()
	c, _, _, _ := newMockController()

	var (
		wg       sync.WaitGroup
		lock     sync.Mutex
		admitted int
		rejected int
	)

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			answer, err := c.Offer(ctx, offer())
			assert.Nil(t, err)

			lock.Lock()
			defer lock.Unlock()
			if answer.Rejected() {
				rejected++
			} else {
				admitted++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, admitted)
	assert.Equal(t, 31, rejected)
}

func TestReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c, engine, _, _ := newMockController()

	_, err := c.Offer(ctx, offer())
	require.Nil(t, err)
	connID := engine.Answered[0]

	assert.Nil(t, c.Release(ctx, connID, ReasonClosed))
	assert.Nil(t, c.Release(ctx, connID, ReasonClosed))
	assert.Nil(t, c.Release(ctx, "unknown", ReasonClosed))
	assert.Len(t, engine.Closed, 1)
}

func TestReleaseCurrent(t *testing.T) {
	ctx := context.Background()
	c, engine, _, _ := newMockController()

	assert.ErrorIs(t, c.ReleaseCurrent(ctx, ReasonClosed), ErrNoSession)

	_, err := c.Offer(ctx, offer())
	require.Nil(t, err)

	assert.Nil(t, c.ReleaseCurrent(ctx, ReasonClosed))
	assert.Len(t, engine.Closed, 1)

	_, ok, err := c.Current(ctx)
	assert.Nil(t, err)
	assert.False(t, ok)
}

func TestEngineErrorReleasesSlot(t *testing.T) {
	ctx := context.Background()
	c, engine, storage, _ := newMockController()
	engine.AnswerErr = errors.New("ice failed")

	_, err := c.Offer(ctx, offer())
	assert.ErrorIs(t, err, ErrEngine)
	assert.Len(t, engine.Closed, 1)
	assert.Empty(t, storage.Saved)

	engine.AnswerErr = nil
	answer, err := c.Offer(ctx, offer())
	require.Nil(t, err)
	assert.False(t, answer.Rejected())
}

func TestValidate(t *testing.T) {
	ctx := context.Background()
	c, engine, _, _ := newMockController()

	_, ok := c.Validate(ctx, "anything")
	assert.False(t, ok)

	answer, err := c.Offer(ctx, offer())
	require.Nil(t, err)

	connID, ok := c.Validate(ctx, answer.ValidationKey)
	assert.True(t, ok)
	assert.Equal(t, engine.Answered[0], connID)

	_, ok = c.Validate(ctx, "")
	assert.False(t, ok)
	_, ok = c.Validate(ctx, answer.ValidationKey[:10])
	assert.False(t, ok)

	require.Nil(t, c.Release(ctx, connID, ReasonDisconnect))
	_, ok = c.Validate(ctx, answer.ValidationKey)
	assert.False(t, ok)
}

func TestLeaseExpiry(t *testing.T) {
	ctx := context.Background()
	c, engine, storage, clock := newMockController()

	first, err := c.Offer(ctx, offer())
	require.Nil(t, err)
	connID := engine.Answered[0]

	clock.Advance(30 * time.Second)
	assert.Nil(t, c.Touch(ctx, connID))
	clock.Advance(45 * time.Second)
	assert.Equal(t, 0, c.Sweep(ctx))

	second, err := c.Offer(ctx, offer())
	require.Nil(t, err)
	assert.True(t, second.Rejected())

	clock.Advance(16 * time.Second)
	assert.Equal(t, 1, c.Sweep(ctx))
	assert.Equal(t, ReasonExpired, storage.Released[connID])
	assert.ErrorIs(t, c.Touch(ctx, connID), ErrNoSession)

	_, ok := c.Validate(ctx, first.ValidationKey)
	assert.False(t, ok)

	third, err := c.Offer(ctx, offer())
	require.Nil(t, err)
	assert.False(t, third.Rejected())
}

func TestOfferSweepsExpiredSession(t *testing.T) {
	ctx := context.Background()
	c, engine, _, clock := newMockController()

	_, err := c.Offer(ctx, offer())
	require.Nil(t, err)

	clock.Advance(2 * time.Minute)

	answer, err := c.Offer(ctx, offer())
	require.Nil(t, err)
	assert.False(t, answer.Rejected())
	// resources of the expired session are closed before the new admission
	assert.Equal(t, []core.ConnectionID{engine.Answered[0]}, engine.Closed)
}

func TestAddICECandidate(t *testing.T) {
	ctx := context.Background()
	c, engine, _, _ := newMockController()

	candidate := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 127.0.0.1 5000 typ host"}
	assert.ErrorIs(t, c.AddICECandidate(ctx, candidate), ErrNoSession)

	_, err := c.Offer(ctx, offer())
	require.Nil(t, err)

	assert.Nil(t, c.AddICECandidate(ctx, candidate))
	assert.Equal(t, []webrtc.ICECandidateInit{candidate}, engine.Candidates)
}

func TestRunReleasesOnShutdown(t *testing.T) {
	c, engine, storage, _ := newMockController()
	c.SweepInterval = 10 * time.Millisecond

	_, err := c.Offer(context.Background(), offer())
	require.Nil(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- c.Run(ctx) }()

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Len(t, engine.Closed, 1)
	assert.Equal(t, ReasonShutdown, storage.Released[engine.Answered[0]])
}
