package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient implements Client for registry tests.
type fakeClient struct {
	mu         sync.Mutex
	connected  bool
	authorized bool
	closed     bool
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) Authorized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authorized
}

func (f *fakeClient) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.connected = false
}

func (f *fakeClient) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestGetReturnsFreshHandle(t *testing.T) {
	reg := New(time.Minute, nil)
	client := &fakeClient{connected: true, authorized: true}

	reg.Put("+391234567890", client)

	h := reg.Get("+391234567890")
	require.NotNil(t, h)
	assert.Equal(t, "+391234567890", h.Phone)
	assert.True(t, h.Authorized())
}

func TestGetEvictsExpiredHandle(t *testing.T) {
	reg := New(10*time.Millisecond, nil)
	client := &fakeClient{connected: true}

	reg.Put("+391234567890", client)
	time.Sleep(20 * time.Millisecond)

	assert.Nil(t, reg.Get("+391234567890"))
	assert.Equal(t, 0, reg.Len())
}

func TestGetEvictsDisconnectedHandle(t *testing.T) {
	reg := New(time.Minute, nil)
	client := &fakeClient{connected: false}

	reg.Put("+391234567890", client)
	assert.Nil(t, reg.Get("+391234567890"))
}

func TestPutReplacesAndClosesPrevious(t *testing.T) {
	reg := New(time.Minute, nil)
	first := &fakeClient{connected: true}
	second := &fakeClient{connected: true}

	reg.Put("+391234567890", first)
	reg.Put("+391234567890", second)

	h := reg.Get("+391234567890")
	require.NotNil(t, h)
	assert.Same(t, second, h.Client)

	assert.Eventually(t, first.isClosed, time.Second, 5*time.Millisecond,
		"replaced handle must be disconnected")
}

func TestMarkBrokenEvictsOnNextGet(t *testing.T) {
	reg := New(time.Minute, nil)
	client := &fakeClient{connected: true}

	reg.Put("+391234567890", client)
	reg.MarkBroken("+391234567890")

	assert.Nil(t, reg.Get("+391234567890"))
	assert.Eventually(t, client.isClosed, time.Second, 5*time.Millisecond)
}

func TestSweepRemovesExpired(t *testing.T) {
	reg := New(10*time.Millisecond, nil)
	old := &fakeClient{connected: true}
	reg.Put("+391111111111", old)

	time.Sleep(20 * time.Millisecond)
	fresh := &fakeClient{connected: true}
	reg.Put("+392222222222", fresh)

	swept := reg.Sweep()
	assert.Equal(t, 1, swept)
	assert.Equal(t, 1, reg.Len())
	assert.NotNil(t, reg.Get("+392222222222"))
}

func TestEvictIsIdempotent(t *testing.T) {
	reg := New(time.Minute, nil)
	reg.Put("+391234567890", &fakeClient{connected: true})

	reg.Evict("+391234567890")
	reg.Evict("+391234567890")
	assert.Equal(t, 0, reg.Len())
}

func TestLockSerializesPerPhone(t *testing.T) {
	reg := New(time.Minute, nil)

	var counter, max int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := reg.Lock("+391234567890")
			defer unlock()

			mu.Lock()
			counter++
			if counter > max {
				max = counter
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			counter--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, max, "critical section must never be entered concurrently")
}

func TestLocksForDifferentPhonesAreIndependent(t *testing.T) {
	reg := New(time.Minute, nil)

	unlockA := reg.Lock("+391111111111")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := reg.Lock("+392222222222")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock for a different phone must not block")
	}
}

func TestShutdownClosesEverything(t *testing.T) {
	reg := New(time.Minute, nil)
	a := &fakeClient{connected: true}
	b := &fakeClient{connected: true}
	reg.Put("+391111111111", a)
	reg.Put("+392222222222", b)

	reg.Shutdown()

	assert.Equal(t, 0, reg.Len())
	assert.True(t, a.isClosed())
	assert.True(t, b.isClosed())
}
