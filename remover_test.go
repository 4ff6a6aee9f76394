package visage

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct{ closed *atomic.Int32 }

func (s fakeSession) Close() error {
	s.closed.Add(1)
	return nil
}

// fakeRemover returns a transparent image of the input size.
type fakeRemover struct {
	mu sync.Mutex

	// initErrs are returned by successive NewSession calls; nil once drained.
	initErrs  []error
	removeErr error
	resize    bool
	delay     time.Duration

	closed              atomic.Int32
	active, peak, calls atomic.Int32
}

func (f *fakeRemover) NewSession(ctx context.Context) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.initErrs) > 0 {
		err := f.initErrs[0]
		f.initErrs = f.initErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return fakeSession{closed: &f.closed}, nil
}

func (f *fakeRemover) Remove(ctx context.Context, img image.Image, _ Session) (image.Image, error) {
	f.calls.Add(1)
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.removeErr != nil {
		return nil, f.removeErr
	}
	r := img.Bounds()
	if f.resize {
		r = r.Inset(1)
	}
	return image.NewNRGBA(r), nil
}

type safeFakeRemover struct{ *fakeRemover }

func (safeFakeRemover) ConcurrencySafe() bool { return true }

func TestSessionCache_SingleInitUnderConcurrency(t *testing.T) {
	assert := assert.New(t)

	f := &fakeRemover{delay: 5 * time.Millisecond}
	cache := NewSessionCache(safeFakeRemover{f}, nil)
	img := image.NewNRGBA(image.Rect(0, 0, 10, 10))

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = cache.Remove(context.Background(), img)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(err)
	}
	assert.Equal(1, cache.Inits())
	assert.Equal(int32(16), f.calls.Load())
}

func TestSessionCache_SerializesUnsafeRemovers(t *testing.T) {
	f := &fakeRemover{delay: 2 * time.Millisecond}
	cache := NewSessionCache(f, nil)
	img := image.NewNRGBA(image.Rect(0, 0, 10, 10))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cache.Remove(context.Background(), img)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.peak.Load())
}

func TestSessionCache_UnavailableIsSticky(t *testing.T) {
	assert := assert.New(t)

	f := &fakeRemover{initErrs: []error{fmt.Errorf("%w: rembg not installed", ErrRemoverUnavailable)}}
	cache := NewSessionCache(f, nil)
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))

	for i := 0; i < 3; i++ {
		_, err := cache.Remove(context.Background(), img)
		assert.ErrorIs(err, ErrRemoverUnavailable)
	}
	assert.Equal(1, cache.Inits())
	assert.ErrorIs(cache.Unavailable(), ErrRemoverUnavailable)
	assert.Zero(f.calls.Load())
}

func TestSessionCache_TransientInitIsRetried(t *testing.T) {
	assert := assert.New(t)

	f := &fakeRemover{initErrs: []error{errors.New("model download interrupted")}}
	cache := NewSessionCache(f, nil)
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))

	_, err := cache.Remove(context.Background(), img)
	assert.ErrorIs(err, ErrRemovalFailed)
	assert.NoError(cache.Unavailable())

	out, err := cache.Remove(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(img.Bounds(), out.Bounds())
	assert.Equal(2, cache.Inits())
}

func TestSessionCache_CallFailureKeepsSession(t *testing.T) {
	assert := assert.New(t)

	f := &fakeRemover{removeErr: errors.New("inference failed")}
	cache := NewSessionCache(f, nil)
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))

	for i := 0; i < 2; i++ {
		_, err := cache.Remove(context.Background(), img)
		assert.ErrorIs(err, ErrRemovalFailed)
		assert.ErrorContains(err, "inference failed")
	}
	assert.Equal(1, cache.Inits())
	assert.NoError(cache.Unavailable())
}

func TestSessionCache_SizeMismatch(t *testing.T) {
	cache := NewSessionCache(&fakeRemover{resize: true}, nil)
	_, err := cache.Remove(context.Background(), image.NewNRGBA(image.Rect(0, 0, 8, 8)))
	assert.ErrorIs(t, err, ErrRemovalFailed)
}

func TestSessionCache_CancellationIsNotRecorded(t *testing.T) {
	assert := assert.New(t)

	f := &fakeRemover{}
	cache := NewSessionCache(f, nil)
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := cache.Remove(ctx, img)
	assert.ErrorIs(err, context.Canceled)
	assert.Zero(cache.Inits())
	assert.NoError(cache.Unavailable())

	_, err = cache.Remove(context.Background(), img)
	assert.NoError(err)
	assert.Equal(1, cache.Inits())
}

func TestSessionCache_Close(t *testing.T) {
	assert := assert.New(t)

	f := &fakeRemover{}
	cache := NewSessionCache(f, nil)
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))

	_, err := cache.Remove(context.Background(), img)
	require.NoError(t, err)
	require.NoError(t, cache.Close())
	assert.Equal(int32(1), f.closed.Load())
	require.NoError(t, cache.Close())

	_, err = cache.Remove(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(2, cache.Inits())
}
