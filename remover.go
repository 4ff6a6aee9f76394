package visage

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/sirupsen/logrus"
)

// Session is a loaded background removal capability.
type Session interface {
	Close() error
}

// Remover isolates the foreground of an image.
//
// NewSession loads the capability and returns an error wrapping
// ErrRemoverUnavailable when it is not installed. Remove returns an image
// with the dimensions of img where background pixels are transparent or
// replaced by a neutral fill.
type Remover interface {
	NewSession(ctx context.Context) (Session, error)
	Remove(ctx context.Context, img image.Image, s Session) (image.Image, error)
}

// ConcurrencySafe is implemented by removers whose sessions accept
// concurrent Remove calls. Calls through other removers are serialized.
type ConcurrencySafe interface {
	ConcurrencySafe() bool
}

// SessionCache owns the process wide session of a Remover. The session is
// created on first use and reused by every later call. Unavailability of the
// capability is recorded once and returned from then on without retrying;
// other initialization failures are retried by the next caller.
type SessionCache struct {
	remover Remover
	log     logrus.FieldLogger

	// sem guards the fields below and lets waiting callers give up on ctx.
	sem         chan struct{}
	session     Session
	unavailable error
	inits       int

	serialize bool
	calls     sync.Mutex
}

// NewSessionCache returns a cache around r. A nil logger discards messages.
func NewSessionCache(r Remover, log logrus.FieldLogger) *SessionCache {
	if log == nil {
		log = discardLogger()
	}
	serialize := true
	if cs, ok := r.(ConcurrencySafe); ok {
		serialize = !cs.ConcurrencySafe()
	}
	return &SessionCache{
		remover:   r,
		log:       log.WithField("remover", removerName(r)),
		sem:       make(chan struct{}, 1),
		serialize: serialize,
	}
}

func removerName(r Remover) string {
	if n, ok := r.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", r)
}

func (c *SessionCache) lock(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *SessionCache) unlock() {
	<-c.sem
}

// Acquire returns the cached session, creating it on first use.
func (c *SessionCache) Acquire(ctx context.Context) (Session, error) {
	if err := c.lock(ctx); err != nil {
		return nil, err
	}
	defer c.unlock()

	if c.session != nil {
		return c.session, nil
	}
	if c.unavailable != nil {
		return nil, c.unavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.inits++
	s, err := c.remover.NewSession(ctx)
	switch {
	case err == nil:
		c.session = s
		c.log.Debug("background remover session created")
		return s, nil
	case errors.Is(err, ErrRemoverUnavailable):
		c.unavailable = err
		c.log.WithError(err).Warn("background remover unavailable, background removal is disabled")
		return nil, err
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		c.log.WithError(err).Warn("background remover session failed, retrying on next use")
		return nil, fmt.Errorf("%w: session initialization: %w", ErrRemovalFailed, err)
	}
}

// Unavailable returns the recorded unavailability error, if any.
func (c *SessionCache) Unavailable() error {
	c.sem <- struct{}{}
	defer c.unlock()
	return c.unavailable
}

// Inits returns how many times session creation was attempted.
func (c *SessionCache) Inits() int {
	c.sem <- struct{}{}
	defer c.unlock()
	return c.inits
}

// Remove isolates the foreground of img with the cached session. A failed
// call does not invalidate the session.
func (c *SessionCache) Remove(ctx context.Context, img image.Image) (image.Image, error) {
	s, err := c.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if c.serialize {
		c.calls.Lock()
		defer c.calls.Unlock()
	}

	out, err := c.remover.Remove(ctx, img, s)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, ErrRemovalFailed):
		return nil, err
	default:
		return nil, fmt.Errorf("%w: %w", ErrRemovalFailed, err)
	}
	if out == nil || out.Bounds().Size() != img.Bounds().Size() {
		return nil, fmt.Errorf("%w: result does not match the %v input size", ErrRemovalFailed, img.Bounds().Size())
	}
	return out, nil
}

// Close releases the session. A later Acquire creates a new one unless the
// remover was recorded as unavailable.
func (c *SessionCache) Close() error {
	c.sem <- struct{}{}
	defer c.unlock()

	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	return err
}
