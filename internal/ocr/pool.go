package ocr

import (
	"context"
	"fmt"
	"io"
)

// Pool serializes access to a fixed set of recognizers. Checking a client
// out for the duration of a pass is what makes concurrent ensemble work
// safe with stateful engines.
type Pool struct {
	clients chan Recognizer
	size    int
}

// NewPool builds size recognizers with factory. On a factory error the
// already-built clients are closed and the error is returned.
func NewPool(size int, factory func() (Recognizer, error)) (*Pool, error) {
	if size < 1 {
		size = 1
	}
	p := &Pool{clients: make(chan Recognizer, size), size: size}
	for i := 0; i < size; i++ {
		r, err := factory()
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to build recognizer %d of %d: %w", i+1, size, err)
		}
		p.clients <- r
	}
	return p, nil
}

// Size returns the number of pooled recognizers.
func (p *Pool) Size() int { return p.size }

// Do checks a recognizer out, runs fn with it, and returns it. Blocks
// until a client is free or ctx is done.
func (p *Pool) Do(ctx context.Context, fn func(Recognizer) error) error {
	select {
	case r := <-p.clients:
		defer func() { p.clients <- r }()
		return fn(r)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close shuts down every idle recognizer that holds native resources.
// Call only after all Do invocations have returned.
func (p *Pool) Close() error {
	var first error
	for {
		select {
		case r := <-p.clients:
			if c, ok := r.(io.Closer); ok {
				if err := c.Close(); err != nil && first == nil {
					first = err
				}
			}
		default:
			return first
		}
	}
}
