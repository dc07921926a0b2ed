package process

import (
	"context"

	"golang.org/x/time/rate"
)

// Throttled wraps an accessor so that every remote read first takes a token
// from the limiter. Signature scans and module lookups are not throttled
// per chunk, they count as one operation.
type Throttled struct {
	inner   MemoryAccessor
	limiter *rate.Limiter
}

var _ MemoryAccessor = (*Throttled)(nil)

// NewThrottled limits inner to readsPerSecond operations with the given burst.
func NewThrottled(inner MemoryAccessor, readsPerSecond float64, burst int) *Throttled {
	if burst < 1 {
		burst = 1
	}
	return &Throttled{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(readsPerSecond), burst),
	}
}

func (t *Throttled) wait() error {
	return t.limiter.Wait(context.Background())
}

func (t *Throttled) ReadMemory(addr ProcessMemoryAddress, size ProcessMemorySize) ([]byte, error) {
	if err := t.wait(); err != nil {
		return nil, err
	}
	return t.inner.ReadMemory(addr, size)
}

func (t *Throttled) ReadPOINTER(addr ProcessMemoryAddress) (ProcessMemoryAddress, error) {
	if err := t.wait(); err != nil {
		return 0, err
	}
	return t.inner.ReadPOINTER(addr)
}

func (t *Throttled) ReadText(addr ProcessMemoryAddress, maxLength ProcessMemorySize, enc TextEncoding) (string, error) {
	if err := t.wait(); err != nil {
		return "", err
	}
	return t.inner.ReadText(addr, maxLength, enc)
}

func (t *Throttled) FindSignature(aob AOB) (ProcessMemoryAddress, error) {
	if err := t.wait(); err != nil {
		return 0, err
	}
	return t.inner.FindSignature(aob)
}

func (t *Throttled) ModuleBase(name string) (ProcessMemoryAddress, error) {
	if err := t.wait(); err != nil {
		return 0, err
	}
	return t.inner.ModuleBase(name)
}
