package smb2core

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/docker/go-units"
)

// bufferAllocator hands out zeroed segment buffers against a byte budget.
// A limit of zero means unlimited.
type bufferAllocator struct {
	mu    sync.Mutex
	limit int64
	inUse int64
}

func newBufferAllocator(limit int64) *bufferAllocator {
	return &bufferAllocator{limit: limit}
}

// get returns a zeroed buffer of n bytes, or ErrAllocation when the budget
// would be exceeded.
func (a *bufferAllocator) get(n int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.limit > 0 && a.inUse+int64(n) > a.limit {
		return nil, errors.Wrapf(ErrAllocation, "%s requested, %s of %s in use",
			units.BytesSize(float64(n)), units.BytesSize(float64(a.inUse)), units.BytesSize(float64(a.limit)))
	}
	a.inUse += int64(n)
	return make([]byte, n), nil
}

// put returns buf's size to the budget. It is the ReleaseFunc of every
// owned segment.
func (a *bufferAllocator) put(buf []byte) {
	a.mu.Lock()
	a.inUse -= int64(len(buf))
	a.mu.Unlock()
}

// InUse returns the number of bytes currently allocated.
func (a *bufferAllocator) InUse() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inUse
}

// appendOwned allocates n zeroed bytes and appends them to chain as an
// owned segment.
func (a *bufferAllocator) appendOwned(chain *IOVecChain, n int) (*IOVec, error) {
	buf, err := a.get(n)
	if err != nil {
		return nil, err
	}
	return chain.Append(buf, a.put), nil
}
