package carrotcache

// loader.go implements the singleflight-based de-duplication layer behind
// GetOrLoad: when many callers miss on the same key concurrently, only one
// of them runs the loader function; the rest share its result.
//
// Grounded on arena-cache's pkg/loader.go loaderGroup, generalised from a
// generic K/V group keyed by a decimal-formatted hash string to a
// byte-oriented one keyed directly by the hex-formatted key hash.
//
// © 2025 carrotcache authors. MIT License.

import (
	"context"
	"strconv"
)

// LoaderFunc produces the value for a cache miss on key. Returning an error
// propagates to every waiter sharing this call; nothing is written to the
// cache in that case.
type LoaderFunc func(ctx context.Context, key []byte) (value []byte, expireEpochMillis int64, err error)

// GetOrLoad reads key, invoking fn on a miss and storing its result before
// returning it. Concurrent GetOrLoad calls for the same key collapse into a
// single fn execution.
func (c *Cache) GetOrLoad(ctx context.Context, key []byte, out []byte, fn LoaderFunc) (int, error) {
	if n, err := c.Get(key, out); err == nil {
		return n, nil
	} else if err != ErrNotFound {
		return n, err
	}

	k := strconv.FormatUint(c.hashKey(key), 16)
	res, err, _ := c.group.Do(k, func() (any, error) {
		value, expire, ferr := fn(ctx, key)
		if ferr != nil {
			return nil, ferr
		}
		if perr := c.Put(key, value, expire); perr != nil {
			return nil, perr
		}
		return value, nil
	})
	if err != nil {
		return 0, err
	}
	value := res.([]byte)
	if len(out) < len(value) {
		return len(value), ErrBufferTooSmall
	}
	copy(out, value)
	return len(value), nil
}
