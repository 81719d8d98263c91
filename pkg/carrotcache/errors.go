package carrotcache

import "errors"

// Sentinel errors forming the facade's narrow public contract. Internal
// layers return structured results (index.Result, segment errors); this
// package translates them into {Ok (nil), Rejected, NotFound}, per the
// propagation policy.
var (
	// ErrNotFound is returned by Get on a miss (Delete reports a miss by
	// returning false). Not a fault.
	ErrNotFound = errors.New("carrotcache: not found")

	// ErrWriteRejected covers both capacity rejection (used/max over
	// write_rejection_threshold) and rehash-collision overflow
	// (InsertFailed), which the facade maps to the same public outcome.
	ErrWriteRejected = errors.New("carrotcache: write rejected")

	// ErrBufferTooSmall is returned by Get alongside the required size so
	// the caller can retry with a larger buffer.
	ErrBufferTooSmall = errors.New("carrotcache: buffer too small")

	// ErrInvalidRank is an invariant violation: caller passed a rank
	// outside [0, numRanks).
	ErrInvalidRank = errors.New("carrotcache: rank out of range")

	// ErrNoVictim is returned by PutVictim when the cache has no
	// configured victim tier.
	ErrNoVictim = errors.New("carrotcache: no victim cache configured")

	// ErrVictimCannotHaveVictim enforces "disk cache may not have a
	// victim": constructing a victim-of-a-victim is a configuration bug.
	ErrVictimCannotHaveVictim = errors.New("carrotcache: a victim cache may not itself have a victim")
)
