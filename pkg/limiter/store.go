package limiter

import "context"

// Store is the key-value backend the limiter counts against. It is supplied
// by the host; the limiter never manages expiry or lifetime of entries.
//
// Read returns ok=false (and a nil error) when the key is absent.
type Store interface {
	Read(ctx context.Context, key string) (value []byte, ok bool, err error)
	Write(ctx context.Context, key string, value []byte) error
}

// Locker is an optional Store extension. When a Store implements it, the
// limiter holds the lock for a cache key across each read-modify-write
// sequence, which removes lost updates between concurrent callers that share
// the Store.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

var (
	_ Store  = (*MemoryStore)(nil)
	_ Locker = (*MemoryStore)(nil)
	_ Store  = (*RedisStore)(nil)
	_ Locker = (*RedisStore)(nil)
	_ Store  = (*SQLStore)(nil)
)
