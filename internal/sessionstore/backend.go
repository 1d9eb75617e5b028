package sessionstore

import "context"

// backend is the narrow KV surface Store needs. Both the bbolt and
// redis implementations store opaque, already-encrypted byte slices
// keyed by string; Store owns all encryption and (de)serialization.
type backend interface {
	put(ctx context.Context, key string, value []byte) error
	get(ctx context.Context, key string) ([]byte, error)
	delete(ctx context.Context, key string) error
	forEachPrefix(ctx context.Context, prefix string, fn func(key string, value []byte) error) error
	close() error
}
