package store

import "context"

// Area separates long-lived keys from the session-scoped cache, the way a
// browser separates localStorage from sessionStorage.
type Area string

const (
	AreaLocal   Area = "local"
	AreaSession Area = "session"
)

type OpKind int

const (
	OpSet OpKind = iota
	OpDelete
	OpClearArea
)

type Op struct {
	Kind  OpKind
	Area  Area
	Key   string
	Value string
}

func set(key, value string) Op { return Op{Kind: OpSet, Area: AreaLocal, Key: key, Value: value} }
func del(key string) Op        { return Op{Kind: OpDelete, Area: AreaLocal, Key: key} }

// Backend is the persistence medium under a Store. Apply must run ops in
// order; backends that can do so apply the whole batch atomically.
type Backend interface {
	Get(ctx context.Context, area Area, key string) (string, bool, error)
	Apply(ctx context.Context, ops []Op) error
}
