package state

import (
	"context"
	"fmt"
	"strconv"
)

// InstanceStore namespaces a KV by batcher instance id, matching the
// per-Durable-Object storage isolation §3/§4.7 assume: two instances
// never see each other's schema_hash_<tableName> key even though the key
// name itself is not instance-qualified in the spec's own vocabulary.
type InstanceStore struct {
	kv         *KV
	instanceID string
}

func NewInstanceStore(kv *KV, instanceID string) *InstanceStore {
	return &InstanceStore{kv: kv, instanceID: instanceID}
}

func (s *InstanceStore) key(name string) string {
	return fmt.Sprintf("%s:%s", s.instanceID, name)
}

// SchemaHash returns the persisted fingerprint for tableName, if any.
func (s *InstanceStore) SchemaHash(ctx context.Context, tableName string) (string, bool, error) {
	v, ok, err := s.kv.Get(ctx, s.key("schema_hash_"+tableName))
	if err != nil || !ok {
		return "", ok, err
	}
	return string(v), true, nil
}

func (s *InstanceStore) PutSchemaHash(ctx context.Context, tableName, hash string) error {
	return s.kv.Put(ctx, s.key("schema_hash_"+tableName), []byte(hash), 0)
}

// LastPruned returns the persisted last-pruned epoch-ms for tableName,
// defaulting to 0 (§4.6 runRetentionCheck).
func (s *InstanceStore) LastPruned(ctx context.Context, tableName string) (int64, error) {
	v, ok, err := s.kv.Get(ctx, s.key("last_pruned_"+tableName))
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func (s *InstanceStore) PutLastPruned(ctx context.Context, tableName string, epochMs int64) error {
	return s.kv.Put(ctx, s.key("last_pruned_"+tableName), []byte(strconv.FormatInt(epochMs, 10)), 0)
}
