// Package coord implements the Coordination Adapter: a typed wrapper over
// NATS JetStream providing the key/value, set, blocking-list, stream, and
// atomic-increment primitives the rest of the engine is built on. Other
// packages touch *nats.Conn only for connection setup (cmd/platform) and
// plain publish/subscribe on Conn() through pkg/natsutil.
package coord

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// ErrNotFound is returned by Get-style operations when a key is absent.
var ErrNotFound = errors.New("coord: not found")

// ErrTimeout is returned by blocking operations that time out without data.
var ErrTimeout = errors.New("coord: timeout")

// Adapter is the Coordination Adapter. A single Adapter is shared by the
// Job Queue, the Worker/Storage-Node registries, and the Graph Writer.
type Adapter struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// New wraps an already-connected NATS client.
func New(nc *nats.Conn) (*Adapter, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("coord: jetstream init: %w", err)
	}
	return &Adapter{nc: nc, js: js}, nil
}

// Conn returns the underlying NATS connection, for components (e.g. the
// Graph Writer's OTel-carrying publish helpers) that need raw pub/sub.
func (a *Adapter) Conn() *nats.Conn { return a.nc }

func bucketKV(ctx context.Context, js jetstream.JetStream, bucket string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, bucket)
	if err == nil {
		return kv, nil
	}
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: bucket})
}

// --- Hash get/set/delete ---
//
// A "hash" is modelled as a KV bucket named hash_<name>; fields are keys
// within that bucket.

func (a *Adapter) HashSet(ctx context.Context, hash, field string, value []byte) error {
	kv, err := bucketKV(ctx, a.js, "hash_"+hash)
	if err != nil {
		return fmt.Errorf("coord: hashset bucket %s: %w", hash, err)
	}
	_, err = kv.Put(ctx, field, value)
	return err
}

func (a *Adapter) HashGet(ctx context.Context, hash, field string) ([]byte, error) {
	kv, err := bucketKV(ctx, a.js, "hash_"+hash)
	if err != nil {
		return nil, fmt.Errorf("coord: hashget bucket %s: %w", hash, err)
	}
	entry, err := kv.Get(ctx, field)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return entry.Value(), nil
}

func (a *Adapter) HashDelete(ctx context.Context, hash, field string) error {
	kv, err := bucketKV(ctx, a.js, "hash_"+hash)
	if err != nil {
		return fmt.Errorf("coord: hashdel bucket %s: %w", hash, err)
	}
	return kv.Delete(ctx, field)
}

// HashKeys lists every field in a hash bucket.
func (a *Adapter) HashKeys(ctx context.Context, hash string) ([]string, error) {
	kv, err := bucketKV(ctx, a.js, "hash_"+hash)
	if err != nil {
		return nil, fmt.Errorf("coord: hashkeys bucket %s: %w", hash, err)
	}
	lister, err := kv.ListKeys(ctx)
	if err != nil {
		return nil, err
	}
	var keys []string
	for k := range lister.Keys() {
		keys = append(keys, k)
	}
	return keys, nil
}

// --- Set add/remove/members ---
//
// A set is a hash bucket whose values are the literal byte "1"; membership
// is field presence.

func (a *Adapter) SetAdd(ctx context.Context, set, member string) error {
	return a.HashSet(ctx, "set_"+set, member, []byte{'1'})
}

func (a *Adapter) SetRemove(ctx context.Context, set, member string) error {
	return a.HashDelete(ctx, "set_"+set, member)
}

func (a *Adapter) SetMembers(ctx context.Context, set string) ([]string, error) {
	return a.HashKeys(ctx, "set_"+set)
}

func (a *Adapter) SetIsMember(ctx context.Context, set, member string) (bool, error) {
	_, err := a.HashGet(ctx, "set_"+set, member)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// --- Atomic increment ---

func (a *Adapter) Incr(ctx context.Context, hash, field string, delta int64) (int64, error) {
	kv, err := bucketKV(ctx, a.js, "hash_"+hash)
	if err != nil {
		return 0, fmt.Errorf("coord: incr bucket %s: %w", hash, err)
	}
	for attempt := 0; attempt < 10; attempt++ {
		entry, err := kv.Get(ctx, field)
		var cur int64
		var rev uint64
		switch {
		case errors.Is(err, jetstream.ErrKeyNotFound):
			cur, rev = 0, 0
		case err != nil:
			return 0, err
		default:
			cur, _ = strconv.ParseInt(string(entry.Value()), 10, 64)
			rev = entry.Revision()
		}
		next := cur + delta
		if rev == 0 {
			if _, err := kv.Create(ctx, field, []byte(strconv.FormatInt(next, 10))); err == nil {
				return next, nil
			}
			continue // lost the create race, retry
		}
		if _, err := kv.Update(ctx, field, []byte(strconv.FormatInt(next, 10)), rev); err == nil {
			return next, nil
		}
		// revision mismatch: another writer incremented first, retry
	}
	return 0, fmt.Errorf("coord: incr %s/%s: too many CAS retries", hash, field)
}

// --- Blocking list pop / push (the Job Queue's transport) ---
//
// A "list" is a JetStream work-queue-retention stream; Push publishes,
// PopBlocking pulls up to n messages, waiting at most timeout, and leaves
// them unacked until the caller explicitly Acks or Nacks each one (so
// failed pops are redelivered).

func listStreamName(list string) string { return "list_" + list }

func (a *Adapter) ensureListStream(ctx context.Context, list string) (jetstream.Stream, error) {
	name := listStreamName(list)
	s, err := a.js.Stream(ctx, name)
	if err == nil {
		return s, nil
	}
	return a.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:      name,
		Subjects:  []string{name + ".>"},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
}

func (a *Adapter) Push(ctx context.Context, list string, payload []byte) error {
	if _, err := a.ensureListStream(ctx, list); err != nil {
		return fmt.Errorf("coord: ensure list stream %s: %w", list, err)
	}
	_, err := a.js.Publish(ctx, listStreamName(list)+".item", payload)
	return err
}

// ListItem is a popped message awaiting acknowledgement.
type ListItem struct {
	Payload []byte
	msg     jetstream.Msg
}

func (i ListItem) Ack() error  { return i.msg.Ack() }
func (i ListItem) Nack() error { return i.msg.Nak() }

// PopBlocking pops up to n items, waiting up to timeout for the first.
func (a *Adapter) PopBlocking(ctx context.Context, list string, n int, timeout time.Duration) ([]ListItem, error) {
	stream, err := a.ensureListStream(ctx, list)
	if err != nil {
		return nil, fmt.Errorf("coord: ensure list stream %s: %w", list, err)
	}
	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:   "popper",
		AckPolicy: jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("coord: list consumer %s: %w", list, err)
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	batch, err := cons.Fetch(n, jetstream.FetchMaxWait(timeout))
	_ = fetchCtx
	if err != nil {
		return nil, fmt.Errorf("coord: fetch %s: %w", list, err)
	}
	var items []ListItem
	for msg := range batch.Messages() {
		items = append(items, ListItem{Payload: msg.Data(), msg: msg})
	}
	if err := batch.Error(); err != nil && len(items) == 0 {
		return nil, ErrTimeout
	}
	return items, nil
}

// --- Ordered stream append / consumer-group read / ack ---
//
// Used by the graph-update stream: many producers append, a single
// consumer group (durable name shared across writer replicas) reads.

func streamName(stream string) string { return "stream_" + stream }

func (a *Adapter) ensureStream(ctx context.Context, stream string, maxMsgs int64) (jetstream.Stream, error) {
	name := streamName(stream)
	s, err := a.js.Stream(ctx, name)
	if err == nil {
		return s, nil
	}
	return a.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:      name,
		Subjects:  []string{name + ".>"},
		Retention: jetstream.LimitsPolicy,
		MaxMsgs:   maxMsgs, // capped stream with approximate trimming, §4.5 step 10
		Storage:   jetstream.FileStorage,
	})
}

// StreamAppend appends an event to an ordered, capped stream.
func (a *Adapter) StreamAppend(ctx context.Context, stream string, maxMsgs int64, payload []byte) error {
	if _, err := a.ensureStream(ctx, stream, maxMsgs); err != nil {
		return fmt.Errorf("coord: ensure stream %s: %w", stream, err)
	}
	_, err := a.js.Publish(ctx, streamName(stream)+".event", payload)
	return err
}

// StreamEvent is a consumer-group delivery pending acknowledgement.
type StreamEvent struct {
	Payload []byte
	msg     jetstream.Msg
}

func (e StreamEvent) Ack() error { return e.msg.Ack() }

// StreamReadGroup reads up to n pending events for the named consumer
// group, sharing the durable consumer across every process in the group
// (work-queue fan-out) per §4.6/§5's single-writer-per-message semantics.
func (a *Adapter) StreamReadGroup(ctx context.Context, stream, group string, n int, wait time.Duration) ([]StreamEvent, error) {
	s, err := a.ensureStream(ctx, stream, 0)
	if err != nil {
		return nil, fmt.Errorf("coord: ensure stream %s: %w", stream, err)
	}
	cons, err := s.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:   group,
		AckPolicy: jetstream.AckExplicitPolicy,
		AckWait:   2 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("coord: consumer group %s/%s: %w", stream, group, err)
	}
	batch, err := cons.Fetch(n, jetstream.FetchMaxWait(wait))
	if err != nil {
		return nil, fmt.Errorf("coord: fetch %s/%s: %w", stream, group, err)
	}
	var events []StreamEvent
	for msg := range batch.Messages() {
		events = append(events, StreamEvent{Payload: msg.Data(), msg: msg})
	}
	return events, nil
}
