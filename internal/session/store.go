package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrNoSession is returned when the key has no active session
var ErrNoSession = errors.New("no active session")

// Store keeps sessions by key. Implementations never expire entries on their
// own.
type Store interface {
	Get(ctx context.Context, key Key) (Session, error)
	Put(ctx context.Context, key Key, s Session) error
	Delete(ctx context.Context, key Key) error
}

type envelope struct {
	Flow    Flow            `json:"flow"`
	Session json.RawMessage `json:"session"`
}

// Encode serializes a session together with its flow tag
func Encode(s Session) ([]byte, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Flow: s.Flow(), Session: body})
}

// Decode restores a session written by Encode
func Decode(data []byte) (Session, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode session envelope: %w", err)
	}

	var s Session
	switch env.Flow {
	case FlowAdd:
		s = &AddSession{}
	case FlowSync:
		s = &SyncSession{}
	case FlowTransfer:
		s = &TransferSession{}
	case FlowCancel:
		s = &CancelSession{}
	default:
		return nil, fmt.Errorf("decode session: unknown flow %q", env.Flow)
	}

	if err := json.Unmarshal(env.Session, s); err != nil {
		return nil, fmt.Errorf("decode %s session: %w", env.Flow, err)
	}
	return s, nil
}

// RedisStore keeps sessions in redis as JSON under ledger:session:{chat}:{actor}
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore creates a redis-backed session store
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func redisKey(key Key) string {
	return "ledger:session:" + key.String()
}

func (r *RedisStore) Get(ctx context.Context, key Key) (Session, error) {
	data, err := r.rdb.Get(ctx, redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoSession
		}
		return nil, err
	}
	return Decode(data)
}

func (r *RedisStore) Put(ctx context.Context, key Key, s Session) error {
	data, err := Encode(s)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, redisKey(key), data, 0).Err()
}

func (r *RedisStore) Delete(ctx context.Context, key Key) error {
	return r.rdb.Del(ctx, redisKey(key)).Err()
}
