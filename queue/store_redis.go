package queue

import (
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/pigeonpost/go-pigeon/log"
)

// redisKey holds the serialized queue state.
const redisKey = "pigeon:queue"

// RedisStore keeps the queue state in a single redis key, so several tools
// can inspect it and the daemon can restart without touching disk.
type RedisStore struct {
	pool *redis.Pool
	log  log.Logger
}

// NewRedisStore connects to the redis server at addr (host:port).
func NewRedisStore(addr string, l log.Logger) *RedisStore {
	return &RedisStore{
		log: l,
		pool: &redis.Pool{
			MaxIdle:     2,
			IdleTimeout: 240 * time.Second,
			Dial: func() (redis.Conn, error) {
				return redis.Dial("tcp", addr)
			},
			TestOnBorrow: func(c redis.Conn, t time.Time) error {
				if time.Since(t) < time.Minute {
					return nil
				}
				_, err := c.Do("PING")
				return err
			},
		},
	}
}

func (rs *RedisStore) Save(state State) error {
	b, err := encodeState(state)
	if err != nil {
		return err
	}
	conn := rs.pool.Get()
	defer conn.Close()
	_, err = conn.Do("SET", redisKey, b)
	return err
}

// Load reads the state key. A missing key yields an empty state; a corrupt
// value is logged and discarded.
func (rs *RedisStore) Load() (State, error) {
	conn := rs.pool.Get()
	defer conn.Close()
	b, err := redis.Bytes(conn.Do("GET", redisKey))
	if err == redis.ErrNil {
		return State{}, nil
	}
	if err != nil {
		return State{}, err
	}
	state, err := decodeState(b)
	if err != nil {
		rs.log.WithError(err).Error("discarding corrupt queue state from redis")
		return State{}, nil
	}
	return state, nil
}

// Close releases the connection pool.
func (rs *RedisStore) Close() error {
	return rs.pool.Close()
}
