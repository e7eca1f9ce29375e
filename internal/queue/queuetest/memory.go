// Package queuetest provides an in-process Redis connection covering the
// commands used by the queue package.
package queuetest

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/garyburd/redigo/redis"
)

// Memory holds lists and string keys shared by every connection of a pool.
type Memory struct {
	lists map[string][][]byte
	kv    map[string][]byte
	ttl   map[string]int
	mu    sync.Mutex
}

// NewMemory creates an empty Memory.
func NewMemory() *Memory {
	return &Memory{lists: map[string][][]byte{}, kv: map[string][]byte{}, ttl: map[string]int{}}
}

// Pool returns a pool whose connections operate on m.
func (m *Memory) Pool() *redis.Pool {
	return &redis.Pool{
		MaxIdle: 4,
		Dial:    func() (redis.Conn, error) { return &conn{m: m}, nil },
	}
}

// List returns a copy of the list at key.
func (m *Memory) List(key string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.lists[key]...)
}

// TTL returns the expiry in seconds last set on key.
func (m *Memory) TTL(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ttl[key]
}

// BlockTimeout is how long BLPOP waits on an empty list, regardless of the
// timeout passed by the caller.
var BlockTimeout = 20 * time.Millisecond

type conn struct{ m *Memory }

func (c *conn) Close() error                      { return nil }
func (c *conn) Err() error                        { return nil }
func (c *conn) Send(string, ...interface{}) error { return nil }
func (c *conn) Flush() error                      { return nil }
func (c *conn) Receive() (interface{}, error)     { return nil, nil }

func toBytes(v interface{}) []byte {
	switch v := v.(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		return []byte(fmt.Sprint(v))
	}
}

func (c *conn) Do(cmd string, args ...interface{}) (interface{}, error) {
	if cmd == "" {
		return nil, nil
	}
	if cmd == "PING" {
		return "PONG", nil
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("wrong number of arguments for %s", cmd)
	}
	key := string(toBytes(args[0]))

	if cmd == "BLPOP" {
		deadline := time.Now().Add(BlockTimeout)
		for {
			if v := c.m.pop(key); v != nil {
				return []interface{}{[]byte(key), v}, nil
			}
			if time.Now().After(deadline) {
				return nil, nil
			}
			time.Sleep(time.Millisecond)
		}
	}

	m := c.m
	m.mu.Lock()
	defer m.mu.Unlock()

	switch cmd {
	case "RPUSH":
		m.lists[key] = append(m.lists[key], toBytes(args[1]))
		return int64(len(m.lists[key])), nil
	case "LPUSH":
		m.lists[key] = append([][]byte{toBytes(args[1])}, m.lists[key]...)
		return int64(len(m.lists[key])), nil
	case "LLEN":
		return int64(len(m.lists[key])), nil
	case "SETEX":
		ttl, err := strconv.Atoi(string(toBytes(args[1])))
		if err != nil {
			return nil, err
		}
		m.ttl[key] = ttl
		m.kv[key] = toBytes(args[2])
		return "OK", nil
	case "GET":
		v, ok := m.kv[key]
		if !ok {
			return nil, nil
		}
		return v, nil
	case "EXISTS":
		if _, ok := m.kv[key]; ok {
			return int64(1), nil
		}
		return int64(0), nil
	case "DEL":
		_, ok := m.kv[key]
		delete(m.kv, key)
		delete(m.ttl, key)
		if ok {
			return int64(1), nil
		}
		return int64(0), nil
	}
	return nil, fmt.Errorf("unsupported command %s", cmd)
}

func (m *Memory) pop(key string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.lists[key]
	if len(l) == 0 {
		return nil
	}
	m.lists[key] = l[1:]
	return l[0]
}
