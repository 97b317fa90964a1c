package factory

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/zeebo/blake3"
)

// DefaultVirtualNodes - число виртуальных узлов на один узел кольца.
const DefaultVirtualNodes = 150

// Balancer выбирает элемент пула (обычно провайдера) для ключа разговора.
//
// Возвращает false если пул пуст.
type Balancer[T any] interface {
	Pick(key string) (T, bool)
}

// RoundRobin отдаёт элементы по кругу, игнорируя ключ.
type RoundRobin[T any] struct {
	items []T
	next  atomic.Uint64
}

// NewRoundRobin создаёт балансировщик по кругу.
func NewRoundRobin[T any](items ...T) *RoundRobin[T] {
	return &RoundRobin[T]{items: items}
}

// Pick реализует Balancer.
func (r *RoundRobin[T]) Pick(string) (T, bool) {
	var zero T
	if len(r.items) == 0 {
		return zero, false
	}
	i := r.next.Add(1) - 1
	return r.items[i%uint64(len(r.items))], true
}

// hashKey - первые 8 байт BLAKE3 как big-endian uint64.
func hashKey(key string) uint64 {
	sum := blake3.Sum256([]byte(key))
	return binary.BigEndian.Uint64(sum[:8])
}

type ringPoint struct {
	hash uint64
	node int
}

// ConsistentHash - кольцо консистентного хеширования с виртуальными узлами.
//
// Один и тот же ключ разговора попадает на один узел, пока состав
// кольца не меняется. Добавление узла переносит только ~1/N ключей.
type ConsistentHash[T any] struct {
	mu           sync.RWMutex
	virtualNodes int
	ring         []ringPoint
	nodes        map[int]T
}

// NewConsistentHash строит кольцо из элементов; индекс элемента - номер узла.
// virtualNodes <= 0 означает DefaultVirtualNodes.
func NewConsistentHash[T any](virtualNodes int, items ...T) *ConsistentHash[T] {
	if virtualNodes <= 0 {
		virtualNodes = DefaultVirtualNodes
	}
	c := &ConsistentHash[T]{
		virtualNodes: virtualNodes,
		nodes:        make(map[int]T, len(items)),
	}
	for i, item := range items {
		c.addLocked(i, item)
	}
	c.sortLocked()
	return c
}

func (c *ConsistentHash[T]) addLocked(node int, item T) {
	for v := 0; v < c.virtualNodes; v++ {
		key := strconv.Itoa(node) + ":" + strconv.Itoa(v)
		c.ring = append(c.ring, ringPoint{hash: hashKey(key), node: node})
	}
	c.nodes[node] = item
}

func (c *ConsistentHash[T]) sortLocked() {
	sort.Slice(c.ring, func(i, j int) bool { return c.ring[i].hash < c.ring[j].hash })
}

// AddNode добавляет узел с номером node.
func (c *ConsistentHash[T]) AddNode(node int, item T) error {
	if node < 0 {
		return fmt.Errorf("node index must be non-negative, got %d", node)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.nodes[node]; ok {
		return fmt.Errorf("node %d already exists in the ring", node)
	}
	c.addLocked(node, item)
	c.sortLocked()
	return nil
}

// RemoveNode убирает узел и все его виртуальные точки.
func (c *ConsistentHash[T]) RemoveNode(node int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.ring) == 0 {
		return fmt.Errorf("no nodes available in the ring")
	}
	if _, ok := c.nodes[node]; !ok {
		return fmt.Errorf("node %d does not exist in the ring", node)
	}

	kept := c.ring[:0]
	for _, p := range c.ring {
		if p.node != node {
			kept = append(kept, p)
		}
	}
	c.ring = kept
	delete(c.nodes, node)
	return nil
}

// Node возвращает номер узла для ключа: первая точка кольца строго
// правее хеша ключа, с переходом через ноль.
func (c *ConsistentHash[T]) Node(key string) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.ring) == 0 {
		return 0, fmt.Errorf("no nodes available in the ring")
	}
	h := hashKey(key)
	i := sort.Search(len(c.ring), func(i int) bool { return c.ring[i].hash > h })
	return c.ring[i%len(c.ring)].node, nil
}

// Pick реализует Balancer.
func (c *ConsistentHash[T]) Pick(key string) (T, bool) {
	var zero T
	node, err := c.Node(key)
	if err != nil {
		return zero, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.nodes[node]
	return item, ok
}

// JumpHashIndex - jump consistent hash (Lamping, Veach) для ключа-строки.
// Возвращает -1 при buckets <= 0.
func JumpHashIndex(key string, buckets int) int {
	h := hashKey(key)
	b, j := int64(-1), int64(0)
	for j < int64(buckets) {
		b = j
		h = h*2862933555777941757 + 1
		j = int64(float64(b+1) * (float64(int64(1)<<31) / float64((h>>33)+1)))
	}
	return int(b)
}

// JumpHash распределяет ключи по фиксированному пулу без хранения кольца.
type JumpHash[T any] struct {
	items []T
}

// NewJumpHash создаёт балансировщик jump hash.
func NewJumpHash[T any](items ...T) *JumpHash[T] {
	return &JumpHash[T]{items: items}
}

// Pick реализует Balancer.
func (j *JumpHash[T]) Pick(key string) (T, bool) {
	var zero T
	if len(j.items) == 0 {
		return zero, false
	}
	return j.items[JumpHashIndex(key, len(j.items))], true
}

var (
	_ Balancer[int] = (*RoundRobin[int])(nil)
	_ Balancer[int] = (*ConsistentHash[int])(nil)
	_ Balancer[int] = (*JumpHash[int])(nil)
)
