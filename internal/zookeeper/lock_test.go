package zookeeper

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn 是内存里的 znode 树，只实现锁用到的操作
type fakeConn struct {
	mu      sync.Mutex
	nodes   map[string]bool
	watches map[string][]chan zk.Event
	seq     int
}

func newFakeConn() *fakeConn {
	return &fakeConn{nodes: map[string]bool{"/": true}, watches: map[string][]chan zk.Event{}}
}

func (c *fakeConn) Exists(p string) (bool, *zk.Stat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nodes[p], &zk.Stat{}, nil
}

func (c *fakeConn) ExistsW(p string) (bool, *zk.Stat, <-chan zk.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan zk.Event, 1)
	c.watches[p] = append(c.watches[p], ch)
	return c.nodes[p], &zk.Stat{}, ch, nil
}

func (c *fakeConn) Create(p string, _ []byte, _ int32, _ []zk.ACL) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nodes[p] {
		return "", zk.ErrNodeExists
	}
	c.nodes[p] = true
	return p, nil
}

func (c *fakeConn) CreateProtectedEphemeralSequential(p string, _ []byte, _ []zk.ACL) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	dir, prefix := path.Split(p)
	node := fmt.Sprintf("%s_c_%04d-%s%010d", dir, 100-c.seq, prefix, c.seq)
	c.nodes[node] = true
	return node, nil
}

func (c *fakeConn) Children(p string) ([]string, *zk.Stat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for n := range c.nodes {
		if strings.HasPrefix(n, p+"/") && !strings.Contains(strings.TrimPrefix(n, p+"/"), "/") {
			out = append(out, strings.TrimPrefix(n, p+"/"))
		}
	}
	return out, &zk.Stat{}, nil
}

func (c *fakeConn) Delete(p string, _ int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.nodes[p] {
		return zk.ErrNoNode
	}
	delete(c.nodes, p)
	for _, ch := range c.watches[p] {
		ch <- zk.Event{Type: zk.EventNodeDeleted, Path: p}
	}
	delete(c.watches, p)
	return nil
}

func (c *fakeConn) children(t *testing.T, p string) []string {
	t.Helper()
	out, _, err := c.Children(p)
	require.NoError(t, err)
	return out
}

func TestDistributedLock_MutualExclusion(t *testing.T) {
	conn := newFakeConn()
	first, err := NewDistributedLock(conn, "seckill-window")
	require.NoError(t, err)
	second, err := NewDistributedLock(conn, "seckill-window")
	require.NoError(t, err)

	require.NoError(t, first.Lock(context.Background()))

	acquired := make(chan error, 1)
	go func() { acquired <- second.Lock(context.Background()) }()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first is held")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, first.Unlock())
	select {
	case err := <-acquired:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("second lock not acquired after release")
	}
	require.NoError(t, second.Unlock())
	assert.Empty(t, conn.children(t, lockRoot+"/seckill-window"))
}

func TestDistributedLock_ContextCancelAbandonsNode(t *testing.T) {
	conn := newFakeConn()
	holder, err := NewDistributedLock(conn, "seckill-window")
	require.NoError(t, err)
	require.NoError(t, holder.Lock(context.Background()))

	waiter, err := NewDistributedLock(conn, "seckill-window")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, waiter.Lock(ctx), context.DeadlineExceeded)
	assert.Len(t, conn.children(t, lockRoot+"/seckill-window"), 1, "waiter node removed")
	assert.Error(t, waiter.Unlock())
	require.NoError(t, holder.Unlock())
}

func TestWindowLocker_Acquire(t *testing.T) {
	conn := newFakeConn()
	locker := NewWindowLocker(conn, "seckill-window")

	release, err := locker.Acquire(context.Background())
	require.NoError(t, err)
	assert.Len(t, conn.children(t, lockRoot+"/seckill-window"), 1)
	release()
	assert.Empty(t, conn.children(t, lockRoot+"/seckill-window"))

	release, err = NoopLocker{}.Acquire(context.Background())
	require.NoError(t, err)
	release()
}

func TestSequence(t *testing.T) {
	assert.Equal(t, "0000000003", sequence("_c_abc-lock-0000000003"))
	assert.Equal(t, "other", sequence("other"))
}
