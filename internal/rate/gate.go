package rate

import (
	"context"
	"sync"
	"time"

	"carname/pkg/contract"
)

// LimitKey: 限流分组键（客户端名 + 登录名摘要）。
type LimitKey string

// Limits: 每分组的限额配置。0 表示该维度不启用。
type Limits struct {
	RPM               int // requests per minute
	VPM               int // variants per minute
	MaxVariantsPerReq int // 单次请求变异条数上限，0 表示不限制
}

// Ask: 一次放行申请。
type Ask struct {
	Key      LimitKey
	Requests int // 必须 >=1
	Variants int // 本次提交的变异条数（>=0）
}

// Gate: 限流闸门（并发安全）。
type Gate interface {
	// Wait: 阻塞直到额度可用或 ctx 取消；违反单请求上限时快速失败。
	Wait(ctx context.Context, a Ask) error
	// Try: 非阻塞尝试；不足时返回 false。
	Try(a Ask) bool
}

// Snapshoter: 可选诊断接口。
type Snapshoter interface {
	Snapshot(key LimitKey) (rpmAvail, vpmAvail int)
}

// NewGate: 从静态配置构造闸门；clk 为空则使用 time.Now。
func NewGate(m map[LimitKey]Limits, clk func() time.Time) Gate {
	if clk == nil {
		clk = time.Now
	}
	g := &gate{clk: clk, m: make(map[LimitKey]*entry, len(m))}
	now := clk()
	for k, lim := range m {
		g.m[k] = newEntry(lim, now)
	}
	return g
}

type gate struct {
	clk func() time.Time
	mu  sync.Mutex
	m   map[LimitKey]*entry
}

type entry struct {
	mu   sync.Mutex
	lim  Limits
	req  bucket
	vars bucket
}

// bucket: 按分钟额度线性回填的令牌桶。
type bucket struct {
	cap   int
	level float64
	rate  float64 // 每秒回填量
	last  time.Time
}

func newEntry(lim Limits, now time.Time) *entry {
	return &entry{lim: lim, req: newBucket(lim.RPM, now), vars: newBucket(lim.VPM, now)}
}

func newBucket(capacity int, now time.Time) bucket {
	if capacity <= 0 {
		return bucket{}
	}
	return bucket{cap: capacity, level: float64(capacity), rate: float64(capacity) / 60.0, last: now}
}

func (b *bucket) enabled() bool { return b.cap > 0 }

func (b *bucket) refill(now time.Time) {
	// 时钟回拨视为无时间流逝
	if !b.enabled() || !now.After(b.last) {
		return
	}
	b.level += now.Sub(b.last).Seconds() * b.rate
	if b.level > float64(b.cap) {
		b.level = float64(b.cap)
	}
	b.last = now
}

// canTake: 需求超过桶容量时，以满桶为准放行，否则永远等不到。
func (b *bucket) canTake(n int) bool {
	if !b.enabled() || n <= 0 {
		return true
	}
	need := float64(n)
	if need > float64(b.cap) {
		need = float64(b.cap)
	}
	return b.level >= need
}

func (b *bucket) take(n int) {
	if !b.enabled() || n <= 0 {
		return
	}
	b.level -= float64(n)
	if b.level < 0 {
		b.level = 0
	}
}

// waitSecFor 返回达到可消费 n 还需等待的秒数。
func (b *bucket) waitSecFor(n int) float64 {
	if !b.enabled() || n <= 0 {
		return 0
	}
	need := float64(n)
	if need > float64(b.cap) {
		need = float64(b.cap)
	}
	deficit := need - b.level
	if deficit <= 0 {
		return 0
	}
	return deficit / b.rate
}

func (b *bucket) avail() int {
	if !b.enabled() {
		return 0
	}
	return int(b.level)
}

func (g *gate) get(key LimitKey) *entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.m[key]
	if e == nil {
		// 未配置的 key 视为不限额
		e = newEntry(Limits{}, g.clk())
		g.m[key] = e
	}
	return e
}

func (g *gate) check(a Ask) (*entry, error) {
	if a.Requests <= 0 || a.Variants < 0 {
		return nil, contract.ErrInvalidInput
	}
	e := g.get(a.Key)
	if e.lim.MaxVariantsPerReq > 0 && a.Variants > e.lim.MaxVariantsPerReq {
		return nil, contract.ErrInvalidInput
	}
	return e, nil
}

func (g *gate) Try(a Ask) bool {
	e, err := g.check(a)
	if err != nil {
		return false
	}
	now := g.clk()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.req.refill(now)
	e.vars.refill(now)
	if e.req.canTake(a.Requests) && e.vars.canTake(a.Variants) {
		e.req.take(a.Requests)
		e.vars.take(a.Variants)
		return true
	}
	return false
}

func (g *gate) Wait(ctx context.Context, a Ask) error {
	e, err := g.check(a)
	if err != nil {
		return err
	}
	const minSleep = 10 * time.Millisecond
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := g.clk()
		e.mu.Lock()
		e.req.refill(now)
		e.vars.refill(now)
		if e.req.canTake(a.Requests) && e.vars.canTake(a.Variants) {
			e.req.take(a.Requests)
			e.vars.take(a.Variants)
			e.mu.Unlock()
			return nil
		}
		waitSec := max(e.req.waitSecFor(a.Requests), e.vars.waitSecFor(a.Variants))
		e.mu.Unlock()

		d := time.Duration(waitSec*float64(time.Second)) + minSleep
		if err := sleepCtx(ctx, d); err != nil {
			return err
		}
	}
}

// sleepCtx 分片（≤200ms）睡眠以及时响应取消。
func sleepCtx(ctx context.Context, d time.Duration) error {
	const step = 200 * time.Millisecond
	for d > 0 {
		s := min(d, step)
		t := time.NewTimer(s)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		d -= s
	}
	return nil
}

// Snapshot: 返回当前可用请求/变异额度的向下取整估值（仅诊断）。
func (g *gate) Snapshot(key LimitKey) (rpmAvail, vpmAvail int) {
	e := g.get(key)
	now := g.clk()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.req.refill(now)
	e.vars.refill(now)
	return e.req.avail(), e.vars.avail()
}

var _ Gate = (*gate)(nil)
var _ Snapshoter = (*gate)(nil)
