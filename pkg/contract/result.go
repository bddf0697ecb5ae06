package contract

import "fmt"

// ResultKind: 单条记录的注册中心结果类别。
type ResultKind uint8

const (
	KindUnresolved ResultKind = iota
	KindResolved
)

// UnresolvedID: 注册中心对无法解析等位基因返回的哨兵标识。
const UnresolvedID = "_:CA"

// ExternalRef: 一条交叉引用（来源名 -> 不透明值，原始 JSON 文本）。
type ExternalRef struct {
	Name  string
	Value string
}

// Result: 标签联合，仅 Resolved 携带 ID；两种结果都可携带交叉引用。
// External 按响应中的出现顺序保存，来源名在单条结果内唯一。
type Result struct {
	Kind     ResultKind
	ID       string
	External []ExternalRef
}

// Resolved 构造已解析结果。
func Resolved(id string, external ...ExternalRef) Result {
	return Result{Kind: KindResolved, ID: id, External: external}
}

// Unresolved 构造未解析结果；注册中心对 _:CA 也可能返回交叉引用。
func Unresolved(external ...ExternalRef) Result {
	return Result{Kind: KindUnresolved, External: external}
}

func (r Result) IsResolved() bool { return r.Kind == KindResolved }

// Slot: 记录与其结果的配对。
type Slot struct {
	Record Record
	Result Result
}

// Pair 按位置配对批记录与结果。
// 长度不一致返回 ErrSeqInvalid；位置是唯一的关联方式，不做任何重排。
func Pair(b Batch, results []Result) ([]Slot, error) {
	if len(results) != len(b.Records) {
		return nil, fmt.Errorf("%w: batch %d has %d records, got %d results", ErrSeqInvalid, b.BatchIndex, len(b.Records), len(results))
	}
	slots := make([]Slot, len(results))
	for i := range results {
		slots[i] = Slot{Record: b.Records[i], Result: results[i]}
	}
	return slots, nil
}
