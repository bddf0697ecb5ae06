package contract

import (
	"context"
	"io"
)

// ArtifactID: 持久化工件标识（语义别名），与 FileID 复用同一表示。
type ArtifactID = FileID

// Writer: 将结果以流式方式持久化到目标介质。
// 约束：
//  1. 同一 ArtifactID 单写者；
//  2. 流式写入（O(1) 额外内存），按字节透传，不读取/修改业务内容；
//  3. ctx 取消/超时需尽快返回；
//  4. 错误直接上抛（不做重试/回退）。
type Writer interface {
	Write(ctx context.Context, id ArtifactID, r io.Reader) error
}

// Store: 可回读与删除的 Writer（中间工件目录）。
type Store interface {
	Writer
	Open(ctx context.Context, id ArtifactID) (io.ReadCloser, error)
	Remove(ctx context.Context, id ArtifactID) error
}
