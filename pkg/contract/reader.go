package contract

import (
	"context"
	"io"
)

// Reader: 输入源抽象（文件/STDIN）。
// 约束：
// 1) 流式读取，不做业务解析，仅提供（必要时已解压的）字节流；
// 2) 调用方负责 Close；
// 3) 不在内部起并发。
type Reader interface {
	Open(ctx context.Context, path string) (FileID, io.ReadCloser, error)
}
