package filesystem

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	"carname/pkg/contract"
)

// Options 为 FileSystem Reader 的可选配置（最小必要）。
type Options struct {
	// BufSize 为读缓冲区大小（字节）。默认 64KiB。
	BufSize int `json:"buf_size"`
	// Gzip: 解压策略。"auto"（默认，按 .gz 后缀或魔数判定）/"always"/"never"。
	Gzip string `json:"gzip"`
}

// FileSystem 实现基于文件系统与 STDIN 的单输入 Reader。
type FileSystem struct {
	bufSize int
	gzip    string
}

// New 创建 FileSystem Reader。
func New(opts *Options) (*FileSystem, error) {
	const defaultBuf = 64 * 1024
	r := &FileSystem{bufSize: defaultBuf, gzip: "auto"}
	if opts != nil {
		if opts.BufSize > 0 {
			r.bufSize = opts.BufSize
		}
		switch strings.ToLower(strings.TrimSpace(opts.Gzip)) {
		case "", "auto":
		case "always", "never":
			r.gzip = strings.ToLower(strings.TrimSpace(opts.Gzip))
		default:
			return nil, fmt.Errorf("%w: reader gzip mode %q", contract.ErrConfig, opts.Gzip)
		}
	}
	return r, nil
}

var _ contract.Reader = (*FileSystem)(nil)

// Open 打开单个输入。"-" 表示 STDIN；符号链接仅跟随到常规文件。
// 压缩输入在此解压，调用方拿到的始终是明文字节流。
func (r *FileSystem) Open(ctx context.Context, path string) (contract.FileID, io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return "", nil, ctx.Err()
	default:
	}

	if path == "" || path == "-" {
		rc, err := r.wrap(os.Stdin, "", nil)
		if err != nil {
			return "", nil, err
		}
		return contract.FileID("stdin"), rc, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", nil, err
	}
	if !info.Mode().IsRegular() {
		return "", nil, fmt.Errorf("%w: %s is not a regular file", contract.ErrPathInvalid, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return "", nil, err
	}
	rc, err := r.wrap(f, path, f)
	if err != nil {
		_ = f.Close()
		return "", nil, err
	}
	return contract.NormalizeFileID(path), rc, nil
}

// wrap 在缓冲读取器上判定是否为 gzip（后缀或 1F 8B 魔数），必要时叠加解压层。
func (r *FileSystem) wrap(src io.Reader, path string, c io.Closer) (io.ReadCloser, error) {
	br := bufio.NewReaderSize(src, r.bufSize)
	gz := false
	switch r.gzip {
	case "always":
		gz = true
	case "auto":
		if strings.HasSuffix(strings.ToLower(path), ".gz") {
			gz = true
		} else if sig, err := br.Peek(2); err == nil && sig[0] == 0x1f && sig[1] == 0x8b {
			gz = true
		}
	}
	if !gz {
		return &bufferedCloser{Reader: br, closers: []io.Closer{c}}, nil
	}
	zr, err := gzip.NewReader(br)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty gzip input %s", contract.ErrInvalidInput, path)
		}
		return nil, fmt.Errorf("%w: %v", contract.ErrInvalidInput, err)
	}
	// 多成员 gzip（分块拼接产物）按单一流连续读取
	zr.Multistream(true)
	return &bufferedCloser{Reader: bufio.NewReaderSize(zr, r.bufSize), closers: []io.Closer{zr, c}}, nil
}

// bufferedCloser 将 bufio.Reader 与底层 Closer 组合为 ReadCloser。
type bufferedCloser struct {
	*bufio.Reader
	closers []io.Closer
}

func (b *bufferedCloser) Close() error {
	var err error
	for _, c := range b.closers {
		if c == nil {
			continue
		}
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
