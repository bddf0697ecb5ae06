package filesystem

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"carname/pkg/contract"
)

// Options: 最小必要选项。
type Options struct {
	// OutputDir: 工件根目录（必需）。
	OutputDir string `json:"output_dir"`
	// Atomic: 是否使用原子替换（同目录临时文件 + rename）。默认 true。
	Atomic *bool `json:"atomic,omitempty"`
	// PermFile/PermDir: 可选权限；为 0 表示使用默认。
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
	// BufSize: 写缓冲区大小；<=0 使用默认。
	BufSize int `json:"buf_size,omitempty"`
	// GzipLevel: 以 .gz 结尾的工件的压缩级别；0 使用默认级别。
	GzipLevel int `json:"gzip_level,omitempty"`
}

// FS: 扁平目录下的工件存储。以 .gz 结尾的工件写入时压缩、回读时解压。
type FS struct {
	root    string
	atomic  bool
	permF   os.FileMode
	permD   os.FileMode
	bufSize int
	level   int
}

// New 创建文件系统 Writer 实现。
func New(opts *Options) (*FS, error) {
	if opts == nil || strings.TrimSpace(opts.OutputDir) == "" {
		return nil, fmt.Errorf("%w: writer output_dir required", contract.ErrConfig)
	}
	w := &FS{root: opts.OutputDir, atomic: true, permF: 0o644, permD: 0o755, bufSize: 64 * 1024, level: gzip.DefaultCompression}
	if opts.BufSize > 0 {
		w.bufSize = opts.BufSize
	}
	if opts.PermFile != 0 {
		w.permF = opts.PermFile
	}
	if opts.PermDir != 0 {
		w.permD = opts.PermDir
	}
	if opts.Atomic != nil {
		w.atomic = *opts.Atomic
	}
	if opts.GzipLevel != 0 {
		if opts.GzipLevel < gzip.HuffmanOnly || opts.GzipLevel > gzip.BestCompression {
			return nil, fmt.Errorf("%w: gzip_level %d", contract.ErrConfig, opts.GzipLevel)
		}
		w.level = opts.GzipLevel
	}
	return w, nil
}

var _ contract.Store = (*FS)(nil)

// Write 将 r 的全部字节写入到基于 id 映射的目标路径。
func (w *FS) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	dest, err := w.mapPath(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), w.permD); err != nil {
		return err
	}

	if w.atomic {
		return w.writeAtomic(ctx, dest, r)
	}
	return w.writeOverwrite(ctx, dest, r)
}

// Open 回读工件；.gz 工件透明解压（支持多成员）。
func (w *FS) Open(ctx context.Context, id contract.ArtifactID) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	p, err := w.mapPath(id)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	if !isGz(p) {
		return f, nil
	}
	zr, err := gzip.NewReader(bufio.NewReaderSize(f, w.bufSize))
	if err != nil {
		_ = f.Close()
		if errors.Is(err, io.EOF) {
			// 空文件视为空工件
			return io.NopCloser(strings.NewReader("")), nil
		}
		return nil, err
	}
	return &gzReadCloser{Reader: zr, f: f}, nil
}

// Remove 删除工件；不存在视为成功。
func (w *FS) Remove(ctx context.Context, id contract.ArtifactID) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	p, err := w.mapPath(id)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// mapPath: 仅保留文件名（扁平目录），拒绝空名与父级逃逸。
func (w *FS) mapPath(id contract.ArtifactID) (string, error) {
	rel := filepath.Clean(string(id))
	if rel == "." || rel == "" || rel == ".." || filepath.IsAbs(rel) || strings.ContainsAny(rel, `/\`) {
		return "", contract.ErrPathInvalid
	}
	return filepath.Join(w.root, rel), nil
}

func (w *FS) writeOverwrite(ctx context.Context, dest string, r io.Reader) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, w.permF)
	if err != nil {
		return err
	}
	defer f.Close()
	return w.copyTo(ctx, f, dest, r)
}

func (w *FS) writeAtomic(ctx context.Context, dest string, r io.Reader) error {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	_ = os.Chmod(tmpPath, w.permF)

	fail := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := w.copyTo(ctx, tmp, dest, r); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := osReplace(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	// 最佳努力：同步父目录元数据
	_ = syncDir(dir)
	return nil
}

// copyTo 经缓冲（以及按需的 gzip 层）把 r 写入 f。dest 决定是否压缩。
func (w *FS) copyTo(ctx context.Context, f *os.File, dest string, r io.Reader) error {
	bw := bufio.NewWriterSize(f, w.bufSize)
	var dst io.Writer = bw
	var zw *gzip.Writer
	if isGz(dest) {
		var err error
		if zw, err = gzip.NewWriterLevel(bw, w.level); err != nil {
			return err
		}
		dst = zw
	}
	if _, err := io.Copy(dst, readerWithCtx(ctx, r)); err != nil {
		return err
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func isGz(p string) bool { return strings.HasSuffix(strings.ToLower(p), ".gz") }

type gzReadCloser struct {
	*gzip.Reader
	f *os.File
}

func (g *gzReadCloser) Close() error {
	err := g.Reader.Close()
	if cerr := g.f.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// readerWithCtx: 在每次 Read 前检查 ctx 是否已取消。
func readerWithCtx(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	select {
	case <-cr.ctx.Done():
		return 0, cr.ctx.Err()
	default:
	}
	return cr.r.Read(p)
}
