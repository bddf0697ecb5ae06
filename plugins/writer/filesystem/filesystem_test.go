package filesystem

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carname/pkg/contract"
)

func noTempLeft(t *testing.T, dir string) {
	t.Helper()
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Fatalf("tmp file not cleaned: %s", e.Name())
		}
	}
}

// TestWriteAtomic 原子写入与覆盖
func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	w, err := New(&Options{OutputDir: dir})
	require.NoError(t, err)
	require.NoError(t, w.Write(context.Background(), "out.txt", bytes.NewBufferString("v1")))
	require.NoError(t, w.Write(context.Background(), "out.txt", bytes.NewBufferString("v2")))
	b, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(b))
	noTempLeft(t, dir)
}

// TestWriteNonAtomic 非原子写入
func TestWriteNonAtomic(t *testing.T) {
	dir := t.TempDir()
	a := false
	w, err := New(&Options{OutputDir: filepath.Join(dir, "nested"), Atomic: &a})
	require.NoError(t, err)
	require.NoError(t, w.Write(context.Background(), "out.txt", bytes.NewBufferString("v")))
	_, err = os.Stat(filepath.Join(dir, "nested", "out.txt"))
	require.NoError(t, err)
}

// TestGzipRoundTrip .gz 工件写入压缩、回读解压
func TestGzipRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := New(&Options{OutputDir: dir})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, w.Write(ctx, "x_CAid.vcf.gz", strings.NewReader("1\t100\t.\tA\tG\tCA1\n")))

	raw, err := os.ReadFile(filepath.Join(dir, "x_CAid.vcf.gz"))
	require.NoError(t, err)
	require.True(t, len(raw) > 2 && raw[0] == 0x1f && raw[1] == 0x8b, "expect gzip magic")

	rc, err := w.Open(ctx, "x_CAid.vcf.gz")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "1\t100\t.\tA\tG\tCA1\n", string(got))

	// 空输入也应产出合法 gzip
	require.NoError(t, w.Write(ctx, "empty.vcf.gz", strings.NewReader("")))
	rc, err = w.Open(ctx, "empty.vcf.gz")
	require.NoError(t, err)
	got, _ = io.ReadAll(rc)
	_ = rc.Close()
	assert.Empty(t, got)
}

func TestRemove(t *testing.T) {
	dir := t.TempDir()
	w, err := New(&Options{OutputDir: dir})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, w.Write(ctx, "a.txt", strings.NewReader("a")))
	require.NoError(t, w.Remove(ctx, "a.txt"))
	_, err = os.Stat(filepath.Join(dir, "a.txt"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.NoError(t, w.Remove(ctx, "a.txt"))
}

// TestWritePathInvalid 路径越界或非扁平名
func TestWritePathInvalid(t *testing.T) {
	w, err := New(&Options{OutputDir: t.TempDir()})
	require.NoError(t, err)
	for _, id := range []string{"../bad", "..", ".", "", "sub/out.txt", "/abs"} {
		err := w.Write(context.Background(), contract.ArtifactID(id), bytes.NewBufferString("x"))
		assert.ErrorIs(t, err, contract.ErrPathInvalid, id)
	}
}

// TestWriteCtxCancel 上下文取消
func TestWriteCtxCancel(t *testing.T) {
	w, err := New(&Options{OutputDir: t.TempDir()})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, w.Write(ctx, "a.txt", strings.NewReader("data")), context.Canceled)
	_, err = w.Open(ctx, "a.txt")
	assert.ErrorIs(t, err, context.Canceled)
}

// TestNewInvalid 参数缺失
func TestNewInvalid(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, contract.ErrConfig)
	_, err = New(&Options{})
	assert.ErrorIs(t, err, contract.ErrConfig)
	_, err = New(&Options{OutputDir: "x", GzipLevel: 42})
	assert.ErrorIs(t, err, contract.ErrConfig)
}

type errReader struct{}

func (errReader) Read(p []byte) (int, error) { return 0, errors.New("boom") }

// TestWriteAtomicCopyError 原子写入时拷贝失败不留残片
func TestWriteAtomicCopyError(t *testing.T) {
	dir := t.TempDir()
	w, err := New(&Options{OutputDir: dir})
	require.NoError(t, err)
	require.Error(t, w.Write(context.Background(), "a.txt", errReader{}))
	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}
