package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"carname/internal/diag"
	"carname/internal/ledger"
	"carname/pkg/contract"
	"carname/plugins/batcher/fixed"
	"carname/plugins/decoder/carjson"
	nvcf "carname/plugins/normalizer/vcf"
	pvcf "carname/plugins/payload/vcf"
	"carname/plugins/reconciler/split"
	"carname/plugins/registryclient/flaky"
	"carname/plugins/registryclient/mock"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// 通用桩件 ----------------------------------------------------

type stringReader struct {
	text   string
	opened int
}

func (r *stringReader) Open(ctx context.Context, path string) (contract.FileID, io.ReadCloser, error) {
	r.opened++
	return contract.NormalizeFileID(path), io.NopCloser(strings.NewReader(r.text)), nil
}

// memStore: 内存版 Store（并发安全）。
type memStore struct {
	mu    sync.Mutex
	files map[contract.ArtifactID]string
}

func newMem() *memStore { return &memStore{files: map[contract.ArtifactID]string{}} }

func (m *memStore) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.files[id] = string(b)
	m.mu.Unlock()
	return nil
}

func (m *memStore) Open(ctx context.Context, id contract.ArtifactID) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.files[id]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(strings.NewReader(s)), nil
}

func (m *memStore) Remove(ctx context.Context, id contract.ArtifactID) error {
	m.mu.Lock()
	delete(m.files, id)
	m.mu.Unlock()
	return nil
}

func (m *memStore) get(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.files[contract.ArtifactID(id)]
	return s, ok
}

// recordingClient 记录每次提交的载荷数据行，随后委托给内部客户端。
type recordingClient struct {
	mu    sync.Mutex
	inner contract.RegistryClient
	lines []string
	calls int
}

func (c *recordingClient) Submit(ctx context.Context, p contract.Payload, mode contract.Mode) (contract.Raw, error) {
	c.mu.Lock()
	c.calls++
	c.lines = append(c.lines, p.Lines...)
	c.mu.Unlock()
	return c.inner.Submit(ctx, p, mode)
}

type fixture struct {
	comp   Components
	set    Settings
	work   *memStore
	out    *memStore
	client *recordingClient
}

func newFixture(t testing.TB, input string, client contract.RegistryClient) *fixture {
	t.Helper()
	pb, err := pvcf.New(&pvcf.Options{Genome: "hg38"})
	require.NoError(t, err)
	dec, err := carjson.New(nil)
	require.NoError(t, err)
	rec, err := split.New(nil)
	require.NoError(t, err)
	if client == nil {
		client, err = mock.New(nil, contract.Credentials{})
		require.NoError(t, err)
	}
	rc := &recordingClient{inner: client}
	f := &fixture{work: newMem(), out: newMem(), client: rc}
	f.comp = Components{
		Reader:     &stringReader{text: input},
		Normalizer: nvcf.New(nil),
		Batcher:    fixed.New(nil),
		Payload:    pb,
		Client:     rc,
		Decoder:    dec,
		Reconciler: rec,
		Work:       f.work,
		Out:        f.out,
	}
	f.set = Settings{
		Input:       "/data/x.vcf",
		Name:        contract.NameFor("/data/x.vcf", false),
		Mode:        contract.ModeQuery,
		BlockSize:   1,
		Concurrency: 1,
		Summary:     true,
	}
	return f
}

const vcfHeader = "##fileformat=VCFv4.2\n##source=test\n#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\n"

func mockWith(t testing.TB, o mock.Options) contract.RegistryClient {
	t.Helper()
	raw, err := json.Marshal(o)
	require.NoError(t, err)
	c, err := mock.New(raw, contract.Credentials{})
	require.NoError(t, err)
	return c
}

func lines(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// 两行输入、块大小 1：首条解析、次条未解析。
func TestRunTwoRowsBlockOne(t *testing.T) {
	input := vcfHeader + "chr1\t100\t.\tA\tG\t.\t.\t.\nchr1\t200\t.\tC\tT\t.\t.\t.\n"
	f := newFixture(t, input, mockWith(t, mock.Options{UnresolvedPositions: []int64{200}}))
	rep, err := Run(context.Background(), f.comp, f.set, diag.NewNop())
	require.NoError(t, err)

	assert.Equal(t, 2, f.client.calls, "two single-record batches")
	assert.Equal(t, 2, rep.Batches)
	caid, _ := f.out.get("x_CAid.vcf")
	nocaid, _ := f.out.get("x_noCAid.vcf")
	require.Len(t, lines(caid), 1)
	assert.True(t, strings.HasPrefix(caid, "chr1\t100\t.\tA\tG\t.\t.\t.\thttp://reg.genome.network/allele/CA"))
	assert.Equal(t, []string{"chr1\t200\t.\tC\tT\t.\t.\t.\t"}, lines(nocaid))

	sum, ok := f.out.get("x_summary.txt")
	require.True(t, ok)
	assert.Contains(t, sum, "Total variants: 2\nTotal registered: 1\nTotal unregistered: 1\n")
	assert.Equal(t, int64(2), rep.Stats.Variants)

	// 合并后中间工件已清理
	f.work.mu.Lock()
	assert.Empty(t, f.work.files)
	f.work.mu.Unlock()
}

// 被拒行永不提交；_noCAid 以原始头部（附 ErrorComments）与被拒行开头。
func TestRunRejectionsNeverSubmitted(t *testing.T) {
	input := vcfHeader +
		"1\t10\t.\tA\t*\t.\t.\t.\n" +
		"1\t20\t.\tA\tG\t.\t.\t.\n" +
		"1\t30\t.\tA\tG,T\t.\t.\t.\n" +
		"1\t40\t.\tC\tT\t.\t.\t.\n" +
		"1\tx\t.\tC\tT\t.\t.\t.\n"
	for _, block := range []int{1, 2, 10} {
		t.Run(fmt.Sprintf("block=%d", block), func(t *testing.T) {
			f := newFixture(t, input, nil)
			f.set.BlockSize = block
			rep, err := Run(context.Background(), f.comp, f.set, diag.NewNop())
			require.NoError(t, err)
			for _, l := range f.client.lines {
				assert.NotContains(t, l, "*")
				assert.NotContains(t, l, ",")
			}
			assert.Len(t, f.client.lines, 2)
			assert.Equal(t, int64(3), rep.Rejected)

			nocaid, _ := f.out.get("x_noCAid.vcf")
			got := lines(nocaid)
			require.Len(t, got, 6)
			assert.Equal(t, "##fileformat=VCFv4.2", got[0])
			assert.Equal(t, "#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tErrorComments", got[2])
			assert.Equal(t, "1\t10\t.\tA\t*\t.\t.\t.\t"+contract.RejectWildcardAllele.Message(), got[3])
			assert.Equal(t, "1\t30\t.\tA\tG,T\t.\t.\t.\t"+contract.RejectMultiAllelic.Message(), got[4])
			assert.Equal(t, "1\tx\t.\tC\tT\t.\t.\t.\t"+contract.RejectMissingRequired.Message(), got[5])

			caid, _ := f.out.get("x_CAid.vcf")
			assert.Len(t, lines(caid), 2)
			assert.Equal(t, int64(5), rep.Stats.Variants)
			assert.Equal(t, int64(2), rep.Stats.Registered)
			assert.Equal(t, int64(3), rep.Stats.Unregistered)
		})
	}
}

// 整批错误：落盘诊断工件，其余批次继续，统计不计入失败批。
func TestRunBatchFailureContinues(t *testing.T) {
	input := vcfHeader +
		"1\t100\t.\tA\tG\t.\t.\t.\n" +
		"1\t200\t.\tC\tT\t.\t.\t.\n" +
		"1\t300\t.\tG\tA\t.\t.\t.\n"
	f := newFixture(t, input, mockWith(t, mock.Options{ErrorPositions: []int64{200}}))
	rep, err := Run(context.Background(), f.comp, f.set, diag.NewNop())
	require.NoError(t, err)

	assert.Equal(t, []int64{1}, rep.Failed)
	assert.Equal(t, int64(2), rep.Stats.Variants)
	caid, _ := f.out.get("x_CAid.vcf")
	assert.Len(t, lines(caid), 2)

	errTxt, ok := f.out.get("x_tmp-1_Error.txt")
	require.True(t, ok)
	assert.Contains(t, errTxt, "errorType: VcfParsingError\n")
	assert.Contains(t, errTxt, "description: Cannot parse allele at position 200\n")
	in, ok := f.out.get("x_tmp-1_input.txt")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(in, "##fileformat=VCFv4.2\n##contig=<ID=1,"))
	assert.True(t, strings.HasSuffix(in, "1\t200\t.\tC\tT\t.\t.\t.\n"))
	failed, ok := f.out.get("x_tmp-1_failed.vcf")
	require.True(t, ok)
	assert.Equal(t, "1\t200\t.\tC\tT\t.\t.\t.\n", failed)
}

// 响应条数不一致：整批失败而非错位写出。
func TestRunPairMismatchFailsBatch(t *testing.T) {
	input := vcfHeader + "1\t100\t.\tA\tG\t.\t.\t.\n1\t200\t.\tC\tT\t.\t.\t.\n"
	f := newFixture(t, input, mockWith(t, mock.Options{Short: true}))
	f.set.BlockSize = 2
	rep, err := Run(context.Background(), f.comp, f.set, diag.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []int64{0}, rep.Failed)
	caid, _ := f.out.get("x_CAid.vcf")
	assert.Empty(t, caid)
	errTxt, _ := f.out.get("x_tmp-0_Error.txt")
	assert.Contains(t, errTxt, "sequence invalid")
}

func flakyClient(t *testing.T, o flaky.Options) *flaky.Client {
	t.Helper()
	raw, err := json.Marshal(o)
	require.NoError(t, err)
	c, err := flaky.NewClient(raw)
	require.NoError(t, err)
	return c
}

// 瞬时错误按退避重试后成功。
func TestRunRetryTransient(t *testing.T) {
	for _, failure := range []string{"timeout", "rate_limited", "server_error"} {
		t.Run(failure, func(t *testing.T) {
			fc := flakyClient(t, flaky.Options{FailFirst: 2, Failure: failure})
			f := newFixture(t, vcfHeader+"1\t100\t.\tA\tG\t.\t.\t.\n", fc)
			f.set.MaxRetries = 2
			f.set.RetryBackoff = time.Millisecond
			rep, err := Run(context.Background(), f.comp, f.set, diag.NewNop())
			require.NoError(t, err)
			assert.Empty(t, rep.Failed)
			assert.Equal(t, int64(3), fc.Calls())
			assert.Equal(t, int64(1), rep.Stats.Registered)
		})
	}
}

// 重试耗尽：超时成为整批失败，错误工件标记传输错误。
func TestRunRetriesExhausted(t *testing.T) {
	fc := flakyClient(t, flaky.Options{FailFirst: 5, Failure: "timeout"})
	f := newFixture(t, vcfHeader+"1\t100\t.\tA\tG\t.\t.\t.\n", fc)
	f.set.MaxRetries = 1
	f.set.RetryBackoff = time.Millisecond
	rep, err := Run(context.Background(), f.comp, f.set, diag.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []int64{0}, rep.Failed)
	assert.Equal(t, int64(2), fc.Calls())
	errTxt, _ := f.out.get("x_tmp-0_Error.txt")
	assert.Equal(t, "error: registry batch error: flaky: call 2 timed out\n", errTxt)
	assert.Equal(t, int64(0), rep.Stats.Variants)
}

// 并发提交：完成顺序任意，输出仍按输入顺序。
func TestRunConcurrentPreservesOrder(t *testing.T) {
	var b strings.Builder
	b.WriteString(vcfHeader)
	const n = 97
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "1\t%d\t.\tA\tG\t.\t.\t.\n", i)
	}
	f := newFixture(t, b.String(), mockWith(t, mock.Options{UnresolvedPositions: []int64{5, 50, 97}}))
	f.set.BlockSize = 4
	f.set.Concurrency = 6
	rep, err := Run(context.Background(), f.comp, f.set, diag.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 25, rep.Batches)

	caid, _ := f.out.get("x_CAid.vcf")
	nocaid, _ := f.out.get("x_noCAid.vcf")
	resolved, unresolved := lines(caid), lines(nocaid)
	assert.Len(t, resolved, n-3)
	assert.Len(t, unresolved, 3)
	assert.Equal(t, n, len(resolved)+len(unresolved))
	pos := make([]int, 0, len(resolved))
	for _, l := range resolved {
		var p int
		_, err := fmt.Sscanf(strings.Split(l, "\t")[1], "%d", &p)
		require.NoError(t, err)
		pos = append(pos, p)
	}
	assert.True(t, sort.IntsAreSorted(pos), "resolved lines must keep input order")
	assert.Equal(t, int64(n), rep.Stats.Variants)
}

// 头部缺失：致命错误，客户端未被调用。
func TestRunHeaderInvalid(t *testing.T) {
	f := newFixture(t, "1\t100\t.\tA\tG\t.\t.\t.\n", nil)
	_, err := Run(context.Background(), f.comp, f.set, diag.NewNop())
	require.ErrorIs(t, err, contract.ErrHeaderInvalid)
	assert.Equal(t, 0, f.client.calls)
}

// 空输入：不产生批次，仍写出空的最终工件。
func TestRunEmptyInput(t *testing.T) {
	f := newFixture(t, vcfHeader, nil)
	rep, err := Run(context.Background(), f.comp, f.set, diag.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Batches)
	caid, ok := f.out.get("x_CAid.vcf")
	assert.True(t, ok)
	assert.Empty(t, caid)
}

// 续跑：账本中已完成的批次不重新提交，输出与首次一致。
func TestRunResumeSkipsCompleted(t *testing.T) {
	ctx := context.Background()
	input := vcfHeader + "1\t100\t.\tA\tG\t.\t.\t.\n1\t200\t.\tC\tT\t.\t.\t.\n1\t300\t.\tG\tA\t.\t.\t.\n"
	l, err := ledger.Open(ctx, ledger.Path(t.TempDir(), "x"))
	require.NoError(t, err)
	defer l.Close()
	meta := ledger.RunMeta{RunID: "r1", Input: "/data/x.vcf", Dialect: "vcf", Genome: "hg38", Mode: "query", BlockSize: 1}

	f := newFixture(t, input, mockWith(t, mock.Options{ErrorPositions: []int64{300}}))
	f.set.Ledger, f.set.Meta, f.set.KeepWork = l, meta, true
	rep1, err := Run(ctx, f.comp, f.set, diag.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, rep1.Failed)
	first, _ := f.out.get("x_CAid.vcf")

	// 第二次：复用同一工作目录与账本，仅失败批次重新提交
	f.client.calls = 0
	f.client.lines = nil
	f.client.inner = mockWith(t, mock.Options{})
	f.comp.Reader = &stringReader{text: input}
	f.set.Resume = true
	rep2, err := Run(ctx, f.comp, f.set, diag.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 1, f.client.calls)
	assert.Equal(t, 2, rep2.Resumed)
	assert.Empty(t, rep2.Failed)
	second, _ := f.out.get("x_CAid.vcf")
	assert.True(t, strings.HasPrefix(second, first))
	assert.Len(t, lines(second), 3)

	arts, err := l.Artifacts(ctx)
	require.NoError(t, err)
	require.Len(t, arts, 3)
	assert.False(t, arts[2].Failed)
}

// 写入失败为致命错误：取消整体且不泄漏协程（由 TestMain 校验）。
type failingStore struct{ *memStore }

func (failingStore) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	_, _ = io.Copy(io.Discard, r)
	return &os.PathError{Op: "write", Path: string(id), Err: os.ErrPermission}
}

func TestRunWorkWriteFailureIsFatal(t *testing.T) {
	var b bytes.Buffer
	b.WriteString(vcfHeader)
	for i := 1; i <= 20; i++ {
		fmt.Fprintf(&b, "1\t%d\t.\tA\tG\t.\t.\t.\n", i)
	}
	f := newFixture(t, b.String(), nil)
	f.comp.Work = failingStore{newMem()}
	f.set.Concurrency = 3
	_, err := Run(context.Background(), f.comp, f.set, diag.NewNop())
	require.Error(t, err)
	assert.Equal(t, diag.CodeIO, diag.Classify(err))
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := newFixture(t, vcfHeader+"1\t100\t.\tA\tG\t.\t.\t.\n", nil)
	_, err := Run(ctx, f.comp, f.set, diag.NewNop())
	require.ErrorIs(t, err, context.Canceled)
}

func TestSanity(t *testing.T) {
	_, err := Run(context.Background(), Components{}, Settings{Input: "x"}, nil)
	require.Error(t, err)
	f := newFixture(t, vcfHeader, nil)
	f.set.BlockSize = 0
	_, err = Run(context.Background(), f.comp, f.set, nil)
	require.ErrorIs(t, err, contract.ErrConfig)
}
