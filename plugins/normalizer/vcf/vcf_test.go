package vcf

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carname/pkg/contract"
)

const header = "##fileformat=VCFv4.1\n##source=test\n#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\n"

func drain(t *testing.T, s contract.Stream) []contract.Item {
	t.Helper()
	var out []contract.Item
	for {
		it, err := s.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, it)
	}
}

func TestOpenAndNext(t *testing.T) {
	in := header +
		"1\t100\trs1\tA\tG\t.\t.\t.\n" +
		"\n" +
		"2\t200\trs2\tC\tT,G\t.\t.\t.\r\n" +
		"3\t300\trs3\tG\t*\t.\t.\t.\n" +
		"4\tabc\trs4\tG\tA\t.\t.\t.\n" +
		"5\t500\n" +
		"X\t600\t.\tT\tC\t50\tPASS\tDP=3\n"
	s, err := New(nil).Open(context.Background(), strings.NewReader(in))
	require.NoError(t, err)

	h := s.Header()
	assert.Equal(t, "VCFv4.1", h.FileFormat)
	assert.Equal(t, []string{"##fileformat=VCFv4.1", "##source=test", "#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO"}, h.Lines)

	items := drain(t, s)
	require.Len(t, items, 6)

	assert.Nil(t, items[0].Reject)
	assert.Equal(t, contract.Record{Index: 0, Line: 4, Source: "1\t100\trs1\tA\tG\t.\t.\t.", Chrom: "1", Pos: 100, Ref: "A", Alt: "G", ID: "rs1"}, items[0].Record)

	require.NotNil(t, items[1].Reject)
	assert.Equal(t, contract.RejectMultiAllelic, items[1].Reject.Reason)
	assert.Equal(t, int64(6), items[1].Reject.Line)
	assert.Equal(t, "2\t200\trs2\tC\tT,G\t.\t.\t.", items[1].Reject.Source)

	assert.Equal(t, contract.RejectWildcardAllele, items[2].Reject.Reason)
	assert.Equal(t, contract.RejectMissingRequired, items[3].Reject.Reason)
	assert.Equal(t, contract.RejectMissingRequired, items[4].Reject.Reason)

	assert.Nil(t, items[5].Reject)
	assert.Equal(t, contract.Index(1), items[5].Record.Index)
	assert.Equal(t, "X", items[5].Record.Chrom)
	assert.Equal(t, ".", items[5].Record.ID)
}

// TestDotAltSubmitted alt 为 "." 的行不拒绝
func TestDotAltSubmitted(t *testing.T) {
	in := header + "1\t100\t.\tA\t.\t.\t.\t.\n"
	s, err := New(nil).Open(context.Background(), strings.NewReader(in))
	require.NoError(t, err)
	items := drain(t, s)
	require.Len(t, items, 1)
	assert.Nil(t, items[0].Reject)
	assert.Equal(t, ".", items[0].Record.Alt)
	assert.Equal(t, "A", items[0].Record.Ref)
}

// TestHeaderTolerance 小写列头与 ##CHROM 笔误均可接受
func TestHeaderTolerance(t *testing.T) {
	in := "##fileformat=VCFv4.2\n##chrom\tpos\tid\tref\talt\tqual\tfilter\tinfo\tSAMPLE\nchr1\t5\t.\tA\tC\t.\t.\t.\tGT\n"
	s, err := New(&Options{StripChrPrefix: true}).Open(context.Background(), strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, "#CHROM", s.Header().Columns[0])
	items := drain(t, s)
	require.Len(t, items, 1)
	assert.Equal(t, "1", items[0].Record.Chrom)
	assert.Equal(t, "chr1\t5\t.\tA\tC\t.\t.\t.\tGT", items[0].Record.Source)
}

func TestHeaderErrors(t *testing.T) {
	cases := map[string]string{
		"no fileformat":   "#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\n1\t1\t.\tA\tG\t.\t.\t.\n",
		"missing columns": "##fileformat=VCFv4.2\n#CHROM\tPOS\tREF\tALT\n",
		"no header row":   "##fileformat=VCFv4.2\n##x=y\n",
		"data first":      "##fileformat=VCFv4.2\n1\t1\t.\tA\tG\t.\t.\t.\n",
		"empty":           "",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(nil).Open(context.Background(), strings.NewReader(in))
			assert.ErrorIs(t, err, contract.ErrHeaderInvalid)
		})
	}
}

func TestNextCtxCancel(t *testing.T) {
	s, err := New(nil).Open(context.Background(), strings.NewReader(header+"1\t1\t.\tA\tG\t.\t.\t.\n"))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
