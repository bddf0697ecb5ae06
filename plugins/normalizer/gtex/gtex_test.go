package gtex

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

func TestEgenes(t *testing.T) {
	in := "gene_id\tgene_name\tgene_chr\tvariant_id\tchr\tvariant_pos\tref\talt\tqval\n" +
		"ENSG1\tWASH7P\tchr1\tchr1_64764_C_T_b38\tchr1\t64764\tC\tT\t0.01\n" +
		"ENSG2\tX\tchr2\tchr2_10_A_AT,G_b38\tchr2\t10\tA\tAT,G\t0.2\n" +
		"ENSG3\tY\tchr3\tchr3_5_A_*_b38\tchr3\t5\tA\t*\t0.2\n" +
		"ENSG4\tZ\tchr4\n"
	s, err := NewEgenes(nil).Open(context.Background(), strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, "VCFv4.2", s.Header().FileFormat)
	require.Len(t, s.Header().Lines, 1)

	items := drain(t, s)
	require.Len(t, items, 4)
	assert.Equal(t, contract.Record{
		Index: 0, Line: 2,
		Source: "ENSG1\tWASH7P\tchr1\tchr1_64764_C_T_b38\tchr1\t64764\tC\tT\t0.01",
		Chrom:  "1", Pos: 64764, Ref: "C", Alt: "T", ID: "chr1_64764_C_T_b38",
	}, items[0].Record)
	assert.Equal(t, contract.RejectMultiAllelic, items[1].Reject.Reason)
	assert.Equal(t, contract.RejectWildcardAllele, items[2].Reject.Reason)
	assert.Equal(t, contract.RejectMissingRequired, items[3].Reject.Reason)
}

func TestPairs(t *testing.T) {
	in := "variant_id\tgene_id\ttss_distance\tpval\n" +
		"chr1_13550_G_A_b38\tENSG1\t-1\t0.1\n" +
		"chrX_99_T_C_b38\tENSG2\t5\t0.2\n" +
		"badid\tENSG3\t5\t0.2\n"
	s, err := NewPairs(nil).Open(context.Background(), strings.NewReader(in))
	require.NoError(t, err)
	items := drain(t, s)
	require.Len(t, items, 3)
	assert.Equal(t, "1", items[0].Record.Chrom)
	assert.Equal(t, int64(13550), items[0].Record.Pos)
	assert.Equal(t, "G", items[0].Record.Ref)
	assert.Equal(t, "A", items[0].Record.Alt)
	assert.Equal(t, "chr1_13550_G_A_b38", items[0].Record.ID)
	assert.Equal(t, contract.Index(1), items[1].Record.Index)
	assert.Equal(t, "X", items[1].Record.Chrom)
	require.NotNil(t, items[2].Reject)
	assert.Equal(t, contract.RejectMissingRequired, items[2].Reject.Reason)
}

func TestHeaderErrors(t *testing.T) {
	_, err := NewEgenes(nil).Open(context.Background(), strings.NewReader("gene_id\tgene_name\tgene_chr\tvariant_id\n"))
	assert.ErrorIs(t, err, contract.ErrHeaderInvalid)

	_, err = NewPairs(nil).Open(context.Background(), strings.NewReader("chr1_1_A_G_b38\tENSG\n"))
	assert.ErrorIs(t, err, contract.ErrHeaderInvalid)

	_, err = NewPairs(nil).Open(context.Background(), strings.NewReader(""))
	assert.ErrorIs(t, err, contract.ErrHeaderInvalid)
}
