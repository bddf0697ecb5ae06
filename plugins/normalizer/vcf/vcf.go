package vcf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"carname/pkg/contract"
	"carname/pkg/refgenome"
	"carname/plugins/normalizer/rows"
)

// Options: VCF 方言选项。
type Options struct {
	// StripChrPrefix: 去除染色体列的 "chr" 前缀（chr1 -> 1）。默认 false，原样提交。
	StripChrPrefix bool `json:"strip_chr_prefix"`
}

// Normalizer 解析 VCF 类 TSV 输入。
type Normalizer struct {
	stripChr bool
}

func New(opts *Options) *Normalizer {
	n := &Normalizer{}
	if opts != nil {
		n.stripChr = opts.StripChrPrefix
	}
	return n
}

var _ contract.Normalizer = (*Normalizer)(nil)

// Open 读取并校验头部：##fileformat 必须出现在列头行之前；列头行需包含 8 个必需列。
// 头部不完整时返回 ErrHeaderInvalid，不产出任何数据行。
func (n *Normalizer) Open(ctx context.Context, r io.Reader) (contract.Stream, error) {
	sc := rows.NewScanner(r)
	var h contract.Header
	for {
		line, no, err := sc.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: no #CHROM header row found; required columns: %s", contract.ErrHeaderInvalid, strings.Join(refgenome.RequiredColumns, " "))
		}
		if err != nil {
			return nil, err
		}
		switch {
		case strings.TrimSpace(line) == "":
			continue
		case strings.HasPrefix(line, "##fileformat"):
			if i := strings.IndexByte(line, '='); i >= 0 {
				h.FileFormat = strings.TrimSpace(line[i+1:])
			}
			h.Lines = append(h.Lines, line)
		case isColumnRow(line):
			if h.FileFormat == "" {
				return nil, fmt.Errorf("%w: VCF version not found; include it as the first line, e.g. ##fileformat=VCFv4.2", contract.ErrHeaderInvalid)
			}
			cols := strings.Split(strings.ToUpper(line), "\t")
			if cols[0] == "##CHROM" {
				cols[0] = "#CHROM"
			}
			if miss := rows.Missing(cols, refgenome.RequiredColumns...); len(miss) > 0 {
				return nil, fmt.Errorf("%w: line %d missing required columns: %s", contract.ErrHeaderInvalid, no, strings.Join(miss, ", "))
			}
			h.Lines = append(h.Lines, line)
			h.Columns = cols
			return newStream(sc, h, n.stripChr), nil
		case strings.HasPrefix(line, "##"):
			h.Lines = append(h.Lines, line)
		default:
			return nil, fmt.Errorf("%w: data at line %d precedes the #CHROM header row", contract.ErrHeaderInvalid, no)
		}
	}
}

// isColumnRow: #CHROM 列头行（不区分大小写，容忍 ##CHROM 笔误）。
func isColumnRow(line string) bool {
	if len(line) < 6 {
		return false
	}
	u := strings.ToUpper(line[:min(len(line), 7)])
	return strings.HasPrefix(u, "#CHROM") || u == "##CHROM"
}

type stream struct {
	sc       *rows.Scanner
	h        contract.Header
	stripChr bool
	next     contract.Index
	// 必需列下标
	chrom, pos, id, ref, alt, need int
}

func newStream(sc *rows.Scanner, h contract.Header, stripChr bool) *stream {
	s := &stream{sc: sc, h: h, stripChr: stripChr}
	s.chrom = rows.IndexOf(h.Columns, "#CHROM")
	s.pos = rows.IndexOf(h.Columns, "POS")
	s.id = rows.IndexOf(h.Columns, "ID")
	s.ref = rows.IndexOf(h.Columns, "REF")
	s.alt = rows.IndexOf(h.Columns, "ALT")
	for _, i := range []int{s.chrom, s.pos, s.id, s.ref, s.alt} {
		if i > s.need {
			s.need = i
		}
	}
	return s
}

func (s *stream) Header() contract.Header { return s.h }

func (s *stream) Next(ctx context.Context) (contract.Item, error) {
	for {
		line, no, err := s.sc.Next(ctx)
		if err != nil {
			return contract.Item{}, err
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		f := strings.Split(line, "\t")
		if len(f) <= s.need {
			return rows.Reject(no, line, contract.RejectMissingRequired), nil
		}
		chrom := f[s.chrom]
		if s.stripChr {
			chrom = strings.TrimPrefix(chrom, "chr")
		}
		pos, perr := strconv.ParseInt(f[s.pos], 10, 64)
		if chrom == "" || perr != nil || pos <= 0 {
			return rows.Reject(no, line, contract.RejectMissingRequired), nil
		}
		if why := rows.Check(f[s.ref], f[s.alt]); why != "" {
			return rows.Reject(no, line, why), nil
		}
		rec := contract.Record{
			Index:  s.next,
			Line:   no,
			Source: line,
			Chrom:  chrom,
			Pos:    pos,
			Ref:    f[s.ref],
			Alt:    f[s.alt],
			ID:     f[s.id],
		}
		s.next++
		return contract.Item{Record: rec}, nil
	}
}
