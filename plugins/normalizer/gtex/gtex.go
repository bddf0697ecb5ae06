// Package gtex 解析 GTEx QTL 结果表（egenes 与 signif pairs 两种子方言）。
package gtex

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

// Options: GTEx 方言选项（当前无可调项，保留以统一工厂签名）。
type Options struct{}

type variant struct {
	chrom, pos, ref, alt, id string
}

// dialect 描述一种子方言：如何识别头部行、需要哪些列、如何从一行抽取变异。
type dialect struct {
	name     string
	isHeader func(line string) bool
	required []string
	extract  func(f []string, col map[string]int) (variant, bool)
}

var egenes = dialect{
	name:     "gtex_egenes",
	isHeader: func(line string) bool { return strings.Contains(line, "gene_name\tgene_chr") },
	required: []string{"variant_id", "chr", "variant_pos", "ref", "alt"},
	extract: func(f []string, col map[string]int) (variant, bool) {
		return variant{
			id:    f[col["variant_id"]],
			chrom: strings.TrimPrefix(f[col["chr"]], "chr"),
			pos:   f[col["variant_pos"]],
			ref:   f[col["ref"]],
			alt:   f[col["alt"]],
		}, true
	},
}

var pairs = dialect{
	name:     "gtex_pairs",
	isHeader: func(line string) bool { return strings.Contains(line, "variant_id") },
	required: []string{"variant_id"},
	extract: func(f []string, col map[string]int) (variant, bool) {
		id := f[col["variant_id"]]
		// chr1_13550_G_A_b38
		p := strings.Split(id, "_")
		if len(p) < 4 {
			return variant{}, false
		}
		return variant{id: id, chrom: strings.TrimPrefix(p[0], "chr"), pos: p[1], ref: p[2], alt: p[3]}, true
	},
}

// Normalizer 解析 GTEx 表。
type Normalizer struct {
	d dialect
}

// NewEgenes 创建 egenes 子方言解析器。
func NewEgenes(*Options) *Normalizer { return &Normalizer{d: egenes} }

// NewPairs 创建 signif pairs 子方言解析器。
func NewPairs(*Options) *Normalizer { return &Normalizer{d: pairs} }

var _ contract.Normalizer = (*Normalizer)(nil)

// Open 定位头部行并一次性校验必需列。头部之前出现数据行视为头部缺失。
func (n *Normalizer) Open(ctx context.Context, r io.Reader) (contract.Stream, error) {
	sc := rows.NewScanner(r)
	for {
		line, no, err := sc.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %s header row not found", contract.ErrHeaderInvalid, n.d.name)
		}
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !n.d.isHeader(line) {
			return nil, fmt.Errorf("%w: %s data at line %d precedes the header row", contract.ErrHeaderInvalid, n.d.name, no)
		}
		cols := strings.Split(line, "\t")
		if miss := rows.Missing(cols, n.d.required...); len(miss) > 0 {
			return nil, fmt.Errorf("%w: %s header missing required columns: %s", contract.ErrHeaderInvalid, n.d.name, strings.Join(miss, ", "))
		}
		s := &stream{sc: sc, d: n.d, col: make(map[string]int, len(n.d.required))}
		for _, c := range n.d.required {
			i := rows.IndexOf(cols, c)
			s.col[c] = i
			if i > s.need {
				s.need = i
			}
		}
		s.h = contract.Header{FileFormat: refgenome.DefaultFileFormat, Lines: []string{line}, Columns: cols}
		return s, nil
	}
}

type stream struct {
	sc   *rows.Scanner
	d    dialect
	h    contract.Header
	col  map[string]int
	need int
	next contract.Index
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
		v, ok := s.d.extract(f, s.col)
		if !ok || v.chrom == "" {
			return rows.Reject(no, line, contract.RejectMissingRequired), nil
		}
		pos, perr := strconv.ParseInt(v.pos, 10, 64)
		if perr != nil || pos <= 0 {
			return rows.Reject(no, line, contract.RejectMissingRequired), nil
		}
		if why := rows.Check(v.ref, v.alt); why != "" {
			return rows.Reject(no, line, why), nil
		}
		rec := contract.Record{Index: s.next, Line: no, Source: line, Chrom: v.chrom, Pos: pos, Ref: v.ref, Alt: v.alt, ID: v.id}
		s.next++
		return contract.Item{Record: rec}, nil
	}
}
