package contract

// Stats: 运行统计（可加和）。
// 约束：Variants == Registered + Unregistered；CrossRefs 保持首次出现顺序。
// 单一所有者：仅由编排层的收集协程折叠，实现本身不加锁。
type Stats struct {
	Variants     int64
	Registered   int64
	Unregistered int64
	CrossRefs    []CrossRefCount
}

// CrossRefCount: 某交叉引用来源的出现次数。
type CrossRefCount struct {
	Name  string
	Count int64
}

// Observe 折叠单条结果。交叉引用不论是否解析都计数。
func (s *Stats) Observe(r Result) {
	s.Variants++
	for _, e := range r.External {
		s.addCrossRef(e.Name, 1)
	}
	if !r.IsResolved() {
		s.Unregistered++
		return
	}
	s.Registered++
}

// AddRejected 折叠 n 条被拒记录：计入总数与未注册数，且只计一次。
func (s *Stats) AddRejected(n int64) {
	s.Variants += n
	s.Unregistered += n
}

// Merge 将 o 加入 s；交叉引用按 o 的顺序追加新来源。
func (s *Stats) Merge(o Stats) {
	s.Variants += o.Variants
	s.Registered += o.Registered
	s.Unregistered += o.Unregistered
	for _, c := range o.CrossRefs {
		s.addCrossRef(c.Name, c.Count)
	}
}

// CrossRef 返回某来源的计数。
func (s Stats) CrossRef(name string) int64 {
	for _, c := range s.CrossRefs {
		if c.Name == name {
			return c.Count
		}
	}
	return 0
}

func (s *Stats) addCrossRef(name string, n int64) {
	for i := range s.CrossRefs {
		if s.CrossRefs[i].Name == name {
			s.CrossRefs[i].Count += n
			return
		}
	}
	s.CrossRefs = append(s.CrossRefs, CrossRefCount{Name: name, Count: n})
}
