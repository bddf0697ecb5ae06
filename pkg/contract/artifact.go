package contract

// BatchArtifact: 单批的持久化结果清单。
// 合并阶段仅依据该清单（按 BatchIndex 排序）定位工件，不做目录扫描。
type BatchArtifact struct {
	BatchIndex int64
	First      Index
	Size       int
	Resolved   ArtifactID
	Unresolved ArtifactID
	Stats      Stats
	// Failed 为 true 时本批未产出 Resolved/Unresolved，Failure 列出诊断工件。
	Failed  bool
	Failure []ArtifactID
	Err     string
}
