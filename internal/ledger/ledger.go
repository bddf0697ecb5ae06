// Package ledger 持久化一次运行的批次清单（SQLite），支撑断点续跑与独立的合并调用。
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"carname/pkg/contract"
)

// RunMeta: 运行指纹。续跑时必须与已有记录一致，否则批次编号不可复用。
type RunMeta struct {
	RunID     string
	Input     string
	Dialect   string
	Genome    string
	Mode      string
	BlockSize int
	Gzip      bool
	// Rejected 为被拒流工件及其条数（生产阶段结束后写入）。
	Rejected      contract.ArtifactID
	RejectedCount int64
	StartedAt     time.Time
}

// Same 比较决定批次划分与提交语义的字段。
func (m RunMeta) Same(o RunMeta) bool {
	return m.Input == o.Input && m.Dialect == o.Dialect && m.Genome == o.Genome &&
		m.Mode == o.Mode && m.BlockSize == o.BlockSize && m.Gzip == o.Gzip
}

// ErrMismatch: 续跑时运行指纹与账本不一致；返回时同时包装 contract.ErrConfig。
var ErrMismatch = errors.New("ledger: run meta mismatch")

// Ledger 为单连接 SQLite 账本；并发调用串行化。
type Ledger struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// Path 返回账本文件名（位于工作目录）。
func Path(workDir, base string) string {
	return filepath.Join(workDir, base+".ledger.db")
}

// Open 打开（必要时创建）账本文件。
func Open(ctx context.Context, path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ledger: create directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	l := &Ledger{db: db, path: path}
	if err := l.initialize(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) initialize(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS run_meta (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		run_id TEXT NOT NULL,
		input TEXT NOT NULL,
		dialect TEXT NOT NULL,
		genome TEXT NOT NULL,
		mode TEXT NOT NULL,
		block_size INTEGER NOT NULL,
		gzip INTEGER NOT NULL,
		rejected TEXT NOT NULL DEFAULT '',
		rejected_count INTEGER NOT NULL DEFAULT 0,
		started_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS batches (
		batch_index INTEGER PRIMARY KEY,
		first_index INTEGER NOT NULL,
		size INTEGER NOT NULL,
		status TEXT NOT NULL,
		resolved TEXT NOT NULL DEFAULT '',
		unresolved TEXT NOT NULL DEFAULT '',
		failure TEXT NOT NULL DEFAULT '',
		stats_json TEXT NOT NULL DEFAULT '{}',
		error TEXT NOT NULL DEFAULT '',
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := l.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ledger: init schema: %w", err)
	}
	return nil
}

// Begin 登记运行指纹。
// resume=false：清空旧批次并覆盖指纹；resume=true：指纹必须一致（首次运行时直接写入）。
func (l *Ledger) Begin(ctx context.Context, m RunMeta, resume bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	old, ok, err := l.meta(ctx)
	if err != nil {
		return err
	}
	if resume && ok {
		if !old.Same(m) {
			return fmt.Errorf("%w: %w: ledger has input=%s block=%d mode=%s genome=%s", contract.ErrConfig, ErrMismatch, old.Input, old.BlockSize, old.Mode, old.Genome)
		}
		return nil
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM batches`); err != nil {
		return fmt.Errorf("ledger: reset batches: %w", err)
	}
	if m.StartedAt.IsZero() {
		m.StartedAt = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO run_meta
		(id, run_id, input, dialect, genome, mode, block_size, gzip, rejected, rejected_count, started_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, '', 0, ?)`,
		m.RunID, m.Input, m.Dialect, m.Genome, m.Mode, m.BlockSize, boolInt(m.Gzip), m.StartedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("ledger: write meta: %w", err)
	}
	return tx.Commit()
}

// Meta 读取运行指纹；账本为空时 ok=false。
func (l *Ledger) Meta(ctx context.Context) (RunMeta, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.meta(ctx)
}

func (l *Ledger) meta(ctx context.Context) (RunMeta, bool, error) {
	var m RunMeta
	var gz int
	var rejected, started string
	row := l.db.QueryRowContext(ctx, `SELECT run_id, input, dialect, genome, mode, block_size, gzip, rejected, rejected_count, started_at FROM run_meta WHERE id = 1`)
	err := row.Scan(&m.RunID, &m.Input, &m.Dialect, &m.Genome, &m.Mode, &m.BlockSize, &gz, &rejected, &m.RejectedCount, &started)
	if errors.Is(err, sql.ErrNoRows) {
		return RunMeta{}, false, nil
	}
	if err != nil {
		return RunMeta{}, false, fmt.Errorf("ledger: read meta: %w", err)
	}
	m.Gzip = gz != 0
	m.StartedAt, _ = time.Parse(time.RFC3339, started)
	m.Rejected = contract.ArtifactID(rejected)
	return m, true, nil
}

// SetRejected 记录被拒流工件与条数。
func (l *Ledger) SetRejected(ctx context.Context, id contract.ArtifactID, n int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.db.ExecContext(ctx, `UPDATE run_meta SET rejected = ?, rejected_count = ? WHERE id = 1`, string(id), n); err != nil {
		return fmt.Errorf("ledger: set rejected: %w", err)
	}
	return nil
}

// Record 写入（或覆盖）一个批次的结果。
func (l *Ledger) Record(ctx context.Context, a contract.BatchArtifact) error {
	stats, err := json.Marshal(a.Stats)
	if err != nil {
		return fmt.Errorf("ledger: encode stats: %w", err)
	}
	status := "done"
	if a.Failed {
		status = "failed"
	}
	failure := make([]string, 0, len(a.Failure))
	for _, id := range a.Failure {
		failure = append(failure, string(id))
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.db.ExecContext(ctx, `INSERT OR REPLACE INTO batches
		(batch_index, first_index, size, status, resolved, unresolved, failure, stats_json, error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`,
		a.BatchIndex, int64(a.First), a.Size, status, string(a.Resolved), string(a.Unresolved),
		strings.Join(failure, "\n"), string(stats), a.Err)
	if err != nil {
		return fmt.Errorf("ledger: record batch %d: %w", a.BatchIndex, err)
	}
	return nil
}

// Artifacts 按 BatchIndex 升序返回全部批次。
func (l *Ledger) Artifacts(ctx context.Context) ([]contract.BatchArtifact, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rows, err := l.db.QueryContext(ctx, `SELECT batch_index, first_index, size, status, resolved, unresolved, failure, stats_json, error
		FROM batches ORDER BY batch_index`)
	if err != nil {
		return nil, fmt.Errorf("ledger: query batches: %w", err)
	}
	defer rows.Close()
	var out []contract.BatchArtifact
	for rows.Next() {
		var a contract.BatchArtifact
		var first int64
		var status, resolved, unresolved, failure, stats string
		if err := rows.Scan(&a.BatchIndex, &first, &a.Size, &status, &resolved, &unresolved, &failure, &stats, &a.Err); err != nil {
			return nil, fmt.Errorf("ledger: scan batch: %w", err)
		}
		a.First = contract.Index(first)
		a.Failed = status == "failed"
		a.Resolved = contract.ArtifactID(resolved)
		a.Unresolved = contract.ArtifactID(unresolved)
		if failure != "" {
			for _, id := range strings.Split(failure, "\n") {
				a.Failure = append(a.Failure, contract.ArtifactID(id))
			}
		}
		if err := json.Unmarshal([]byte(stats), &a.Stats); err != nil {
			return nil, fmt.Errorf("ledger: decode stats of batch %d: %w", a.BatchIndex, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Completed 返回已成功完成的批次（续跑跳过集合）。失败批次不在其中，续跑时重新提交。
func (l *Ledger) Completed(ctx context.Context) (map[int64]contract.BatchArtifact, error) {
	all, err := l.Artifacts(ctx)
	if err != nil {
		return nil, err
	}
	done := make(map[int64]contract.BatchArtifact, len(all))
	for _, a := range all {
		if !a.Failed {
			done[a.BatchIndex] = a
		}
	}
	return done, nil
}

// Close 关闭数据库连接。
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
