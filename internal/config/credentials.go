package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"carname/pkg/contract"
)

// DefaultLoginFileName 位于用户主目录下。
const DefaultLoginFileName = ".AlleleRegistry"

// LoginFileOf 返回生效的凭据文件路径；未配置时为 ~/.AlleleRegistry。
func LoginFileOf(cfg Config) string {
	if p := strings.TrimSpace(cfg.LoginFile); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultLoginFileName
	}
	return filepath.Join(home, DefaultLoginFileName)
}

// LoadCredentials 读取凭据文件首行 "login:password"。
// 密码中可含 ':'，仅按首个 ':' 切分。
func LoadCredentials(path string) (contract.Credentials, error) {
	f, err := os.Open(path)
	if err != nil {
		return contract.Credentials{}, fmt.Errorf("%w: login file %s: %v", contract.ErrConfig, path, err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return contract.Credentials{}, fmt.Errorf("%w: login file %s: %v", contract.ErrConfig, path, err)
		}
		return contract.Credentials{}, fmt.Errorf("%w: login file %s is empty", contract.ErrConfig, path)
	}
	line := strings.TrimRight(sc.Text(), "\r")
	parts := strings.SplitN(line, ":", 2)
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || parts[1] == "" {
		return contract.Credentials{}, fmt.Errorf("%w: login file %s: expected one line \"login:password\"", contract.ErrConfig, path)
	}
	return contract.Credentials{Login: strings.TrimSpace(parts[0]), Password: parts[1]}, nil
}

// Credentials 按模式解析凭据：register 模式或显式指定凭据文件时读取，否则返回空凭据。
func Credentials(cfg Config) (contract.Credentials, error) {
	if contract.Mode(cfg.Mode) != contract.ModeRegister && strings.TrimSpace(cfg.LoginFile) == "" {
		return contract.Credentials{}, nil
	}
	return LoadCredentials(LoginFileOf(cfg))
}
