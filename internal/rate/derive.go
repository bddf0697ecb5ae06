package rate

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"carname/pkg/contract"
)

// DeriveKey 按 client+sha256(login) 构造限流分组键；
// 查询模式无凭据时全部归入 client:anonymous，与注册账户分开计额。
func DeriveKey(client string, mode contract.Mode, creds contract.Credentials) LimitKey {
	client = strings.TrimSpace(client)
	if mode != contract.ModeRegister || creds.Login == "" {
		return LimitKey(client + ":anonymous")
	}
	sum := sha256.Sum256([]byte(creds.Login))
	return LimitKey(fmt.Sprintf("%s:%x", client, sum[:8]))
}
