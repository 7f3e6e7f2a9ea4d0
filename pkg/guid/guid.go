// Package guid 提供物品标识符的生成与格式校验。
package guid

import (
	"strings"

	"github.com/google/uuid"
)

// New 生成一个新的物品 GUID（UUID v4 的字符串形式）。
func New() string {
	return uuid.NewString()
}

// IsValid 校验字符串是否为标准 8-4-4-4-12 形式的 UUID。
// 扫码入口和 HTTP 参数都先过这一层，不合法的码不会进入业务层。
// 注意 uuid.Parse 还接受 urn: 前缀和带花括号等变体，这里只认纯格式。
func IsValid(s string) bool {
	if len(s) != 36 {
		return false
	}
	if strings.Count(s, "-") != 4 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
