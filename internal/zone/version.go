package zone

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// ContentVersion：目录内容的稳定摘要（sha256 前 12 位十六进制），导入时作为数据版本号
func ContentVersion(zones []Zone) (string, error) {
	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, z := range zones {
		if err := enc.Encode(z); err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil))[:12], nil
}
