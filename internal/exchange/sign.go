package exchange

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// SignTimestamp — подпись методом таймстемпа: HMAC-SHA256 над "METHOD\npath\nts\n".
func SignTimestamp(apiSecret, method, path, ts string) string {
	msg := fmt.Sprintf("%s\n%s\n%s\n", method, path, ts)
	return signHMAC(apiSecret, msg)
}

// SignBody — подпись методом body-hash: base64(md5(body)), затем
// HMAC-SHA256 над "METHOD\npath\nbodyHash".
func SignBody(apiSecret, method, path string, body []byte) string {
	sum := md5.Sum(body)
	bodyHash := base64.StdEncoding.EncodeToString(sum[:])
	msg := fmt.Sprintf("%s\n%s\n%s", method, path, bodyHash)
	return signHMAC(apiSecret, msg)
}

func signHMAC(secret, msg string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(msg))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
