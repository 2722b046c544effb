package paymentgateway

import (
	"encoding/base64"
	"time"
)

const TimestampLayout = "20060102150405"

// eat is Daraja's reference timezone for request timestamps.
var eat = time.FixedZone("EAT", 3*60*60)

func Timestamp(t time.Time) string {
	return t.In(eat).Format(TimestampLayout)
}

// BuildSignature returns the STK password: base64(shortcode + passkey + timestamp).
func BuildSignature(shortCode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
}
