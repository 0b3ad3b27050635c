package connectors

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
)

func hmacHex(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignBinanceQuery signs the exact query string that will be sent.
func SignBinanceQuery(secret, query string) string {
	return hmacHex(secret, query)
}

// binanceSignedQuery adds recvWindow and timestamp, encodes the parameters sorted by key,
// and appends the signature as the final parameter.
func binanceSignedQuery(params url.Values, timestampMs, recvWindowMs int64, secret string) string {
	signed := url.Values{}
	for k, v := range params {
		signed[k] = append([]string(nil), v...)
	}
	signed.Set("recvWindow", strconv.FormatInt(recvWindowMs, 10))
	signed.Set("timestamp", strconv.FormatInt(timestampMs, 10))

	query := signed.Encode()
	return query + "&signature=" + SignBinanceQuery(secret, query)
}

// BybitPayload is timestamp + apiKey + recvWindow + params with no separators.
// params is the raw query string for GET and the raw JSON body for POST.
func BybitPayload(timestampMs int64, apiKey string, recvWindowMs int64, params string) string {
	return strconv.FormatInt(timestampMs, 10) + apiKey + strconv.FormatInt(recvWindowMs, 10) + params
}

func SignBybit(secret string, timestampMs int64, apiKey string, recvWindowMs int64, params string) string {
	return hmacHex(secret, BybitPayload(timestampMs, apiKey, recvWindowMs, params))
}
