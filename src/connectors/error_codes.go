package connectors

import "fmt"

type codeInfo struct {
	Kind ErrorKind
	Name string
}

// binanceErrorCodes maps USD-M futures error codes to the diagnosis taxonomy.
var binanceErrorCodes = map[int]codeInfo{
	-1001: {KindTimeout, "DISCONNECTED"},
	-1002: {KindPermissionDenied, "UNAUTHORIZED"},
	-1003: {KindRateLimited, "TOO_MANY_REQUESTS"},
	-1007: {KindTimeout, "TIMEOUT"},
	-1015: {KindRateLimited, "TOO_MANY_ORDERS"},
	-1021: {KindTimeout, "INVALID_TIMESTAMP"}, // outside recvWindow, clock is resynced
	-1022: {KindBadSignature, "INVALID_SIGNATURE"},
	-2014: {KindInvalidKey, "BAD_API_KEY_FMT"},
	-2015: {KindPermissionDenied, "REJECTED_MBX_KEY"}, // invalid key, IP or permissions
	-2018: {KindUnknown, "BALANCE_NOT_SUFFICIENT"},
	-2019: {KindUnknown, "MARGIN_NOT_SUFFICIENT"},
	-2022: {KindUnknown, "REDUCE_ONLY_REJECT"},
	-4003: {KindUnknown, "QTY_LESS_THAN_ZERO"},
	-4164: {KindUnknown, "MIN_NOTIONAL"},
}

const (
	binanceCodeTimestamp     = -1021
	binanceCodeNoSuchOrder   = -2013
	binanceCodeUnknownOrder  = -2011
	binanceCodeDuplicateClID = -4116
)

// bybitErrorCodes maps v5 retCodes to the diagnosis taxonomy.
var bybitErrorCodes = map[int]codeInfo{
	10000:  {KindTimeout, "SERVER_TIMEOUT"},
	10002:  {KindTimeout, "REQUEST_EXPIRED"}, // outside recv_window, clock is resynced
	10003:  {KindInvalidKey, "API_KEY_INVALID"},
	10004:  {KindBadSignature, "SIGN_ERROR"},
	10005:  {KindPermissionDenied, "PERMISSION_DENIED"},
	10006:  {KindRateLimited, "TOO_MANY_VISITS"},
	10007:  {KindInvalidKey, "AUTH_FAILED"},
	10009:  {KindRateLimited, "IP_BANNED"},
	10010:  {KindAddressNotAllowListed, "UNMATCHED_IP"},
	10016:  {KindUnknown, "SERVER_ERROR"},
	10018:  {KindRateLimited, "IP_RATE_LIMIT"},
	33004:  {KindInvalidKey, "API_KEY_EXPIRED"},
	110004: {KindUnknown, "WALLET_BALANCE_INSUFFICIENT"},
	110007: {KindUnknown, "AVAILABLE_BALANCE_INSUFFICIENT"},
	110017: {KindUnknown, "REDUCE_ONLY_REJECT"},
}

const (
	bybitCodeTimestamp       = 10002
	bybitCodeServerError     = 10016
	bybitCodeOrderNotExists  = 110001
	bybitCodeLeverageNotMod  = 110043
	bybitCodeDuplicateLinkID = 110072
)

func lookupCode(table map[int]codeInfo, code int) codeInfo {
	if info, ok := table[code]; ok {
		return info
	}
	return codeInfo{Kind: KindUnknown, Name: fmt.Sprintf("UNKNOWN_%d", code)}
}
