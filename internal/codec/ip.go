package codec

import (
	"encoding/base64"
	"net"
	"strings"

	"github.com/stratadb/strata/internal/types"
)

// EncodeIPv4 packs the 4 raw bytes as base64. Always encodes; the result
// is a fixed 8 characters.
func EncodeIPv4(s string) (string, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return "", types.NewError(types.ErrEncoding, "CODEC_IP4", "invalid IPv4 address", "input", s)
	}
	v4 := ip.To4()
	if v4 == nil {
		return "", types.NewError(types.ErrEncoding, "CODEC_IP4", "not an IPv4 address", "input", s)
	}
	return base64.StdEncoding.EncodeToString(v4), nil
}

// DecodeIPv4 reverses EncodeIPv4 into dotted-quad text.
func DecodeIPv4(s string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(raw) != 4 {
		return "", types.NewError(types.ErrEncoding, "CODEC_IP4", "invalid encoded IPv4", "input", s)
	}
	return net.IP(raw).String(), nil
}

// ipv6MaxText is the longest compressed IPv6 text we keep verbatim.
// Compressed addresses stay short; packing them would not help. Full-form
// addresses (up to 39 chars) get packed to 24 chars of base64.
const ipv6MaxText = 24

// EncodeIPv6 stores short textual forms as-is and packs long forms into
// base64 of the 16 raw bytes. The textual form always contains a colon,
// base64 never does, so decoding is unambiguous.
func EncodeIPv6(s string) (string, error) {
	ip := net.ParseIP(s)
	if ip == nil || ip.To16() == nil || ip.To4() != nil {
		return "", types.NewError(types.ErrEncoding, "CODEC_IP6", "invalid IPv6 address", "input", s)
	}
	if len(s) <= ipv6MaxText {
		return s, nil
	}
	return base64.StdEncoding.EncodeToString(ip.To16()), nil
}

// DecodeIPv6 reverses EncodeIPv6.
func DecodeIPv6(s string) (string, error) {
	if strings.Contains(s, ":") {
		return s, nil
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(raw) != 16 {
		return "", types.NewError(types.ErrEncoding, "CODEC_IP6", "invalid encoded IPv6", "input", s)
	}
	return net.IP(raw).String(), nil
}
