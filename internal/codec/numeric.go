package codec

import (
	"math"
	"strings"

	"github.com/stratadb/strata/internal/types"
)

// EncodeFixedPoint encodes a float at the given decimal precision:
// value * 10^precision, rounded, then signed Base62.
func EncodeFixedPoint(v float64, precision int) (string, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "", types.NewError(types.ErrEncoding, "CODEC_FIXED", "non-finite value")
	}
	scale := math.Pow10(precision)
	scaled := v * scale
	if scaled > math.MaxInt64 || scaled < math.MinInt64 {
		return "", types.NewError(types.ErrEncoding, "CODEC_FIXED", "value out of range", "value", v)
	}
	return encodeSigned(int64(math.Round(scaled))), nil
}

// DecodeFixedPoint reverses EncodeFixedPoint.
func DecodeFixedPoint(s string, precision int) (float64, error) {
	n, err := decodeSigned(s)
	if err != nil {
		return 0, err
	}
	return float64(n) / math.Pow10(precision), nil
}

// Money is stored as integer smallest-denomination units (cents), signed
// Base62 with a currency marker prefix.
const moneyPrefix = "$"

// EncodeMoney encodes a currency amount expressed in major units with two
// decimal places (e.g. dollars).
func EncodeMoney(v float64) (string, error) {
	enc, err := EncodeFixedPoint(v, 2)
	if err != nil {
		return "", err
	}
	return moneyPrefix + enc, nil
}

// DecodeMoney reverses EncodeMoney.
func DecodeMoney(s string) (float64, error) {
	if !strings.HasPrefix(s, moneyPrefix) {
		return 0, types.NewError(types.ErrEncoding, "CODEC_MONEY", "missing currency marker", "input", s)
	}
	return DecodeFixedPoint(s[len(moneyPrefix):], 2)
}

// Geo coordinates are normalized to a non-negative range, scaled by 1e6
// (about 11cm of precision) and Base62 encoded with an axis prefix.
const (
	geoLatPrefix = "g"
	geoLonPrefix = "G"
	geoScale     = 1e6
)

// EncodeGeoLat encodes a latitude in [-90, 90].
func EncodeGeoLat(v float64) (string, error) {
	if v < -90 || v > 90 {
		return "", types.NewError(types.ErrEncoding, "CODEC_GEO", "latitude out of range", "value", v)
	}
	return geoLatPrefix + EncodeBase62(uint64(math.Round((v+90)*geoScale))), nil
}

// DecodeGeoLat reverses EncodeGeoLat.
func DecodeGeoLat(s string) (float64, error) {
	if !strings.HasPrefix(s, geoLatPrefix) {
		return 0, types.NewError(types.ErrEncoding, "CODEC_GEO", "missing latitude prefix", "input", s)
	}
	n, err := DecodeBase62(s[len(geoLatPrefix):])
	if err != nil {
		return 0, err
	}
	return float64(n)/geoScale - 90, nil
}

// EncodeGeoLon encodes a longitude in [-180, 180].
func EncodeGeoLon(v float64) (string, error) {
	if v < -180 || v > 180 {
		return "", types.NewError(types.ErrEncoding, "CODEC_GEO", "longitude out of range", "value", v)
	}
	return geoLonPrefix + EncodeBase62(uint64(math.Round((v+180)*geoScale))), nil
}

// DecodeGeoLon reverses EncodeGeoLon.
func DecodeGeoLon(s string) (float64, error) {
	if !strings.HasPrefix(s, geoLonPrefix) {
		return 0, types.NewError(types.ErrEncoding, "CODEC_GEO", "missing longitude prefix", "input", s)
	}
	n, err := DecodeBase62(s[len(geoLonPrefix):])
	if err != nil {
		return 0, err
	}
	return float64(n)/geoScale - 180, nil
}
