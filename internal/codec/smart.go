package codec

import (
	"encoding/base64"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/stratadb/strata/internal/types"
)

// stringClass is the result of scanning a string's bytes.
type stringClass int

const (
	classASCII  stringClass = iota // all printable ASCII (0x20-0x7E)
	classLatin1                    // all runes < 0x100
	classBinary                    // everything else
)

const (
	urlPrefix  = "u:"
	b64Prefix  = "b:"
	lruMaxSize = 4096
)

// analysisCache memoizes classification of recently seen strings. It is
// the only mutable process-wide singleton in this package.
var analysisCache = newLRU(lruMaxSize)

// classify scans the input once. Results for strings up to 256 bytes are
// cached; longer strings are cheap to rescan relative to storing them.
func classify(s string) stringClass {
	cacheable := len(s) <= 256
	if cacheable {
		if c, ok := analysisCache.get(s); ok {
			return c
		}
	}
	c := classASCII
	for _, r := range s {
		if r == utf8.RuneError {
			c = classBinary
			break
		}
		if r < 0x20 || r > 0x7E {
			if r < 0x100 {
				if c == classASCII {
					c = classLatin1
				}
			} else {
				c = classBinary
				break
			}
		}
	}
	if cacheable {
		analysisCache.put(s, c)
	}
	return c
}

// hasReservedPrefix reports whether a string would collide with one of the
// smart-encoding dispatch prefixes if stored as-is.
func hasReservedPrefix(s string) bool {
	return strings.HasPrefix(s, urlPrefix) ||
		strings.HasPrefix(s, b64Prefix) ||
		strings.HasPrefix(s, dictPrefix)
}

// EncodeString applies smart string encoding:
//
//  1. dictionary tokens map to "d:<idx>" sigils,
//  2. printable ASCII is stored as-is,
//  3. Latin-1 is percent-encoded with a "u:" prefix,
//  4. anything else is base64 with a "b:" prefix.
//
// Inputs that happen to start with a dispatch prefix take the "u:" branch
// so that decoding stays unambiguous. The prefix choice is a pure function
// of the input and re-encoding an encoded value is handled by that same
// escape rule.
func EncodeString(s string) string {
	if sigil, ok := dictEncode[s]; ok {
		return sigil
	}
	switch classify(s) {
	case classASCII:
		if hasReservedPrefix(s) {
			return urlPrefix + url.PathEscape(s)
		}
		return s
	case classLatin1:
		return urlPrefix + url.PathEscape(s)
	default:
		return b64Prefix + base64.StdEncoding.EncodeToString([]byte(s))
	}
}

// DecodeString reverses EncodeString. Dispatch never consumes more than
// the two prefix bytes before branching.
func DecodeString(s string) (string, error) {
	if len(s) >= 2 {
		switch s[:2] {
		case dictPrefix:
			if tok, ok := dictDecode[s]; ok {
				return tok, nil
			}
			return "", types.NewError(types.ErrEncoding, "CODEC_SMART", "unknown dictionary sigil", "input", s)
		case urlPrefix:
			out, err := url.PathUnescape(s[2:])
			if err != nil {
				return "", types.NewError(types.ErrEncoding, "CODEC_SMART", "bad percent encoding", "input", s)
			}
			return out, nil
		case b64Prefix:
			raw, err := base64.StdEncoding.DecodeString(s[2:])
			if err != nil {
				return "", types.NewError(types.ErrEncoding, "CODEC_SMART", "bad base64", "input", s)
			}
			return string(raw), nil
		}
	}
	return s, nil
}
