package codec

import (
	"strings"

	"github.com/stratadb/strata/internal/types"
)

// embeddingPrecision is the per-element fixed-point precision. Six decimal
// places is ample for unit-normalized vectors.
const embeddingPrecision = 6

// EncodeEmbedding encodes a float vector as comma-joined fixed-point
// Base62 tokens. dim <= 0 skips the dimension check.
func EncodeEmbedding(v []float64, dim int) (string, error) {
	if dim > 0 && len(v) != dim {
		return "", types.NewError(types.ErrEncoding, "CODEC_EMBED", "dimension mismatch",
			"want", dim, "got", len(v))
	}
	toks := make([]string, len(v))
	for i, f := range v {
		tok, err := EncodeFixedPoint(f, embeddingPrecision)
		if err != nil {
			return "", err
		}
		toks[i] = tok
	}
	return strings.Join(toks, ","), nil
}

// DecodeEmbedding reverses EncodeEmbedding.
func DecodeEmbedding(s string, dim int) ([]float64, error) {
	if s == "" {
		if dim > 0 {
			return nil, types.NewError(types.ErrEncoding, "CODEC_EMBED", "empty embedding", "want", dim)
		}
		return nil, nil
	}
	toks := strings.Split(s, ",")
	if dim > 0 && len(toks) != dim {
		return nil, types.NewError(types.ErrEncoding, "CODEC_EMBED", "dimension mismatch",
			"want", dim, "got", len(toks))
	}
	out := make([]float64, len(toks))
	for i, tok := range toks {
		f, err := DecodeFixedPoint(tok, embeddingPrecision)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}
