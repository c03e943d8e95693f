package models

import (
	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog"
)

// TiktokenEstimator counts prompt tokens with a BPE encoding, falling back to
// a 4-chars-per-token heuristic when no encoding could be loaded.
type TiktokenEstimator struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenEstimator loads the encoding for model, then cl100k_base.
func NewTiktokenEstimator(model string, logger zerolog.Logger) *TiktokenEstimator {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
	}
	if err != nil {
		logger.Warn().Err(err).Str("model", model).Msg("tiktoken encoding unavailable, estimating tokens from length")
		return &TiktokenEstimator{}
	}
	return &TiktokenEstimator{enc: enc}
}

// Count returns the token count of s.
func (e *TiktokenEstimator) Count(s string) int {
	if e == nil || e.enc == nil {
		return (len(s) + 3) / 4
	}
	return len(e.enc.Encode(s, nil, nil))
}
