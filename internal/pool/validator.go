package pool

import (
	"github.com/hashpool/hashpool/internal/ehash"
)

// ValidationResult classifies a submitted share
type ValidationResult int

const (
	// ShareRejected - the hash does not meet the downstream target
	ShareRejected ValidationResult = iota
	// ShareMeetsDownstreamTarget - valid pool share
	ShareMeetsDownstreamTarget
	// ShareMeetsBitcoinTarget - valid pool share that also solves a block
	ShareMeetsBitcoinTarget
)

// Validator checks share hashes against the channel and network
// difficulty expressed in leading-zero bits.
type Validator struct {
	downstreamDifficulty uint32
	networkDifficulty    uint32
}

// NewValidator creates a validator. networkDifficulty must be at least
// downstreamDifficulty; callers configure both from shared TOML.
func NewValidator(downstreamDifficulty, networkDifficulty uint32) *Validator {
	if networkDifficulty < downstreamDifficulty {
		networkDifficulty = downstreamDifficulty
	}
	return &Validator{
		downstreamDifficulty: downstreamDifficulty,
		networkDifficulty:    networkDifficulty,
	}
}

// Validate classifies a share hash. Block-found shares still flow
// through the quote path; the ecash represents the work either way.
func (v *Validator) Validate(hash ehash.ShareHash) ValidationResult {
	difficulty := hash.LeadingZeroBits()
	switch {
	case difficulty >= v.networkDifficulty:
		return ShareMeetsBitcoinTarget
	case difficulty >= v.downstreamDifficulty:
		return ShareMeetsDownstreamTarget
	default:
		return ShareRejected
	}
}

// Target renders the downstream difficulty as a 32-byte target in the
// hash's canonical little-endian order, for OpenExtendedMiningChannel
// negotiation.
func (v *Validator) Target() [32]byte {
	var target [32]byte
	for i := range target {
		target[i] = 0xFF
	}

	idx := 31
	remaining := v.downstreamDifficulty
	for remaining >= 8 && idx >= 0 {
		target[idx] = 0x00
		idx--
		remaining -= 8
	}
	if idx >= 0 && remaining > 0 {
		target[idx] = 0xFF >> remaining
	}
	return target
}
