// Package model holds the plain data types shared by every dexopt
// component: compiler modes, container/ABI descriptors, and the
// planner/package/batch result shapes.
package model

// CompilerMode is a level in the dexopt optimization lattice. The zero
// value is not a valid mode; always use one of the named constants.
type CompilerMode int

const (
	ModeUnspecified CompilerMode = iota
	ModeSkip
	ModeAssumeVerified
	ModeExtract
	ModeVerify
	ModeSpaceProfile
	ModeSpace
	ModeSpeedProfile
	ModeSpeed
	ModeEverythingProfile
	ModeEverything
	// ModeNoop means the planner returns an empty result without
	// invoking the compiler daemon at all.
	ModeNoop
)

var modeNames = map[CompilerMode]string{
	ModeUnspecified:       "unspecified",
	ModeSkip:              "skip",
	ModeAssumeVerified:    "assume-verified",
	ModeExtract:           "extract",
	ModeVerify:            "verify",
	ModeSpaceProfile:      "space-profile",
	ModeSpace:             "space",
	ModeSpeedProfile:      "speed-profile",
	ModeSpeed:             "speed",
	ModeEverythingProfile: "everything-profile",
	ModeEverything:        "everything",
	ModeNoop:              "noop",
}

func (m CompilerMode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return "invalid"
}

// rank orders modes worst-to-best for comparison purposes. ModeNoop has
// no rank: it is never compared against the lattice, it short-circuits
// planning before any comparison happens.
var rank = map[CompilerMode]int{
	ModeSkip:              0,
	ModeAssumeVerified:    1,
	ModeExtract:           2,
	ModeVerify:            3,
	ModeSpaceProfile:      4,
	ModeSpace:             5,
	ModeSpeedProfile:      6,
	ModeSpeed:             7,
	ModeEverythingProfile: 8,
	ModeEverything:        9,
}

// Less reports whether m produces a strictly worse compiled output
// than other. Panics if either mode is ModeNoop or ModeUnspecified;
// callers must resolve noop before comparing.
func (m CompilerMode) Less(other CompilerMode) bool {
	mr, ok1 := rank[m]
	or, ok2 := rank[other]
	if !ok1 || !ok2 {
		panic("model: CompilerMode.Less called on a non-lattice mode")
	}
	return mr < or
}

// IsNonOptimized reports whether m is one of the cheap, non-optimizing
// modes (verify, extract, assume-verified, skip).
func (m CompilerMode) IsNonOptimized() bool {
	switch m {
	case ModeSkip, ModeAssumeVerified, ModeExtract, ModeVerify:
		return true
	default:
		return false
	}
}

// IsProfileGuided reports whether m consumes a profile as dexopt input.
func (m CompilerMode) IsProfileGuided() bool {
	switch m {
	case ModeSpeedProfile, ModeEverythingProfile, ModeSpaceProfile:
		return true
	default:
		return false
	}
}

// IsOptimized reports whether m is a fully- or profile-guided optimizing
// mode (speed, space, everything, and their profile-guided variants).
func (m CompilerMode) IsOptimized() bool {
	switch m {
	case ModeSpeed, ModeSpace, ModeEverything, ModeSpeedProfile, ModeSpaceProfile, ModeEverythingProfile:
		return true
	default:
		return false
	}
}

// SafeModeEquivalent returns the mode to use when the owning package is
// in VM-safe-mode or debuggable: always run-verify-only.
func (m CompilerMode) SafeModeEquivalent() CompilerMode {
	return ModeVerify
}

// PriorityClass mirrors the compiler daemon's notion of scheduling
// priority for a dexopt invocation.
type PriorityClass int

const (
	PriorityUnspecified PriorityClass = iota
	PriorityBackground
	PriorityInteractiveFast
	PriorityInteractive
	PriorityBoot
)
