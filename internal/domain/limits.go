package domain

// Limits holds the length/size constraints enumerated in the external
// configuration (spec §6). They are threaded explicitly into constructors
// and mutators rather than read from package-level globals so that a single
// process can run more than one engine instance (e.g. in tests) with
// different limits.
type Limits struct {
	NicknameMaxLength      int
	CommentMaxLength       int
	ContextMaxLength       int
	PropertyNameMaxLength  int
	PropertyValueMaxLength int
	MaxTrustListEntries    int
	MaxIdentityFileBytes   int
}

// DefaultLimits returns the configuration defaults named in spec §6.
func DefaultLimits() Limits {
	return Limits{
		NicknameMaxLength:      50,
		CommentMaxLength:       256,
		ContextMaxLength:       32,
		PropertyNameMaxLength:  64,
		PropertyValueMaxLength: 256,
		MaxTrustListEntries:    128,
		MaxIdentityFileBytes:   1 << 20,
	}
}

// Capacities is the fixed capacity table indexed by rank (spec §4.1).
// Ranks at or beyond len(Capacities)-1 all map to the last entry.
var Capacities = [...]int{100, 40, 16, 6, 2, 1}

// MaxRankIdx is the last valid index into Capacities.
const MaxRankIdx = len(Capacities) - 1

// CapacityForRank returns the capacity table value for a rank, clamping
// ranks beyond MaxRankIdx to the table's last entry (spec §4.7).
func CapacityForRank(rank int) int {
	if rank < 0 {
		return 0
	}
	if rank > MaxRankIdx {
		return Capacities[MaxRankIdx]
	}
	return Capacities[rank]
}

// ScoreValueSentinel is the self-score "+infinity" placeholder (spec §3).
const ScoreValueSentinel = int(^uint(0) >> 1) // max int

// DistrustedRank is the sentinel rank assigned to an identity that is
// reachable only through a capacitated negative trust (spec §4.3).
const DistrustedRank = int(^uint(0) >> 1) // INT_MAX, mirrors the source
