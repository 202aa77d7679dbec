package internal

// FlagRescan groups the bits signalling that the OS dropped or coalesced
// events below the watched root.
const FlagRescan = FlagMustScanSubDirs | FlagUserDropped | FlagKernelDropped

// Rule maps any of the bits in Mask to Type.
type Rule struct {
	Mask Flag
	Type ChangeType
}

// rules are evaluated in order, first match wins. When created and removed
// are both set (rename-replace races) the path is reported as Created.
var rules = [...]Rule{
	{Mask: FlagRescan, Type: RescanFolder},
	{Mask: FlagItemCreated, Type: Created},
	{Mask: FlagItemRemoved, Type: Removed},
}

// DefaultChangeType is returned when no rule matches.
const DefaultChangeType = Updated

// Rules returns a copy of the classification table in precedence order.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules[:])
	return out
}

// Classify maps a raw flag set to exactly one ChangeType. It never fails,
// unknown bit combinations classify as DefaultChangeType.
func Classify(flags Flag, _ string) ChangeType {
	for _, r := range rules {
		if flags.Any(r.Mask) {
			return r.Type
		}
	}
	return DefaultChangeType
}
