package internal

import (
	"fmt"
	"strings"
)

// ChangeType
// semantic classification of a single raw notification.
type ChangeType int

const (
	Created ChangeType = iota
	Removed
	RescanFolder
	Updated
)

var changeTypeNames = [...]string{
	Created:      "CREATED",
	Removed:      "REMOVED",
	RescanFolder: "RESCAN_FOLDER",
	Updated:      "UPDATED",
}

func (c ChangeType) String() string {
	if c < 0 || int(c) >= len(changeTypeNames) {
		return fmt.Sprintf("ChangeType(%d)", int(c))
	}
	return changeTypeNames[c]
}

func (c ChangeType) MarshalText() ([]byte, error) {
	if c < 0 || int(c) >= len(changeTypeNames) {
		return nil, fmt.Errorf("invalid change type %d", int(c))
	}
	return []byte(changeTypeNames[c]), nil
}

func (c *ChangeType) UnmarshalText(b []byte) error {
	for i, name := range changeTypeNames {
		if name == string(b) {
			*c = ChangeType(i)
			return nil
		}
	}
	return fmt.Errorf("invalid change type %q", string(b))
}

// Flag
// raw notification flag set as delivered by the OS collaborator, multiple
// bits may be set on a single notification.
type Flag uint32

const (
	FlagMustScanSubDirs Flag = 1 << iota
	FlagUserDropped
	FlagKernelDropped
	FlagEventIDsWrapped
	FlagRootChanged
	FlagMount
	FlagUnmount
	FlagItemCreated
	FlagItemRemoved
	FlagItemInodeMetaMod
	FlagItemRenamed
	FlagItemModified
	FlagItemFinderInfoMod
	FlagItemChangeOwner
	FlagItemXattrMod
	FlagItemIsFile
	FlagItemIsDir
	FlagItemIsSymlink
)

const FlagNone Flag = 0

var flagNames = []struct {
	f    Flag
	name string
}{
	{FlagMustScanSubDirs, "MUST_SCAN_SUBDIRS"},
	{FlagUserDropped, "USER_DROPPED"},
	{FlagKernelDropped, "KERNEL_DROPPED"},
	{FlagEventIDsWrapped, "EVENT_IDS_WRAPPED"},
	{FlagRootChanged, "ROOT_CHANGED"},
	{FlagMount, "MOUNT"},
	{FlagUnmount, "UNMOUNT"},
	{FlagItemCreated, "CREATED"},
	{FlagItemRemoved, "REMOVED"},
	{FlagItemInodeMetaMod, "INODE_META_MOD"},
	{FlagItemRenamed, "RENAMED"},
	{FlagItemModified, "MODIFIED"},
	{FlagItemFinderInfoMod, "FINDER_INFO_MOD"},
	{FlagItemChangeOwner, "CHANGE_OWNER"},
	{FlagItemXattrMod, "XATTR_MOD"},
	{FlagItemIsFile, "IS_FILE"},
	{FlagItemIsDir, "IS_DIR"},
	{FlagItemIsSymlink, "IS_SYMLINK"},
}

func (f Flag) String() string {
	var b strings.Builder
	for _, n := range flagNames {
		if f.Has(n.f) {
			b.WriteString("|")
			b.WriteString(n.name)
		}
	}
	if b.Len() == 0 {
		return "[no flags]"
	}
	return b.String()[1:]
}

// Has reports whether every bit of h is set in f.
func (f Flag) Has(h Flag) bool { return f&h == h }

// Any reports whether at least one bit of h is set in f.
func (f Flag) Any(h Flag) bool { return f&h != 0 }

// Notification
// a single raw (path, flags) pair, owned by the collaborator until the
// batch containing it is handed over.
type Notification struct {
	Path  string
	Flags Flag
}

func (n Notification) String() string {
	return fmt.Sprintf("%-20s %q", n.Flags.String(), n.Path)
}
