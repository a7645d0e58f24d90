package nav

import (
	"strconv"

	"github.com/justyntemme/waypoint/internal/vfs"
)

// SortBy is the file list sort key.
type SortBy int

const (
	SortByName SortBy = iota
	SortByDate
	SortBySize
	SortByType
)

var sortNames = [...]string{
	SortByName: "name",
	SortByDate: "date",
	SortBySize: "size",
	SortByType: "type",
}

func (s SortBy) String() string {
	if int(s) < len(sortNames) {
		return sortNames[s]
	}
	return "name"
}

// ParseSortBy maps a name back to a SortBy.
func ParseSortBy(name string) (SortBy, bool) {
	for i, n := range sortNames {
		if n == name {
			return SortBy(i), true
		}
	}
	return SortByName, false
}

// SortOrder is a sort key and direction.
type SortOrder struct {
	By      SortBy
	Inverse bool
}

// sortOrderFor returns the order stored in folder's metadata, falling back
// to def for missing or unknown values.
func sortOrderFor(folder *vfs.FileData, def SortOrder) SortOrder {
	if folder == nil {
		return def
	}
	order := def
	if by, ok := ParseSortBy(folder.Attribute(vfs.AttrSortType)); ok {
		order.By = by
	} else {
		return def
	}
	if inv, err := strconv.ParseBool(folder.Attribute(vfs.AttrSortInverse)); err == nil {
		order.Inverse = inv
	}
	return order
}

func (o SortOrder) apply(folder *vfs.FileData) {
	folder.SetAttribute(vfs.AttrSortType, o.By.String())
	folder.SetAttribute(vfs.AttrSortInverse, strconv.FormatBool(o.Inverse))
}
