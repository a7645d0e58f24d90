package vfs

import (
	"maps"
	"strings"
	"time"
)

// FileKind classifies a FileData.
type FileKind int

const (
	KindUnknown FileKind = iota
	KindRegular
	KindDirectory
	KindOther // devices, sockets, broken links
)

func (k FileKind) String() string {
	switch k {
	case KindRegular:
		return "file"
	case KindDirectory:
		return "directory"
	case KindOther:
		return "other"
	default:
		return "unknown"
	}
}

// Attribute names understood across backends.
const (
	AttrStandard    = "standard::*"
	AttrContentType = "standard::content-type"
	AttrSortType    = "sort::type"
	AttrSortInverse = "sort::inverse"
	AttrAll         = "*"
)

// Attributes is a comma separated attribute selector such as
// "standard::*,sort::type". "*" selects everything, "ns::*" a namespace.
type Attributes string

// Has reports whether the selector includes the attribute key.
func (a Attributes) Has(key string) bool {
	ns, _, _ := strings.Cut(key, "::")
	for _, part := range strings.Split(string(a), ",") {
		part = strings.TrimSpace(part)
		switch {
		case part == "*", part == key:
			return true
		case strings.HasSuffix(part, "::*") && strings.TrimSuffix(part, "::*") == ns:
			return true
		}
	}
	return false
}

// FileData is a location plus the attributes a backend reported for it.
type FileData struct {
	Location    Location
	Name        string // display name
	Kind        FileKind
	Size        int64
	ModTime     time.Time
	Hidden      bool
	ContentType string
	Attributes  map[string]string // metadata such as sort::type
}

// NewFileData creates a FileData named after the location.
func NewFileData(loc Location, kind FileKind) *FileData {
	return &FileData{Location: loc, Name: loc.Base(), Kind: kind}
}

// IsDir reports whether the file is a directory.
func (f *FileData) IsDir() bool {
	return f.Kind == KindDirectory
}

// Attribute returns a metadata value, or "".
func (f *FileData) Attribute(key string) string {
	if f.Attributes == nil {
		return ""
	}
	return f.Attributes[key]
}

// SetAttribute stores a metadata value.
func (f *FileData) SetAttribute(key, value string) {
	if f.Attributes == nil {
		f.Attributes = make(map[string]string)
	}
	f.Attributes[key] = value
}

// Clone returns a deep copy.
func (f *FileData) Clone() *FileData {
	if f == nil {
		return nil
	}
	c := *f
	c.Attributes = maps.Clone(f.Attributes)
	return &c
}

// CloneFiles deep copies a file list.
func CloneFiles(files []*FileData) []*FileData {
	if files == nil {
		return nil
	}
	out := make([]*FileData, len(files))
	for i, f := range files {
		out[i] = f.Clone()
	}
	return out
}

// Locations returns the locations of files, in order.
func Locations(files []*FileData) []Location {
	out := make([]Location, len(files))
	for i, f := range files {
		out[i] = f.Location
	}
	return out
}
