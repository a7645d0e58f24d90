//go:build !linux

package local

type mount struct {
	Name string
	Path string
}

func listMounts() []mount {
	return []mount{{Name: "/ (Root)", Path: "/"}}
}
