//go:build !linux

package trash

func defaultDir() (string, error) {
	return "", ErrUnavailable
}
