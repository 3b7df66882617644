package provider

import (
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"
)

// Property keys reported by the local provider.
const (
	PropSize    = "size"
	PropMode    = "mode"
	PropUID     = "uid"
	PropGID     = "gid"
	PropModTime = "mtime"
)

// statIdentity returns the device and inode pair of a file. A rename within
// one filesystem keeps both, so the pair is a stable object identity.
func statIdentity(info os.FileInfo) (string, bool) {
	sysStat := info.Sys()
	if sysStat == nil {
		return "", false
	}

	fileStat, ok := sysStat.(*syscall.Stat_t)
	if !ok {
		return "", false
	}

	return strconv.FormatUint(uint64(fileStat.Dev), 10) + ":" + strconv.FormatUint(fileStat.Ino, 10), true
}

// fileProperties maps unix metadata into an object properties bag.
func fileProperties(info os.FileInfo) map[string]string {
	props := map[string]string{
		PropSize:    strconv.FormatInt(info.Size(), 10),
		PropMode:    info.Mode().Perm().String(),
		PropModTime: info.ModTime().UTC().Format(time.RFC3339Nano),
	}

	if fileStat, ok := info.Sys().(*syscall.Stat_t); ok {
		props[PropUID] = strconv.FormatUint(uint64(fileStat.Uid), 10)
		props[PropGID] = strconv.FormatUint(uint64(fileStat.Gid), 10)
	}
	return props
}

// localObject converts a directory entry of dir into an Object.
// Directories are containers identified by their absolute path; regular
// files are leaves identified by device and inode.
func localObject(dir string, info os.FileInfo, withProps bool) (Object, bool) {
	full := filepath.Join(dir, info.Name())

	if info.IsDir() {
		return Object{
			ID:          full,
			Name:        info.Name(),
			Parents:     []string{dir},
			IsContainer: true,
		}, true
	}

	if !info.Mode().IsRegular() {
		return Object{}, false
	}

	id, ok := statIdentity(info)
	if !ok {
		return Object{}, false
	}

	obj := Object{
		ID:      id,
		Name:    info.Name(),
		Parents: []string{dir},
	}
	if withProps {
		obj.Properties = fileProperties(info)
	}
	return obj, true
}
