// Package store pkg/toggle-api/store/file_store.go
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/pretty"

	"github.com/skycoin/dongle-services/internal/dongle"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var prettyOptions = &pretty.Options{Width: 80, Indent: "  ", SortKeys: true}

// fileState is the on-disk layout: one object keyed by subnet-as-string.
type fileState map[string]dongle.SubnetState

// fileVersion identifies one content of the state file.
type fileVersion struct {
	exists  bool
	modTime int64
	size    int64
}

type filePersister struct {
	path string
	seen fileVersion
}

// NewFileStore creates a store persisted as a single JSON file at path.
// A missing file starts an empty store; a malformed one is an error.
// The file is read again whenever another process rewrote it.
func NewFileStore(path string) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	p := &filePersister{path: path}
	states, _, err := p.load()
	if err != nil {
		return nil, err
	}
	return newMemStore(states, p), nil
}

func statStateFile(path string) (fileVersion, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return fileVersion{}, nil
	}
	if err != nil {
		return fileVersion{}, err
	}
	return fileVersion{exists: true, modTime: info.ModTime().UnixNano(), size: info.Size()}, nil
}

func (p *filePersister) load() (map[int]dongle.SubnetState, bool, error) {
	v, err := statStateFile(p.path)
	if err != nil {
		return nil, false, err
	}
	if v == p.seen {
		return nil, false, nil
	}
	states, err := readStateFile(p.path)
	if err != nil {
		return nil, false, err
	}
	p.seen = v
	return states, true, nil
}

func readStateFile(path string) (map[int]dongle.SubnetState, error) {
	raw, err := os.ReadFile(path) //nolint
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var fs fileState
	if err := json.Unmarshal(raw, &fs); err != nil {
		return nil, fmt.Errorf("state file %s: %w", path, err)
	}
	states := make(map[int]dongle.SubnetState, len(fs))
	for key, st := range fs {
		subnet, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("state file %s: subnet key %q", path, key)
		}
		states[subnet] = st
	}
	return states, nil
}

// persist rewrites the whole file through a temp file and rename.
func (p *filePersister) persist(states map[int]dongle.SubnetState, _ []int) error {
	fs := make(fileState, len(states))
	for subnet, st := range states {
		fs[dongle.StateKey(subnet)] = st
	}
	raw, err := json.Marshal(fs)
	if err != nil {
		return err
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, pretty.PrettyOptions(raw, prettyOptions), 0o640); err != nil { //nolint
		return err
	}
	if err := os.Rename(tmp, p.path); err != nil {
		return err
	}
	v, err := statStateFile(p.path)
	if err != nil {
		return err
	}
	p.seen = v
	return nil
}

func (p *filePersister) close() error {
	return nil
}
