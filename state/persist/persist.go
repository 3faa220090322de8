// Package persist keeps the fetch resume position across restarts.
// Data lives in extremofile main+backup pair, so a torn write falls back to the previous copy.
package persist

import (
	"io"
	"path/filepath"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/extremofile"
	"github.com/temoto/pvstats/log2"
)

type storage interface {
	Read() ([]byte, error)
	io.Writer
}

// slot is one named extremofile directory under persist root.
type slot struct {
	log     *log2.Log
	name    string
	storage storage
}

func openSlot(root, name string, log *log2.Log) (*slot, error) {
	if root == "" {
		return nil, errors.NotValidf("persist %s root=empty", name)
	}
	dir := filepath.Join(root, name)
	log.Debugf("persist %s dir=%s", name, dir)
	return &slot{
		log:  log,
		name: name,
		storage: extremofile.New(extremofile.Config{
			Dir:      dir,
			DirPerm:  0755,
			FilePerm: 0644,
		}),
	}, nil
}

// read returns nil,nil when nothing was written yet.
// Main copy damaged but backup good is logged, not returned.
func (s *slot) read() ([]byte, error) {
	tbegin := time.Now()
	b, err := s.storage.Read()
	s.log.Debugf("persist %s read bytes=%d duration=%v", s.name, len(b), time.Since(tbegin))
	switch {
	case err == nil:
	case b != nil && !extremofile.IsCritical(err):
		s.log.Errorf("persist %s recovered from backup err=%v", s.name, err)
		err = nil
	case extremofile.IsCorrupt(err):
		return nil, errors.NewNotValid(err, "persist "+s.name+" corrupt")
	}
	return b, errors.Annotatef(err, "persist %s read", s.name)
}

func (s *slot) write(b []byte) error {
	tbegin := time.Now()
	_, err := s.storage.Write(b)
	s.log.Debugf("persist %s write bytes=%d duration=%v", s.name, len(b), time.Since(tbegin))
	return errors.Annotatef(err, "persist %s write", s.name)
}
