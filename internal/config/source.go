package config

import (
	"sync/atomic"
)

// Source holds the current settings and reloads them on demand. Readers
// always see a complete Settings value.
type Source struct {
	loader Loader
	cur    atomic.Pointer[Settings]
}

// NewSource loads settings once and returns a Source serving them.
func NewSource(l Loader) (*Source, error) {
	s := &Source{loader: l}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Current returns the settings in force.
func (s *Source) Current() Settings {
	return *s.cur.Load()
}

// Reload reads the settings again. On error the previous settings stay in
// force. Device id, database and asset paths are fixed for the process
// lifetime and are carried over from the first load.
func (s *Source) Reload() error {
	next, err := s.loader.Load()
	if err != nil {
		return err
	}
	if prev := s.cur.Load(); prev != nil {
		next.DeviceID = prev.DeviceID
		next.Database = prev.Database
		next.AssetsDir = prev.AssetsDir
	}
	s.cur.Store(&next)
	return nil
}

// SetDeviceID fixes the device id for the process lifetime.
func (s *Source) SetDeviceID(id string) {
	next := s.Current()
	next.DeviceID = id
	s.cur.Store(&next)
}
