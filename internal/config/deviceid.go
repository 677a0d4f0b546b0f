package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// DeviceIDFile is the file, next to the database, that holds the
// generated device id.
const DeviceIDFile = "device_id"

// ResolveDeviceID returns the configured device id, or the id persisted
// in dir, generating and persisting a new UUID the first time.
func ResolveDeviceID(configured, dir string) (string, error) {
	if configured != "" {
		return configured, nil
	}

	path := filepath.Join(dir, DeviceIDFile)
	data, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("read device id: %w", err)
	}

	id := uuid.NewString()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create device id directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write device id: %w", err)
	}
	return id, nil
}
