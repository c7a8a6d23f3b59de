// Package statedir owns the CLI's local state under ~/.skh. The saved
// session and the offline command queue both live there as JSON files.
package statedir

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Path resolves name inside the state directory, creating the directory on
// first use.
func Path(name string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".skh")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// ReadJSON loads name into v. A missing or empty file reports ok false with
// no error.
func ReadJSON(name string, v any) (bool, error) {
	path, err := Path(name)
	if err != nil {
		return false, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if len(raw) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, err
	}
	return true, nil
}

// WriteJSON persists v as name with 0600 permissions. The write lands via a
// rename so a crash mid-write cannot leave a torn file.
func WriteJSON(name string, v any) error {
	path, err := Path(name)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Remove deletes name. A file that never existed is not an error.
func Remove(name string) error {
	path, err := Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
