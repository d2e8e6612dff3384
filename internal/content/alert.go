/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package content

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// alertSoundPath resolves an alert sound name to a file inside the
// alert sound directory. Names must stay inside the directory; an
// extensionless name matches any audio file with that stem.
func alertSoundPath(dir, name string) (string, error) {
	clean := filepath.Clean("/" + name)
	candidate := filepath.Join(dir, clean)
	if !strings.HasPrefix(candidate, filepath.Clean(dir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("alert sound %q escapes the sound directory", name)
	}
	if _, err := os.Stat(candidate); err == nil {
		return candidate, nil
	}
	if filepath.Ext(candidate) == "" {
		for ext := range audioExtensions {
			if _, err := os.Stat(candidate + ext); err == nil {
				return candidate + ext, nil
			}
		}
	}
	return "", fmt.Errorf("alert sound %q not found", name)
}
