package config

import (
	"errors"
	"io/fs"
	"path/filepath"

	"github.com/joho/godotenv"
)

// envFiles lists the dotenv files consulted, in order, next to the config file.
var envFiles = []string{".env", ".env.local"}

// loadEnvFiles loads every existing dotenv file from dir. Variables already
// present in the process environment are never overwritten. It returns the
// files that were loaded.
func loadEnvFiles(dir string) ([]string, error) {
	var loaded []string
	for _, name := range envFiles {
		path := filepath.Join(dir, name)
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return loaded, err
		}
		loaded = append(loaded, path)
	}
	return loaded, nil
}
