package config

import (
	"errors"
	"os"
	"path"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const (
	configFileName = "config.toml"
	homeConfigPath = ".config/leaderlink.d"
	etcConfigPath  = "/etc/leaderlink.d"
)

var (
	ConfFileNotFound = errors.New("config file not found")
)

// Load reads the leaderlink configuration. When filePath is empty the file is
// looked up in order:
// 1. next to the executable
// 2. $HOME/.config/leaderlink.d/config.toml
// 3. /etc/leaderlink.d/config.toml
func Load(filePath string) (*Config, error) {
	var (
		err error
		cnf Config
	)

	if filePath, err = findPath(filePath); err != nil {
		return nil, err
	}

	if _, err := toml.DecodeFile(filePath, &cnf); err != nil {
		return nil, err
	}

	if err := cnf.Normalize(); err != nil {
		return nil, err
	}

	return &cnf, nil
}

// Decode parses configuration from TOML text.
func Decode(data string) (*Config, error) {
	var cnf Config
	if _, err := toml.Decode(data, &cnf); err != nil {
		return nil, err
	}

	if err := cnf.Normalize(); err != nil {
		return nil, err
	}

	return &cnf, nil
}

func findPath(givenPath string) (string, error) {
	if len(givenPath) > 0 {
		return givenPath, nil
	}

	finders := []func() (string, error){findInExecPath, findInHome, findInEtc}
	for _, find := range finders {
		found, err := find()
		if err != nil {
			return "", err
		}
		if found != "" {
			return found, nil
		}
	}

	return "", ConfFileNotFound
}

func findInExecPath() (string, error) {
	dir, err := filepath.Abs(filepath.Dir(os.Args[0]))
	if err != nil {
		return "", err
	}

	return existing(path.Join(dir, configFileName))
}

func findInHome() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return existing(path.Join(home, homeConfigPath, configFileName))
}

func findInEtc() (string, error) {
	return existing(path.Join(etcConfigPath, configFileName))
}

// existing returns filePath when it exists, "" when it does not, and an error
// for anything else stat may report.
func existing(filePath string) (string, error) {
	_, err := os.Stat(filePath)
	switch {
	case err == nil:
		return filePath, nil
	case os.IsNotExist(err):
		return "", nil
	default:
		return "", err
	}
}
