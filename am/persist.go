package am

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/teranos/hubrun/errors"
	"github.com/teranos/hubrun/logger"
)

// createBackup creates rotating backups (.back1, .back2, .back3) before modifying config
func createBackup(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil // No file to backup
	}

	back3 := configPath + ".back3"
	back2 := configPath + ".back2"
	back1 := configPath + ".back1"

	if err := os.Remove(back3); err != nil && !os.IsNotExist(err) {
		logger.Warnw("Failed to delete old config backup", logger.FieldFile, back3, logger.FieldError, err)
	}
	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.Wrap(err, "failed to rotate .back2 to .back3")
		}
	}
	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.Wrap(err, "failed to rotate .back1 to .back2")
		}
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}
	if err := os.WriteFile(back1, content, SecretFilePermissions); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}
	return nil
}

// loadRaw reads a TOML file into a generic map, or returns an empty map if it doesn't exist
func loadRaw(configPath string) (map[string]interface{}, error) {
	if err := os.MkdirAll(filepath.Dir(configPath), 0750); err != nil {
		return nil, errors.Wrapf(err, "failed to create %s", filepath.Dir(configPath))
	}

	config := make(map[string]interface{})
	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return config, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", configPath)
	}
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", configPath)
	}
	return config, nil
}

// saveRaw writes the config with backup. Files hold api keys, so 0600.
func saveRaw(config map[string]interface{}, configPath string) error {
	if err := createBackup(configPath); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}

	data, err := toml.Marshal(config)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	// Mark this as our own write to prevent reload loops
	globalWatcherMu.Lock()
	if globalWatcher != nil {
		globalWatcher.MarkOwnWrite()
	}
	globalWatcherMu.Unlock()

	if err := os.WriteFile(configPath, data, SecretFilePermissions); err != nil {
		return errors.Wrapf(err, "failed to write %s", configPath)
	}
	return nil
}

// AddCredential adds or replaces a credential in the user config file
func AddCredential(cred CredentialConfig) error {
	path := UserConfigPath()
	if path == "" {
		return errors.New("could not determine home directory")
	}
	return AddCredentialTo(path, cred)
}

// AddCredentialTo adds or replaces (by id) a credential in the given config file
func AddCredentialTo(configPath string, cred CredentialConfig) error {
	if cred.ID == "" || cred.APIKey == "" {
		return errors.NewInvalidRequestError("credential needs both an id and an api key")
	}
	if cred.Concurrency < 1 {
		return errors.NewInvalidRequestError("credential %s: concurrency must be >= 1, got %d", cred.ID, cred.Concurrency)
	}

	config, err := loadRaw(configPath)
	if err != nil {
		return err
	}

	entry := map[string]interface{}{
		"id":          cred.ID,
		"api_key":     cred.APIKey,
		"concurrency": int64(cred.Concurrency),
	}

	existing := credentialEntries(config)
	replaced := false
	for i, e := range existing {
		if id, _ := e["id"].(string); id == cred.ID {
			existing[i] = entry
			replaced = true
		}
	}
	if !replaced {
		existing = append(existing, entry)
	}
	config["credentials"] = existing

	return saveRaw(config, configPath)
}

// RemoveCredentialFrom deletes a credential by id from the given config file
func RemoveCredentialFrom(configPath, id string) error {
	config, err := loadRaw(configPath)
	if err != nil {
		return err
	}

	existing := credentialEntries(config)
	kept := existing[:0]
	for _, e := range existing {
		if eid, _ := e["id"].(string); eid != id {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(existing) {
		return errors.NewNotFoundError("credential %q in %s", id, configPath)
	}
	config["credentials"] = kept

	return saveRaw(config, configPath)
}

func credentialEntries(config map[string]interface{}) []map[string]interface{} {
	var entries []map[string]interface{}
	switch raw := config["credentials"].(type) {
	case []interface{}:
		for _, item := range raw {
			if m, ok := item.(map[string]interface{}); ok {
				entries = append(entries, m)
			}
		}
	case []map[string]interface{}:
		entries = raw
	}
	return entries
}
