package main

import (
	"fmt"
	"log"

	"sar-timelapse/internal/config"
)

// ===================
// Settings Management
// ===================

// GetSettings returns a copy of the current job settings
func (a *App) GetSettings() *config.Settings {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Return a copy to prevent external modifications
	settingsCopy := *a.settings
	return &settingsCopy
}

// UpdateSettings validates and replaces the job settings
func (a *App) UpdateSettings(settings *config.Settings) error {
	if settings == nil {
		return fmt.Errorf("settings cannot be nil")
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.settings = settings
	return nil
}

// SaveSettings writes the current job settings to a YAML file
func (a *App) SaveSettings(path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.settings.Validate(); err != nil {
		return err
	}
	if err := config.SaveSettings(path, a.settings); err != nil {
		return err
	}

	log.Printf("Settings saved to %s", path)
	return nil
}
