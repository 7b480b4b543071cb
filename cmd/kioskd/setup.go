package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/eliteGoblin/focusd/kiosk/internal/config"
	"github.com/eliteGoblin/focusd/kiosk/internal/domain"
	"github.com/eliteGoblin/focusd/kiosk/internal/infra"
)

// errNoServerIP is returned when no controller address is configured and
// none could be read from the prompt.
var errNoServerIP = errors.New("no controller address configured")

// loadConfig reads the config file: the --config path when given, else the
// execution mode's default path when it exists, else the defaults.
func loadConfig(path, defaultPath string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(infra.ExpandHome(path))
	}
	if _, err := os.Stat(defaultPath); err == nil {
		return config.LoadFile(defaultPath)
	}
	return config.Default(), nil
}

// resolveServerIP returns the controller address. A configured address
// wins; otherwise the stored one is used; otherwise the operator is asked
// once and the answer is stored.
func resolveServerIP(configured string, settings domain.SettingsStore, in io.Reader, out io.Writer) (string, error) {
	if configured != "" {
		return configured, nil
	}

	stored, ok, err := settings.Get(infra.KeyServerIP)
	if err != nil {
		return "", fmt.Errorf("failed to read stored controller address: %w", err)
	}
	if ok && stored != "" {
		return stored, nil
	}

	ip, err := promptServerIP(in, out)
	if err != nil {
		return "", err
	}
	if err := settings.Set(infra.KeyServerIP, ip); err != nil {
		return "", fmt.Errorf("failed to save controller address: %w", err)
	}
	return ip, nil
}

// promptServerIP asks until a valid IP address is entered or input ends.
func promptServerIP(in io.Reader, out io.Writer) (string, error) {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "Controller IP address: ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return "", err
			}
			return "", errNoServerIP
		}

		ip := strings.TrimSpace(scanner.Text())
		if net.ParseIP(ip) != nil {
			return ip, nil
		}
		fmt.Fprintf(out, "%q is not a valid IP address\n", ip)
	}
}

// ensureAgentID returns the stored agent id, generating one on first run.
func ensureAgentID(settings domain.SettingsStore) (string, error) {
	id, ok, err := settings.Get(infra.KeyAgentID)
	if err != nil {
		return "", err
	}
	if ok && id != "" {
		return id, nil
	}

	id = uuid.NewString()
	if err := settings.Set(infra.KeyAgentID, id); err != nil {
		return "", err
	}
	return id, nil
}

// savedSettings returns every stored setting. A secure store that has not
// been created yet reads as empty rather than being created here.
func savedSettings(dataDir string, secure bool) (map[string]string, error) {
	if secure && !infra.NewFileKeyProvider(dataDir).KeyExists() {
		return nil, nil
	}

	settings, err := infra.OpenSettings(dataDir, secure)
	if err != nil {
		return nil, err
	}
	defer settings.Close()
	return settings.All()
}
