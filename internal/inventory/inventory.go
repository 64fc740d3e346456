package inventory

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pablintino/deploy-executor/internal/models"
	"github.com/pablintino/deploy-executor/internal/utils"
)

const (
	hostKeyUser    = "user"
	hostKeyKeyPath = "key"
	hostKeyPort    = "port"
)

// Load parses an inventory file with one host per line:
//
//	address key=value key=value ...
//
// Recognized keys are user, key and port. Blank lines and lines starting
// with '#' are ignored.
func Load(path string) ([]models.HostModel, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot open inventory %s: %v", utils.ErrConfig, path, err)
	}
	defer file.Close()

	var hosts []models.HostModel
	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		host, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("%w: inventory %s line %d: %v", utils.ErrConfig, path, lineNo, err)
		}
		hosts = append(hosts, host)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading inventory %s: %v", utils.ErrConfig, path, err)
	}
	if len(hosts) == 0 {
		return nil, fmt.Errorf("%w: inventory %s declares no hosts", utils.ErrConfig, path)
	}
	return hosts, nil
}

func parseLine(line string) (models.HostModel, error) {
	fields := strings.Fields(line)
	host := models.HostModel{Address: fields[0]}
	if strings.Contains(host.Address, "=") {
		return host, fmt.Errorf("missing host address before key=value pairs")
	}
	for _, field := range fields[1:] {
		key, value, found := strings.Cut(field, "=")
		if !found || key == "" || value == "" {
			return host, fmt.Errorf("malformed pair %q", field)
		}
		switch key {
		case hostKeyUser:
			host.User = value
		case hostKeyKeyPath:
			host.KeyPath = expandHome(value)
		case hostKeyPort:
			host.Port = value
		default:
			return host, fmt.Errorf("unknown host key %q", key)
		}
	}
	if host.User == "" {
		return host, fmt.Errorf("host %s declares no user", host.Address)
	}
	if host.KeyPath == "" {
		return host, fmt.Errorf("host %s declares no key file", host.Address)
	}
	return host, nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
