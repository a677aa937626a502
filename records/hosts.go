package records

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"
)

// names every hosts file carries for the local machine
var hostsSkip = map[string]bool{
	"localhost.":             true,
	"localhost.localdomain.": true,
	"local.":                 true,
	"broadcasthost.":         true,
	"ip6-localhost.":         true,
	"ip6-loopback.":          true,
	"0.0.0.0.":               true,
}

// ParseHosts reads blocked names from a hosts-format file or a plain list
// of domains, one per line.
func ParseHosts(r io.Reader) ([]string, error) {
	var names []string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)

		var entry string
		if len(fields) > 1 && !strings.HasPrefix(fields[1], "#") {
			entry = fields[1]
		} else {
			entry = fields[0]
		}

		entry = dns.CanonicalName(entry)
		if hostsSkip[entry] {
			continue
		}
		if _, ok := dns.IsDomainName(entry); !ok {
			continue
		}

		names = append(names, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error scanning hostfile: %w", err)
	}

	return names, nil
}

// ReadBlocklistDir parses every file below dir. A missing directory is not
// an error.
func ReadBlocklistDir(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		zlog.Warn("Path not found, skipping...", "path", dir)
		return nil, nil
	}

	var names []string

	err := filepath.Walk(dir, func(path string, f os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if f.IsDir() {
			return nil
		}

		file, err := os.Open(filepath.FromSlash(path))
		if err != nil {
			return fmt.Errorf("error opening file: %w", err)
		}
		defer file.Close()

		list, err := ParseHosts(file)
		if err != nil {
			return fmt.Errorf("error parsing hostfile %s: %w", path, err)
		}

		names = append(names, list...)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error walking location %s: %w", dir, err)
	}

	zlog.Info("Blocked domains loaded", "path", dir, "total", len(names))

	return names, nil
}
