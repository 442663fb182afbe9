// Package credentials parses and validates tenant-uploaded configuration
// bundles. A bundle is the complete credential set a session runs under;
// it is either fully valid or the activation that produced it fails. A
// partially populated bundle is never attached to a session.
package credentials

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Recognized configuration keys.
const (
	keyStoreURI      = "MONGO_URI"
	keyStoreURIAlias = "STORE_URI"
	keyAccessKey     = "API_KEY"
	keyProviderKey   = "RENDER_API_KEY"
	keyPort          = "PORT"
)

// ErrMissingStoreURI is returned when the backing-store address is absent or empty.
var ErrMissingStoreURI = errors.New("missing backing-store address")

// ErrMissingAccessKey is returned when the access key is absent or empty.
var ErrMissingAccessKey = errors.New("missing access key")

// Bundle is a parsed, validated tenant credential set. A Bundle is owned
// exclusively by the session it is attached to.
type Bundle struct {
	// StoreURI is the backing-store connection address. Required.
	StoreURI string

	// AccessKey authenticates the tenant. Required.
	AccessKey string

	// ProviderKey is the optional external deployment-provider key.
	ProviderKey string

	// Port is the tenant's preferred port. Zero means unset.
	Port int
}

// Validate reports whether both required fields are present and non-empty
// after trimming. Each absence is a distinct error so the route layer can
// surface a specific code.
func (b *Bundle) Validate() error {
	if strings.TrimSpace(b.StoreURI) == "" {
		return ErrMissingStoreURI
	}
	if strings.TrimSpace(b.AccessKey) == "" {
		return ErrMissingAccessKey
	}
	return nil
}

// Parse reads a configuration blob of KEY=VALUE assignments into a Bundle.
//
// Rules: comment lines (leading '#') and blank lines are ignored; keys and
// values are whitespace-trimmed; a value wrapped in one matching pair of
// quotes has the quotes stripped; the first '=' separates key from value, so
// values may themselves contain '='; a line with no separator is ignored;
// duplicate keys last-wins. A quoted value may span multiple physical lines.
//
// Parse does not validate the result; call Validate on the returned Bundle.
func Parse(blob []byte) (*Bundle, error) {
	values, err := parseAssignments(string(blob))
	if err != nil {
		return nil, err
	}

	b := &Bundle{
		AccessKey:   values[keyAccessKey],
		ProviderKey: values[keyProviderKey],
	}

	b.StoreURI = values[keyStoreURI]
	if b.StoreURI == "" {
		b.StoreURI = values[keyStoreURIAlias]
	}

	if raw, ok := values[keyPort]; ok && strings.TrimSpace(raw) != "" {
		port, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("parsing %s value %q: %w", keyPort, raw, err)
		}
		b.Port = port
	}

	return b, nil
}

// parseAssignments walks the blob line by line, carrying quote state so a
// quoted value can span physical lines. This is the documented failure mode
// of a naive per-line splitter.
func parseAssignments(blob string) (map[string]string, error) {
	values := make(map[string]string)
	lines := strings.Split(blob, "\n")

	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(strings.TrimSuffix(lines[i], "\r"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		sep := strings.Index(line, "=")
		if sep < 0 {
			continue
		}

		key := strings.TrimSpace(line[:sep])
		if key == "" {
			continue
		}
		raw := strings.TrimSpace(line[sep+1:])

		value, consumed, err := readValue(raw, lines[i+1:])
		if err != nil {
			return nil, fmt.Errorf("reading value for key %q: %w", key, err)
		}
		i += consumed

		values[key] = value
	}

	return values, nil
}

// readValue resolves one value starting at raw. If raw opens a quote that
// does not close on the same line, subsequent lines are consumed until the
// closing quote is found; the lines are joined with '\n'. Returns the value
// and how many extra lines were consumed.
func readValue(raw string, rest []string) (string, int, error) {
	if len(raw) < 1 || (raw[0] != '"' && raw[0] != '\'') {
		return raw, 0, nil
	}

	quote := raw[0]
	if len(raw) >= 2 && raw[len(raw)-1] == quote {
		// Single-line quoted value.
		return raw[1 : len(raw)-1], 0, nil
	}

	// Multi-line quoted value: accumulate until a line ends with the quote.
	parts := []string{raw[1:]}
	for n, line := range rest {
		line = strings.TrimSuffix(line, "\r")
		trimmed := strings.TrimRight(line, " \t")
		if strings.HasSuffix(trimmed, string(quote)) {
			parts = append(parts, trimmed[:len(trimmed)-1])
			return strings.Join(parts, "\n"), n + 1, nil
		}
		parts = append(parts, line)
	}

	return "", len(rest), fmt.Errorf("unterminated quoted value")
}
