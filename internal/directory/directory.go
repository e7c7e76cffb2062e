// Package directory maps the profile URLs that bill signers declare to
// congressperson ids.
package directory

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/JakeFAU/openperu-ingest/internal/congress"
)

// Directory is an immutable lookup table. It is safe for concurrent use.
type Directory struct {
	byURL map[string]int
}

// New indexes people by website, falling back to the profile URL when a
// person publishes no website. The first person registered for a URL wins.
func New(people []congress.Congressperson) *Directory {
	d := &Directory{byURL: make(map[string]int, len(people))}
	for _, p := range people {
		for _, raw := range []string{p.Website, p.ProfileURL} {
			key := Normalize(raw)
			if key == "" {
				continue
			}
			if _, taken := d.byURL[key]; !taken {
				d.byURL[key] = p.ID
			}
		}
	}
	return d
}

// Lookup returns the id registered for url.
func (d *Directory) Lookup(url string) (int, bool) {
	key := Normalize(url)
	if key == "" {
		return 0, false
	}
	id, ok := d.byURL[key]
	return id, ok
}

// Len reports the number of indexed URLs.
func (d *Directory) Len() int { return len(d.byURL) }

// Normalize folds the cosmetic differences between the URL a signer
// declares and the one a profile page links: scheme, case of the host,
// surrounding whitespace and a trailing slash.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	lower := strings.ToLower(s)
	for _, scheme := range []string{"https://", "http://"} {
		if strings.HasPrefix(lower, scheme) {
			s = s[len(scheme):]
			break
		}
	}
	host, path, _ := strings.Cut(s, "/")
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	path = strings.TrimRight(path, "/")
	if path == "" {
		return host
	}
	return host + "/" + path
}

// Load reads a JSON-lines file of congresspeople, the format the jsonl
// sink writes.
func Load(path string) (*Directory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open directory %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	people, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", path, err)
	}
	return New(people), nil
}

// Read decodes one congressperson per line. Blank lines are skipped.
func Read(r io.Reader) ([]congress.Congressperson, error) {
	var people []congress.Congressperson
	dec := json.NewDecoder(bufio.NewReader(r))
	for {
		var p congress.Congressperson
		err := dec.Decode(&p)
		if errors.Is(err, io.EOF) {
			return people, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode congressperson %d: %w", len(people)+1, err)
		}
		people = append(people, p)
	}
}
