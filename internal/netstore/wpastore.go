package netstore

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/mvo5/goconfigparser"
)

// WPAStore reads and writes wpa_supplicant.conf: a key=value preamble
// followed by zero or more network={...} blocks.
type WPAStore struct {
	Path    string
	Country string
}

func NewWPAStore(path, country string) *WPAStore {
	return &WPAStore{Path: path, Country: country}
}

func (s *WPAStore) expectedPreamble() string {
	return strings.Join([]string{
		"ctrl_interface=/run/wpa_supplicant",
		"update_config=1",
		"ap_scan=1",
		`bgscan=""`,
		fmt.Sprintf("country=%s", s.Country),
	}, "\n") + "\n"
}

var networkBlockRe = regexp.MustCompile(`^network=\{\s*$`)

func (s *WPAStore) read() (preamble string, networks []WifiNetwork, err error) {
	f, err := os.Open(s.Path)
	if os.IsNotExist(err) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	var preambleLines []string
	scanner := bufio.NewScanner(f)
	inBlock := false
	var cur map[string]string
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		switch {
		case !inBlock && networkBlockRe.MatchString(trimmed):
			inBlock = true
			cur = make(map[string]string)
		case inBlock && trimmed == "}":
			inBlock = false
			networks = append(networks, networkFromBlock(cur))
		case inBlock:
			k, v, ok := splitKV(trimmed)
			if ok {
				cur[k] = v
			}
		case !inBlock && trimmed != "":
			preambleLines = append(preambleLines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", nil, err
	}
	return strings.Join(preambleLines, "\n") + "\n", networks, nil
}

func splitKV(line string) (string, string, bool) {
	idx := strings.IndexByte(line, '=')
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]), true
}

func networkFromBlock(m map[string]string) WifiNetwork {
	n := WifiNetwork{
		SSID:     stripQuotes(m["ssid"]),
		Password: stripQuotes(m["psk"]),
	}
	if d, err := strconv.Atoi(m["disabled"]); err == nil {
		n.Enabled = d == 0
	} else {
		n.Enabled = true
	}
	n.Priority, _ = strconv.Atoi(m["priority"])
	return n
}

func (s *WPAStore) write(preamble string, networks []WifiNetwork) error {
	var b strings.Builder
	b.WriteString(preamble)
	for _, n := range networks {
		disabled := 0
		if !n.Enabled {
			disabled = 1
		}
		fmt.Fprintf(&b, "network={\n    ssid=%s\n    psk=%s\n    disabled=%d\n    priority=%d\n}\n",
			quote(n.SSID), quote(n.Password), disabled, n.Priority)
	}
	return os.WriteFile(s.Path, []byte(b.String()), 0600)
}

func (s *WPAStore) Get(ssid string) (WifiNetwork, bool, error) {
	_, networks, err := s.read()
	if err != nil {
		return WifiNetwork{}, false, err
	}
	for _, n := range networks {
		if n.SSID == stripQuotes(ssid) {
			return n, true, nil
		}
	}
	return WifiNetwork{}, false, nil
}

func (s *WPAStore) List() ([]WifiNetwork, error) {
	_, networks, err := s.read()
	return networks, err
}

// Add inserts n, or replaces the existing entry with the same SSID, keeping
// list order otherwise stable.
func (s *WPAStore) Add(ctx context.Context, n WifiNetwork) error {
	preamble, networks, err := s.read()
	if err != nil {
		return err
	}
	if preamble == "\n" || preamble == "" {
		preamble = s.expectedPreamble()
	}
	n.SSID = stripQuotes(n.SSID)
	n.Password = stripQuotes(n.Password)
	replaced := false
	for i, existing := range networks {
		if existing.SSID == n.SSID {
			networks[i] = n
			replaced = true
			break
		}
	}
	if !replaced {
		networks = append(networks, n)
	}
	return s.write(preamble, networks)
}

func (s *WPAStore) Remove(ctx context.Context, ssid string) error {
	preamble, networks, err := s.read()
	if err != nil {
		return err
	}
	ssid = stripQuotes(ssid)
	out := networks[:0]
	for _, n := range networks {
		if n.SSID != ssid {
			out = append(out, n)
		}
	}
	return s.write(preamble, out)
}

// NeedsReconcile is true iff the on-disk preamble doesn't match the expected
// lines, parsed via goconfigparser (AllowNoSectionHeader, since the
// preamble itself is a flat key=value list).
func (s *WPAStore) NeedsReconcile() (bool, error) {
	preamble, _, err := s.read()
	if err != nil {
		return false, err
	}
	cfg := goconfigparser.New()
	cfg.AllowNoSectionHeader = true
	if err := cfg.Read(strings.NewReader(preamble)); err != nil {
		return true, nil
	}
	country, _ := cfg.Get("", "country")
	if country != s.Country {
		return true, nil
	}
	return preamble != s.expectedPreamble(), nil
}

func (s *WPAStore) Reconcile(ctx context.Context) error {
	_, networks, err := s.read()
	if err != nil {
		return err
	}
	return s.write(s.expectedPreamble(), networks)
}
