package netstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/mvo5/goconfigparser"
)

// NMStore reads and writes one NetworkManager .nmconnection INI file per
// SSID under Dir (system-connections/).
type NMStore struct {
	Dir           string
	InterfaceName string
}

func NewNMStore(dir, iface string) *NMStore {
	return &NMStore{Dir: dir, InterfaceName: iface}
}

func (s *NMStore) pathFor(ssid string) string {
	return filepath.Join(s.Dir, sanitizeFilename(ssid)+".nmconnection")
}

func sanitizeFilename(ssid string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == filepath.Separator {
			return '_'
		}
		return r
	}, ssid)
}

func (s *NMStore) readFile(path string) (*goconfigparser.ConfigParser, error) {
	cfg := goconfigparser.New()
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := cfg.Read(f); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (s *NMStore) Get(ssid string) (WifiNetwork, bool, error) {
	cfg, err := s.readFile(s.pathFor(ssid))
	if os.IsNotExist(err) {
		return WifiNetwork{}, false, nil
	}
	if err != nil {
		return WifiNetwork{}, false, err
	}
	return s.networkFromConfig(cfg), true, nil
}

func (s *NMStore) networkFromConfig(cfg *goconfigparser.ConfigParser) WifiNetwork {
	ssid, _ := cfg.Get("wifi", "ssid")
	psk, _ := cfg.Get("wifi-security", "psk")
	autoconnect, _ := cfg.Get("connection", "autoconnect")
	priorityStr, _ := cfg.Get("connection", "autoconnect-priority")
	priority, _ := strconv.Atoi(priorityStr)
	return WifiNetwork{
		SSID:     ssid,
		Password: psk,
		Enabled:  autoconnect != "false",
		Priority: priority,
	}
}

func (s *NMStore) List() ([]WifiNetwork, error) {
	entries, err := os.ReadDir(s.Dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []WifiNetwork
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".nmconnection") {
			continue
		}
		cfg, err := s.readFile(filepath.Join(s.Dir, e.Name()))
		if err != nil {
			continue
		}
		out = append(out, s.networkFromConfig(cfg))
	}
	return out, nil
}

// Add creates or updates the .nmconnection file for n.SSID. Update-in-place
// preserves the existing uuid; create generates a fresh one. goconfigparser
// only reads; the keyfile is rendered directly, section by section, in the
// order NetworkManager itself writes them.
func (s *NMStore) Add(ctx context.Context, n WifiNetwork) error {
	path := s.pathFor(n.SSID)
	id := uuid.NewString()
	if existing, err := s.readFile(path); err == nil {
		if existingID, err := existing.Get("connection", "uuid"); err == nil && existingID != "" {
			id = existingID
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[connection]\n")
	fmt.Fprintf(&b, "id=%s\n", n.SSID)
	fmt.Fprintf(&b, "uuid=%s\n", id)
	fmt.Fprintf(&b, "type=wifi\n")
	fmt.Fprintf(&b, "interface-name=%s\n", s.InterfaceName)
	fmt.Fprintf(&b, "autoconnect=%s\n", boolStr(n.Enabled))
	fmt.Fprintf(&b, "autoconnect-priority=%d\n", n.Priority)
	fmt.Fprintf(&b, "\n[wifi]\n")
	fmt.Fprintf(&b, "mode=infrastructure\n")
	fmt.Fprintf(&b, "ssid=%s\n", n.SSID)
	fmt.Fprintf(&b, "\n[wifi-security]\n")
	fmt.Fprintf(&b, "key-mgmt=wpa-psk\n")
	fmt.Fprintf(&b, "psk=%s\n", n.Password)
	fmt.Fprintf(&b, "\n[ipv4]\n")
	fmt.Fprintf(&b, "method=auto\n")
	fmt.Fprintf(&b, "\n[ipv6]\n")
	fmt.Fprintf(&b, "method=disabled\n")

	if err := os.MkdirAll(s.Dir, 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func (s *NMStore) Remove(ctx context.Context, ssid string) error {
	err := os.Remove(s.pathFor(ssid))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// NeedsReconcile always returns false: NetworkManager owns the global
// config, unlike the wpa_supplicant text store's preamble.
func (s *NMStore) NeedsReconcile() (bool, error) { return false, nil }

func (s *NMStore) Reconcile(ctx context.Context) error { return nil }
