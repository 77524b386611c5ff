package platform

import (
	"os"
	"strings"
)

const (
	disableBTLine       = "dtoverlay=disable-bt"
	brcmfmacRoamOffLine = "options brcmfmac roamoff=1"
)

var bootConfigCandidates = []string{"/boot/firmware/config.txt", "/boot/config.txt"}

// ReconcileBootConfig appends dtoverlay=disable-bt to whichever boot config
// file exists, idempotently (no duplicate line on repeated runs).
func ReconcileBootConfig() error {
	for _, path := range bootConfigCandidates {
		if _, err := os.Stat(path); err == nil {
			return appendLineIfMissing(path, disableBTLine)
		}
	}
	return nil
}

// ReconcileRoamingConfig toggles `options brcmfmac roamoff=1` in
// /etc/modprobe.d/brcmfmac.conf based on disableRoaming.
func ReconcileRoamingConfig(path string, disableRoaming bool) error {
	if disableRoaming {
		return appendLineIfMissing(path, brcmfmacRoamOffLine)
	}
	return removeLineIfPresent(path, brcmfmacRoamOffLine)
}

func appendLineIfMissing(path, line string) error {
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	lines := strings.Split(string(existing), "\n")
	for _, l := range lines {
		if strings.TrimSpace(l) == line {
			return nil
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line + "\n")
	return err
}

func removeLineIfPresent(path, line string) error {
	existing, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	lines := strings.Split(string(existing), "\n")
	out := lines[:0]
	changed := false
	for _, l := range lines {
		if strings.TrimSpace(l) == line {
			changed = true
			continue
		}
		out = append(out, l)
	}
	if !changed {
		return nil
	}
	return os.WriteFile(path, []byte(strings.Join(out, "\n")), 0644)
}
