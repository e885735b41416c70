package evm

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

//go:embed abi/*.json
var embeddedABIs embed.FS

// DexABI returns the built-in ABI of the trading venue contract.
func DexABI() (*abi.ABI, error) {
	return embeddedABI("abi/dex.json")
}

// StakingABI returns the built-in ABI of the staking vault contract.
func StakingABI() (*abi.ABI, error) {
	return embeddedABI("abi/staking.json")
}

func embeddedABI(name string) (*abi.ABI, error) {
	data, err := embeddedABIs.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read embedded abi %s: %w", name, err)
	}
	a, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse embedded abi %s: %w", name, err)
	}
	return &a, nil
}

// LoadABIs loads ABI JSON files from the provided directories.
func LoadABIs(dirs []string) (map[string]*abi.ABI, error) {
	abis := map[string]*abi.ABI{}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".json") {
				return nil
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read abi %s: %w", path, err)
			}
			a, err := abi.JSON(bytes.NewReader(data))
			if err != nil {
				return fmt.Errorf("parse abi %s: %w", path, err)
			}
			abis[path] = &a
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return abis, nil
}

// FindEvent searches loaded ABIs for an event with the given name.
func FindEvent(abis map[string]*abi.ABI, eventName string) (*abi.Event, bool) {
	for _, a := range abis {
		if ev, ok := a.Events[eventName]; ok {
			return &ev, true
		}
	}
	return nil, false
}

// Overlay returns a copy of base whose events are replaced by any event of the
// same name found in the loaded ABIs. Events absent from base are not added.
func Overlay(base *abi.ABI, loaded map[string]*abi.ABI) *abi.ABI {
	out := *base
	out.Events = make(map[string]abi.Event, len(base.Events))
	for name, ev := range base.Events {
		if override, ok := FindEvent(loaded, name); ok {
			ev = *override
		}
		out.Events[name] = ev
	}
	return &out
}
