package storage

import (
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// Storage wraps the sequence data folder.
type Storage struct {
	Folder string
}

// NewStorage creates a Storage for the given data folder.
func NewStorage(folder string) *Storage {
	return &Storage{Folder: folder}
}

const configFile = "config.json"

// configJSON is the structure of config.json.
type configJSON struct {
	States labelConfig `json:"states"`
}

type labelConfig struct {
	NAValue     string            `json:"NA_value"`
	SimplifyMap map[string]string `json:"simplify_map"`
}

// GetConfig reads the config file. A folder without one gets an empty schema.
func (s *Storage) GetConfig() (*configJSON, error) {
	data, err := os.ReadFile(filepath.Join(s.Folder, configFile))
	if errors.Is(err, fs.ErrNotExist) {
		return &configJSON{}, nil
	}
	if err != nil {
		return nil, err
	}
	var config configJSON
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// GetStateSchema returns the state label schema.
func (s *Storage) GetStateSchema() (*LabelSchema, error) {
	config, err := s.GetConfig()
	if err != nil {
		return nil, err
	}
	return &LabelSchema{
		NAValue:     config.States.NAValue,
		SimplifyMap: config.States.SimplifyMap,
	}, nil
}

// ReadFile reads one sequence file, relative to the folder.
func (s *Storage) ReadFile(name string) (*File, error) {
	data, err := os.ReadFile(filepath.Join(s.Folder, name))
	if err != nil {
		return nil, err
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &f, nil
}

// WriteFile writes one sequence file, relative to the folder, creating the
// folder if needed.
func (s *Storage) WriteFile(name string, f *File) error {
	if err := os.MkdirAll(s.Folder, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.Folder, name), data, 0644)
}

// Files lists the sequence files of the folder in lexical order.
func (s *Storage) Files() ([]string, error) {
	var names []string
	err := filepath.WalkDir(s.Folder, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}
		rel, err := filepath.Rel(s.Folder, path)
		if err != nil {
			return err
		}
		if rel == configFile {
			return nil
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// IterSequences reads every sequence of the folder, in file order and then
// in the order sequences appear in each file.
func (s *Storage) IterSequences(opts IterOptions) ([]Record, error) {
	schema, err := s.GetStateSchema()
	if err != nil {
		return nil, fmt.Errorf("get state schema: %w", err)
	}
	names, err := s.Files()
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}

	seen := make(map[string]bool)
	var records []Record

	for _, name := range names {
		f, err := s.ReadFile(name)
		if err != nil {
			slog.Warn("Cannot read sequence file", "path", name, "error", err)
			continue
		}

		for idx, seq := range f.Sequences {
			states := seq.States
			if opts.SimplifyStates && len(schema.SimplifyMap) > 0 {
				states = make([]string, len(seq.States))
				for i, st := range seq.States {
					if simplified, ok := schema.SimplifyMap[st]; ok {
						st = simplified
					}
					states[i] = st
				}
			}

			labeled := len(states) > 0
			for _, st := range states {
				if st == schema.NAValue && schema.NAValue != "" {
					labeled = false
				}
			}
			if opts.DropUnlabeled && !labeled {
				continue
			}

			// Deduplication by content hash
			if opts.DropDuplicates {
				hash := contentHash(seq)
				if seen[hash] {
					if opts.Verbose {
						slog.Debug("Dropping duplicate sequence", "path", name, "index", idx)
					}
					continue
				}
				seen[hash] = true
			}

			records = append(records, Record{
				File:         name,
				Source:       f.Source,
				Index:        idx,
				Observations: seq.Observations,
				Symbols:      seq.Symbols,
				Mask:         seq.Mask,
				States:       states,
				Labeled:      labeled,
			})
		}
	}
	if opts.Verbose {
		slog.Debug("Sequences loaded", "folder", s.Folder, "files", len(names), "sequences", len(records))
	}
	return records, nil
}

func contentHash(seq SequenceJSON) string {
	data, _ := json.Marshal(seq)
	return fmt.Sprintf("%x", md5.Sum(data))
}

// IterOptions controls sequence iteration behavior.
type IterOptions struct {
	DropDuplicates bool
	DropUnlabeled  bool
	SimplifyStates bool
	Verbose        bool
}

// DefaultIterOptions returns the default options for iterating sequences.
func DefaultIterOptions() IterOptions {
	return IterOptions{
		DropDuplicates: true,
		DropUnlabeled:  true,
		SimplifyStates: true,
	}
}
