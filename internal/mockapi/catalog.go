package mockapi

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Song is one catalogue entry. ID defaults to File.
type Song struct {
	ID           string            `yaml:"id"`
	File         string            `yaml:"file"`
	Descriptions map[string]string `yaml:"descriptions"`
}

type catalogFile struct {
	Songs []Song `yaml:"songs"`
}

var audioExts = map[string]bool{".wav": true, ".mp3": true}

// LoadCatalog reads a YAML catalogue:
//
//	songs:
//	  - file: a.mp3
//	    descriptions:
//	      gpt: A calm piano piece.
func LoadCatalog(path string) ([]Song, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mockapi: read catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("mockapi: parse catalog: %w", err)
	}
	seen := make(map[string]bool, len(f.Songs))
	for i := range f.Songs {
		s := &f.Songs[i]
		if s.File == "" {
			return nil, fmt.Errorf("mockapi: catalog entry %d has no file", i)
		}
		if s.ID == "" {
			s.ID = s.File
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("mockapi: duplicate song id %q", s.ID)
		}
		seen[s.ID] = true
	}
	return f.Songs, nil
}

// ScanAudioDir lists the audio files in dir as a catalogue without
// descriptions, sorted by name.
func ScanAudioDir(dir string) ([]Song, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("mockapi: scan audio dir: %w", err)
	}
	var songs []Song
	for _, e := range entries {
		if e.IsDir() || !audioExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		songs = append(songs, Song{ID: e.Name(), File: e.Name()})
	}
	sort.Slice(songs, func(i, j int) bool { return songs[i].File < songs[j].File })
	return songs, nil
}
