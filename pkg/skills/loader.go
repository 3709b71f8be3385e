package skills

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/corpcraft/swarmengine/pkg/logger"
)

// Skill is a loaded manifest plus its instruction body.
type Skill struct {
	ID       string   `json:"id"`
	Dir      string   `json:"dir"`
	Manifest Manifest `json:"manifest"`
	Body     string   `json:"-"`
}

// Loader scans a directory of skill folders, each holding a SKILL.md.
type Loader struct {
	dir string
}

func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// List loads every valid skill under the directory, sorted by id.
// Invalid manifests are logged and skipped.
func (l *Loader) List() []Skill {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil
	}

	var out []Skill
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		skill, err := l.load(filepath.Join(l.dir, entry.Name()))
		if err != nil {
			logger.WarnCF("skills", "skipping invalid skill", map[string]any{
				"dir": entry.Name(), "error": err.Error(),
			})
			continue
		}
		out = append(out, skill)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Load reads one skill by id.
func (l *Loader) Load(id string) (Skill, bool) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return Skill{}, false
	}
	for _, entry := range entries {
		if !entry.IsDir() || SkillID(entry.Name()) != id {
			continue
		}
		skill, err := l.load(filepath.Join(l.dir, entry.Name()))
		if err != nil {
			return Skill{}, false
		}
		return skill, true
	}
	return Skill{}, false
}

func (l *Loader) load(dir string) (Skill, error) {
	data, err := os.ReadFile(filepath.Join(dir, "SKILL.md"))
	if err != nil {
		return Skill{}, err
	}
	manifest, body, err := parseManifest(string(data))
	if err != nil {
		return Skill{}, err
	}
	return Skill{
		ID:       SkillID(filepath.Base(dir)),
		Dir:      dir,
		Manifest: manifest,
		Body:     body,
	}, nil
}

// SkillID derives the canonical id from a skill directory name:
// lowercased, whitespace collapsed to hyphens.
func SkillID(dirName string) string {
	id := strings.ToLower(strings.TrimSpace(dirName))
	return strings.Join(strings.Fields(id), "-")
}
