// Package content reads the per-house content tree (house.yaml, texts/,
// guides/, activities.yaml, photos/) and applies admin edits to it.
package content

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"

	"house-concierge-bot/internal/models"
)

// EmptyPlaceholder is returned for content files that do not exist yet.
const EmptyPlaceholder = "Пока пусто."

// Repository is a read-only view of the content tree. House metadata and raw
// markdown reads are memoized for the process lifetime; the Editor
// invalidates entries it overwrites.
type Repository struct {
	base string

	mu     sync.RWMutex
	houses map[string]*models.House
	texts  map[string]string
}

func NewRepository(base string) *Repository {
	return &Repository{
		base:   base,
		houses: make(map[string]*models.House),
		texts:  make(map[string]string),
	}
}

func (r *Repository) houseDir(houseID string) string {
	return filepath.Join(r.base, houseID)
}

// LoadHouse reads house.yaml for the namespace. Returns nil when the house
// has no metadata file.
func (r *Repository) LoadHouse(houseID string) *models.House {
	r.mu.RLock()
	if h, ok := r.houses[houseID]; ok {
		r.mu.RUnlock()
		return h
	}
	r.mu.RUnlock()

	b, err := os.ReadFile(filepath.Join(r.houseDir(houseID), "house.yaml"))
	if err != nil {
		return nil
	}
	h := &models.House{ID: houseID, Name: houseID}
	if err := yaml.Unmarshal(b, h); err != nil {
		return nil
	}
	if h.Name == "" {
		h.Name = houseID
	}

	r.mu.Lock()
	r.houses[houseID] = h
	r.mu.Unlock()
	return h
}

// ReadText returns the markdown body at the relative path, or a placeholder
// when the file is absent. Missing files are never an error.
func (r *Repository) ReadText(houseID, rel string) string {
	key := houseID + "/" + rel

	r.mu.RLock()
	if s, ok := r.texts[key]; ok {
		r.mu.RUnlock()
		return s
	}
	r.mu.RUnlock()

	b, err := os.ReadFile(filepath.Join(r.houseDir(houseID), filepath.FromSlash(rel)))
	if err != nil {
		return EmptyPlaceholder
	}
	s := string(b)

	r.mu.Lock()
	r.texts[key] = s
	r.mu.Unlock()
	return s
}

// Invalidate drops the cached entries for a content path after an admin
// write, so the next read sees the new file.
func (r *Repository) Invalidate(houseID, rel string) {
	r.mu.Lock()
	delete(r.texts, houseID+"/"+rel)
	if rel == "house.yaml" {
		delete(r.houses, houseID)
	}
	r.mu.Unlock()
}

// ListGuides returns all guides sorted by filename. Titles are derived from
// the file name, underscores become spaces.
func (r *Repository) ListGuides(houseID string) []models.Guide {
	dir := filepath.Join(r.houseDir(houseID), "guides")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var res []models.Guide
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".md")
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		res = append(res, models.Guide{ID: id, Title: titleFromID(id), Content: string(b)})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// GetGuide returns the guide with the given id, or nil.
func (r *Repository) GetGuide(houseID, guideID string) *models.Guide {
	b, err := os.ReadFile(filepath.Join(r.houseDir(houseID), "guides", guideID+".md"))
	if err != nil {
		return nil
	}
	return &models.Guide{ID: guideID, Title: titleFromID(guideID), Content: string(b)}
}

// ListActivities parses activities.yaml. A missing or broken manifest yields
// an empty list.
func (r *Repository) ListActivities(houseID string) []models.Activity {
	b, err := os.ReadFile(filepath.Join(r.houseDir(houseID), "activities.yaml"))
	if err != nil {
		return nil
	}
	var res []models.Activity
	if err := yaml.Unmarshal(b, &res); err != nil {
		return nil
	}
	return res
}

// GetActivity finds an activity by id. Linear scan, the manifests are small.
func (r *Repository) GetActivity(houseID, activityID string) *models.Activity {
	for _, a := range r.ListActivities(houseID) {
		if a.ID == activityID {
			return &a
		}
	}
	return nil
}

// OfferedActivities filters the manifest down to activities on offer in the
// given month.
func (r *Repository) OfferedActivities(houseID string, month time.Month) []models.Activity {
	var res []models.Activity
	for _, a := range r.ListActivities(houseID) {
		if a.Offered(month) {
			res = append(res, a)
		}
	}
	return res
}

// RenderActivity builds the markdown detail view: title, description, an
// optional related-guide line and an optional link list. Empty sections are
// omitted.
func RenderActivity(a models.Activity) string {
	parts := []string{"*" + a.Title + "*", a.Description}
	if a.GuideID != "" {
		parts = append(parts, "Связано: "+a.GuideID)
	}
	if len(a.Links) > 0 {
		var b strings.Builder
		b.WriteString("Ссылки:")
		for _, u := range a.Links {
			b.WriteString("\n- " + u)
		}
		parts = append(parts, b.String())
	}
	var nonEmpty []string
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "\n\n")
}

func titleFromID(id string) string {
	words := strings.Split(strings.ReplaceAll(id, "_", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		rs := []rune(w)
		rs[0] = unicode.ToUpper(rs[0])
		words[i] = string(rs)
	}
	return strings.Join(words, " ")
}
