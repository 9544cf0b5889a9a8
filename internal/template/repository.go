// Package template presents mission templates from a directory of YAML files
// and manufactures mission drafts from them.
package template

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/opsdeck/missiond/internal/mission"
)

const fileSuffix = ".yaml"

// Template is a read-only mission definition on disk. The slug derives from
// the file name (stem before the first dot).
type Template struct {
	Slug     string           `yaml:"-" json:"slug"`
	Name     string           `yaml:"name" json:"name"`
	Schedule mission.Schedule `yaml:"schedule" json:"schedule"`
	Priority int              `yaml:"priority" json:"priority"`
	Tags     []string         `yaml:"tags" json:"tags,omitempty"`
	Enable   *bool            `yaml:"enable" json:"enable,omitempty"`
	Payload  map[string]any   `yaml:"payload" json:"payload,omitempty"`
}

// IsEnabled returns whether missions created from the template start enabled.
// Defaults to true when unset.
func (t *Template) IsEnabled() bool {
	if t.Enable == nil {
		return true
	}
	return *t.Enable
}

// Repository reads and writes mission templates in a single directory.
type Repository struct {
	dir string
	log *zap.SugaredLogger
}

// NewRepository creates a Repository over dir. The directory does not have to
// exist yet; Save creates it on demand.
func NewRepository(dir string, log *zap.SugaredLogger) *Repository {
	return &Repository{dir: dir, log: log}
}

// Dir returns the templates directory.
func (r *Repository) Dir() string {
	return r.dir
}

func (r *Repository) path(slug string) string {
	return filepath.Join(r.dir, slug+fileSuffix)
}

func parseTemplate(slug string, data []byte) (*Template, error) {
	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, errors.Wrapf(err, "parsing template %q", slug)
	}
	t.Slug = slug
	t.Tags = mission.NormalizeTags(t.Tags)
	if err := t.Schedule.Normalize(); err != nil {
		return nil, errors.Wrapf(err, "template %q", slug)
	}
	return &t, nil
}

// List enumerates all templates in the directory, sorted by slug. A missing
// directory yields an empty list with a warning. Any single unparseable or
// schedule-invalid template fails the whole listing.
func (r *Repository) List() ([]*Template, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			r.log.Warnw("templates directory missing", "dir", r.dir)
			return nil, nil
		}
		return nil, errors.Wrapf(err, "reading templates dir %s", r.dir)
	}

	var templates []*Template
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileSuffix) {
			continue
		}
		slug := slugFromFileName(entry.Name())
		data, err := os.ReadFile(filepath.Join(r.dir, entry.Name()))
		if err != nil {
			return nil, errors.Wrapf(err, "reading template %s", entry.Name())
		}
		t, err := parseTemplate(slug, data)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}

	sort.Slice(templates, func(i, j int) bool { return templates[i].Slug < templates[j].Slug })
	return templates, nil
}

// Get returns one template by slug, or nil when the slug is unknown.
func (r *Repository) Get(slug string) (*Template, error) {
	if slug == "" {
		return nil, errors.New("template slug is required")
	}
	data, err := os.ReadFile(r.path(slug))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "reading template %q", slug)
	}
	return parseTemplate(slug, data)
}

// DraftFromTemplate merges overrides into the named template and returns a
// normalized mission draft. Unknown slugs raise ErrTemplateNotFound.
func (r *Repository) DraftFromTemplate(slug string, overrides map[string]any) (*mission.Draft, error) {
	if slug == "" {
		return nil, errors.New("template slug is required")
	}
	t, err := r.Get(slug)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errors.Wrapf(mission.ErrTemplateNotFound, "%q", slug)
	}

	draft := &mission.Draft{
		Slug:     t.Slug,
		Name:     t.Name,
		Schedule: t.Schedule,
		Priority: t.Priority,
		Enable:   t.IsEnabled(),
		Tags:     append([]string(nil), t.Tags...),
		Payload:  t.Payload,
	}

	if err := applyOverrides(draft, overrides); err != nil {
		return nil, err
	}
	if err := draft.Schedule.Normalize(); err != nil {
		return nil, err
	}
	draft.Tags = mission.NormalizeTags(draft.Tags)
	return draft, nil
}

func applyOverrides(draft *mission.Draft, overrides map[string]any) error {
	if len(overrides) == 0 {
		return nil
	}

	_, hasInterval := overrides["intervalMinutes"]
	_, hasCron := overrides["cron"]
	if hasInterval && hasCron {
		return errors.Wrap(mission.ErrInvalidSchedule, "overrides set both intervalMinutes and cron")
	}

	for key, value := range overrides {
		switch key {
		case "name":
			s, err := coerceString(key, value)
			if err != nil {
				return err
			}
			draft.Name = s
		case "priority":
			n, err := coerceInt(key, value)
			if err != nil {
				return err
			}
			draft.Priority = n
		case "enable":
			b, err := coerceBool(key, value)
			if err != nil {
				return err
			}
			draft.Enable = b
		case "tags":
			tags, err := coerceTags(value)
			if err != nil {
				return err
			}
			draft.Tags = tags
		case "intervalMinutes":
			n, err := coerceInt(key, value)
			if err != nil {
				return err
			}
			draft.Schedule = mission.Schedule{IntervalMinutes: n}
		case "cron":
			s, err := coerceString(key, value)
			if err != nil {
				return err
			}
			draft.Schedule = mission.Schedule{Cron: s, Timezone: draft.Schedule.Timezone}
		case "timezone":
			s, err := coerceString(key, value)
			if err != nil {
				return err
			}
			draft.Schedule.Timezone = s
		case "payload":
			p, err := coercePayload(value)
			if err != nil {
				return err
			}
			draft.Payload = p
		default:
			return errors.Newf("unknown override %q", key)
		}
	}
	return nil
}

func coerceString(key string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", errors.Newf("override %q: expected string, got %T", key, v)
	}
	return s, nil
}

func coerceInt(key string, v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, errors.Newf("override %q: %q is not an integer", key, n)
		}
		return parsed, nil
	default:
		return 0, errors.Newf("override %q: expected integer, got %T", key, v)
	}
}

func coerceBool(key string, v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return false, errors.Newf("override %q: %q is not a boolean", key, b)
		}
		return parsed, nil
	default:
		return false, errors.Newf("override %q: expected boolean, got %T", key, v)
	}
}

func coerceTags(v any) ([]string, error) {
	switch tags := v.(type) {
	case string:
		return mission.NormalizeTags(strings.Split(tags, ",")), nil
	case []string:
		return mission.NormalizeTags(tags), nil
	case []any:
		out := make([]string, 0, len(tags))
		for _, item := range tags {
			s, ok := item.(string)
			if !ok {
				return nil, errors.Newf("override \"tags\": expected strings, got %T", item)
			}
			out = append(out, s)
		}
		return mission.NormalizeTags(out), nil
	default:
		return nil, errors.Newf("override \"tags\": expected string or list, got %T", v)
	}
}

func coercePayload(v any) (map[string]any, error) {
	switch p := v.(type) {
	case map[string]any:
		return p, nil
	case string:
		var parsed map[string]any
		if err := json.Unmarshal([]byte(p), &parsed); err != nil {
			return nil, errors.Wrapf(mission.ErrPayloadParse, "%v", err)
		}
		return parsed, nil
	default:
		return nil, errors.Newf("override \"payload\": expected object or JSON string, got %T", v)
	}
}

// Save writes a new or existing template to disk and returns the stored
// template. The slug derives from the name when absent.
func (r *Repository) Save(t *Template) (*Template, error) {
	if t.Slug == "" {
		t.Slug = Slugify(t.Name)
	}
	if t.Slug == "" {
		return nil, errors.New("template needs a name or slug")
	}
	if err := t.Schedule.Normalize(); err != nil {
		return nil, err
	}
	t.Tags = mission.NormalizeTags(t.Tags)

	data, err := yaml.Marshal(t)
	if err != nil {
		return nil, errors.Wrapf(err, "marshaling template %q", t.Slug)
	}
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating templates dir %s", r.dir)
	}
	if err := os.WriteFile(r.path(t.Slug), data, 0644); err != nil {
		return nil, errors.Wrapf(err, "writing template %q", t.Slug)
	}
	return t, nil
}

// Delete removes the template file for slug.
func (r *Repository) Delete(slug string) error {
	if slug == "" {
		return errors.New("template slug is required")
	}
	if err := os.Remove(r.path(slug)); err != nil {
		if os.IsNotExist(err) {
			return errors.Wrapf(mission.ErrTemplateNotFound, "%q", slug)
		}
		return errors.Wrapf(err, "deleting template %q", slug)
	}
	return nil
}

// Slugify lowercases and hyphenates a display name into a file-safe slug.
func Slugify(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, ch := range strings.ToLower(strings.TrimSpace(name)) {
		isAlnum := (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9')
		if isAlnum {
			b.WriteRune(ch)
			lastHyphen = false
			continue
		}
		if !lastHyphen {
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

func slugFromFileName(name string) string {
	if i := strings.Index(name, "."); i >= 0 {
		return name[:i]
	}
	return name
}
