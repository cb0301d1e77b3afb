// Package settings holds the user-editable assistant settings: personas,
// the active model provider and the user profile. Stored values are
// merged key by key over built-in defaults, so a fresh install and a
// partially saved file both produce a complete Settings.
package settings

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

const namespace = "settings"

// DefaultPersonaID is used when the active persona is missing.
const DefaultPersonaID = "default"

// ErrUnknownSetting is returned by Update for keys Settings does not have.
var ErrUnknownSetting = errors.New("unknown setting")

// Persona is a named system prompt.
type Persona struct {
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
}

// Profile describes the user to the model.
type Profile struct {
	Name    string `json:"name"`
	AboutMe string `json:"about_me"`
}

// Settings is the complete settings document.
type Settings struct {
	ActiveProvider  string             `json:"active_provider"`
	ActivePersonaID string             `json:"active_persona_id"`
	Personas        map[string]Persona `json:"personas"`
	UserProfile     Profile            `json:"user_profile"`
	Voice           string             `json:"voice"`
	Theme           string             `json:"theme"`
}

// Defaults returns the built-in settings with provider as the active
// model provider.
func Defaults(provider string) Settings {
	return Settings{
		ActiveProvider:  provider,
		ActivePersonaID: DefaultPersonaID,
		Personas: map[string]Persona{
			"default": {
				Name:   "K",
				Prompt: "You are a helpful AI assistant. You can answer questions and also control the user's computer system.",
			},
			"coder": {
				Name:   "Strict Coder",
				Prompt: "You are an expert software engineer. Provide concise, correct, and efficient code. Prioritize best practices and avoid unnecessary chatter.",
			},
			"teacher": {
				Name:   "Teacher",
				Prompt: "You are a patient and knowledgeable teacher. Explain complex topics in simple terms, using analogies where appropriate. Encourage the user to ask questions.",
			},
		},
		UserProfile: Profile{Name: "User"},
		Voice:       "default",
		Theme:       "dark",
	}
}

// ActivePersona returns the selected persona, falling back to the
// default persona and then to any persona at all.
func (s Settings) ActivePersona() Persona {
	if p, ok := s.Personas[s.ActivePersonaID]; ok {
		return p
	}
	if p, ok := s.Personas[DefaultPersonaID]; ok {
		return p
	}
	ids := make([]string, 0, len(s.Personas))
	for id := range s.Personas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) > 0 {
		return s.Personas[ids[0]]
	}
	return Persona{}
}

// apply decodes one stored key over s. Object-valued keys replace the
// default wholesale rather than merging field by field.
func (s *Settings) apply(key string, raw []byte) error {
	var target any
	switch key {
	case "active_provider":
		target = &s.ActiveProvider
	case "active_persona_id":
		target = &s.ActivePersonaID
	case "personas":
		s.Personas = nil
		target = &s.Personas
	case "user_profile":
		s.UserProfile = Profile{}
		target = &s.UserProfile
	case "voice":
		target = &s.Voice
	case "theme":
		target = &s.Theme
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSetting, key)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	return nil
}

// Store persists settings in the shared database.
type Store struct {
	kv              *kv
	defaultProvider string
	logger          *slog.Logger
}

// NewStore creates a settings store. defaultProvider seeds
// active_provider until the user picks one.
func NewStore(db *sql.DB, defaultProvider string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	kv, err := newKV(db)
	if err != nil {
		return nil, err
	}
	return &Store{kv: kv, defaultProvider: defaultProvider, logger: logger}, nil
}

// Load returns the defaults with every stored key applied. A stored value
// that no longer decodes is logged and skipped.
func (st *Store) Load() (Settings, error) {
	s := Defaults(st.defaultProvider)
	stored, err := st.kv.list(namespace)
	if err != nil {
		return s, err
	}
	keys := make([]string, 0, len(stored))
	for k := range stored {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := s.apply(k, []byte(stored[k])); err != nil {
			st.logger.Warn("ignoring stored setting", "key", k, "error", err)
		}
	}
	return s, nil
}

// Update merges patch over the current settings and persists the changed
// keys. Nothing is written if any key is unknown or fails to decode.
func (st *Store) Update(patch map[string]json.RawMessage) (Settings, error) {
	current, err := st.Load()
	if err != nil {
		return current, err
	}

	values := make(map[string]string, len(patch))
	for key, raw := range patch {
		if err := current.apply(key, raw); err != nil {
			return Settings{}, err
		}
		values[key] = string(raw)
	}
	if len(values) == 0 {
		return current, nil
	}
	if err := st.kv.setAll(namespace, values); err != nil {
		return Settings{}, err
	}

	st.logger.Info("settings updated", "keys", len(values))
	return current, nil
}

// Save persists every field of s.
func (st *Store) Save(s Settings) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	var patch map[string]json.RawMessage
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	_, err = st.Update(patch)
	return err
}

// Reset discards every stored value so Load returns the defaults.
func (st *Store) Reset() error {
	return st.kv.deleteNamespace(namespace)
}

// ProviderName returns the stored active provider.
func (st *Store) ProviderName() string {
	raw, err := st.kv.get(namespace, "active_provider")
	if err != nil || raw == "" {
		return st.defaultProvider
	}
	var name string
	if json.Unmarshal([]byte(raw), &name) != nil || name == "" {
		return st.defaultProvider
	}
	return name
}
