// Package profiles holds the executor profile document: per executor, an
// ordered set of variant presets plus the recently used models.
//
// Documents are values. Every method returns a new Document and never
// mutates the receiver, so a Document handed out by a Session can be read
// without locking.
package profiles

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kandev/kanrun/internal/executor/models"
)

// RecentModelsKey is the reserved profile key holding recency data. It is
// never a variant name.
const RecentModelsKey = "recently_used_models"

// RecentModels is the MRU list of model keys (most recent last) and the
// reasoning last chosen for each model.
type RecentModels struct {
	Models           []string          `json:"models"`
	ReasoningByModel map[string]string `json:"reasoning_by_model"`
}

// Clone returns a deep copy.
func (r RecentModels) Clone() RecentModels {
	out := RecentModels{
		Models:           append([]string(nil), r.Models...),
		ReasoningByModel: make(map[string]string, len(r.ReasoningByModel)),
	}
	for k, v := range r.ReasoningByModel {
		out.ReasoningByModel[k] = v
	}
	return out
}

// Index returns the position of key in Models, matched case-insensitively, or -1.
func (r RecentModels) Index(key string) int {
	for i, m := range r.Models {
		if strings.EqualFold(m, key) {
			return i
		}
	}
	return -1
}

// Reasoning returns the reasoning remembered for key, matched case-insensitively.
func (r RecentModels) Reasoning(key string) (string, bool) {
	if v, ok := r.ReasoningByModel[key]; ok {
		return v, true
	}
	for k, v := range r.ReasoningByModel {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

type variantEntry struct {
	name   string
	preset models.ExecutorConfig
}

// ExecutorProfile is one executor's variants, in document order, plus recency.
type ExecutorProfile struct {
	variants []variantEntry
	recent   *RecentModels
}

// Variants returns variant names in document order.
func (p ExecutorProfile) Variants() []string {
	out := make([]string, 0, len(p.variants))
	for _, v := range p.variants {
		out = append(out, v.name)
	}
	return out
}

// Preset returns the stored preset for a variant. Lookup is exact.
func (p ExecutorProfile) Preset(variant string) (models.ExecutorConfig, bool) {
	for _, v := range p.variants {
		if v.name == variant {
			return v.preset.Clone(), true
		}
	}
	return models.ExecutorConfig{}, false
}

// WithPreset returns a copy with the variant added or replaced in place.
func (p ExecutorProfile) WithPreset(variant string, preset models.ExecutorConfig) ExecutorProfile {
	out := p.Clone()
	for i, v := range out.variants {
		if v.name == variant {
			out.variants[i].preset = preset.Clone()
			return out
		}
	}
	out.variants = append(out.variants, variantEntry{name: variant, preset: preset.Clone()})
	return out
}

// WithoutPreset returns a copy with the variant removed.
func (p ExecutorProfile) WithoutPreset(variant string) ExecutorProfile {
	out := ExecutorProfile{recent: p.recentClone()}
	for _, v := range p.variants {
		if v.name != variant {
			out.variants = append(out.variants, variantEntry{name: v.name, preset: v.preset.Clone()})
		}
	}
	return out
}

// RecentModels returns the recency data; the zero value when none is stored.
func (p ExecutorProfile) RecentModels() RecentModels {
	if p.recent == nil {
		return RecentModels{ReasoningByModel: map[string]string{}}
	}
	return p.recent.Clone()
}

// HasRecentModels reports whether recency data is stored.
func (p ExecutorProfile) HasRecentModels() bool { return p.recent != nil }

// WithRecentModels returns a copy carrying r.
func (p ExecutorProfile) WithRecentModels(r RecentModels) ExecutorProfile {
	out := p.Clone()
	rc := r.Clone()
	out.recent = &rc
	return out
}

// Clone returns a deep copy.
func (p ExecutorProfile) Clone() ExecutorProfile {
	out := ExecutorProfile{recent: p.recentClone()}
	if len(p.variants) > 0 {
		out.variants = make([]variantEntry, len(p.variants))
		for i, v := range p.variants {
			out.variants[i] = variantEntry{name: v.name, preset: v.preset.Clone()}
		}
	}
	return out
}

func (p ExecutorProfile) recentClone() *RecentModels {
	if p.recent == nil {
		return nil
	}
	rc := p.recent.Clone()
	return &rc
}

// MarshalJSON writes variants in order followed by recently_used_models.
func (p ExecutorProfile) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, v := range p.variants {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeMember(&buf, v.name, v.preset); err != nil {
			return nil, err
		}
	}
	if p.recent != nil {
		if len(p.variants) > 0 {
			buf.WriteByte(',')
		}
		recent := p.recent.Clone()
		if recent.Models == nil {
			recent.Models = []string{}
		}
		if err := writeMember(&buf, RecentModelsKey, recent); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON keeps variant order and routes the reserved key to recency.
func (p *ExecutorProfile) UnmarshalJSON(data []byte) error {
	var out ExecutorProfile
	err := decodeOrderedObject(data, func(key string, raw json.RawMessage) error {
		if key == RecentModelsKey {
			var r RecentModels
			if err := json.Unmarshal(raw, &r); err != nil {
				return fmt.Errorf("%s: %w", RecentModelsKey, err)
			}
			if r.ReasoningByModel == nil {
				r.ReasoningByModel = map[string]string{}
			}
			out.recent = &r
			return nil
		}
		var preset models.ExecutorConfig
		if err := json.Unmarshal(raw, &preset); err != nil {
			return fmt.Errorf("variant %s: %w", key, err)
		}
		out = out.WithPreset(key, preset)
		return nil
	})
	if err != nil {
		return err
	}
	*p = out
	return nil
}

type executorEntry struct {
	id      models.AgentID
	profile ExecutorProfile
}

// Document maps executors, in order, to their profiles.
type Document struct {
	executors []executorEntry
}

// Executors returns executor ids in document order.
func (d Document) Executors() []models.AgentID {
	out := make([]models.AgentID, 0, len(d.executors))
	for _, e := range d.executors {
		out = append(out, e.id)
	}
	return out
}

// Profile returns the profile for an executor.
func (d Document) Profile(executor models.AgentID) (ExecutorProfile, bool) {
	for _, e := range d.executors {
		if e.id == executor {
			return e.profile.Clone(), true
		}
	}
	return ExecutorProfile{}, false
}

// Variants returns the executor's variant names in order; nil if unknown.
func (d Document) Variants(executor models.AgentID) []string {
	p, ok := d.Profile(executor)
	if !ok {
		return nil
	}
	return p.Variants()
}

// Preset returns the preset stored under key with executor and variant filled in.
func (d Document) Preset(key models.ProfileKey) (models.ExecutorConfig, bool) {
	p, ok := d.Profile(key.Executor)
	if !ok {
		return models.ExecutorConfig{}, false
	}
	preset, ok := p.Preset(key.Variant)
	if !ok {
		return models.ExecutorConfig{}, false
	}
	preset.Executor = key.Executor
	preset.Variant = models.StringPtr(key.Variant)
	return preset, true
}

// PresetOptions implements the resolver catalog.
func (d Document) PresetOptions(key models.ProfileKey) (models.ExecutorConfig, bool) {
	return d.Preset(key)
}

// WithProfile returns a copy with the executor's profile replaced, or
// appended when the executor is new.
func (d Document) WithProfile(executor models.AgentID, profile ExecutorProfile) Document {
	out := d.Clone()
	for i, e := range out.executors {
		if e.id == executor {
			out.executors[i].profile = profile.Clone()
			return out
		}
	}
	out.executors = append(out.executors, executorEntry{id: executor, profile: profile.Clone()})
	return out
}

// Clone returns a deep copy.
func (d Document) Clone() Document {
	out := Document{}
	if len(d.executors) > 0 {
		out.executors = make([]executorEntry, len(d.executors))
		for i, e := range d.executors {
			out.executors[i] = executorEntry{id: e.id, profile: e.profile.Clone()}
		}
	}
	return out
}

// Merge layers overlay onto base. Overlay variants replace base variants of
// the same name and new ones are appended; overlay recency replaces base
// recency. Executors only in overlay are appended in overlay order.
func Merge(base, overlay Document) Document {
	out := base.Clone()
	for _, e := range overlay.executors {
		merged, ok := out.Profile(e.id)
		if !ok {
			out = out.WithProfile(e.id, e.profile)
			continue
		}
		for _, v := range e.profile.variants {
			merged = merged.WithPreset(v.name, v.preset)
		}
		if e.profile.recent != nil {
			merged = merged.WithRecentModels(*e.profile.recent)
		}
		out = out.WithProfile(e.id, merged)
	}
	return out
}

// MarshalJSON writes executors in document order.
func (d Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range d.executors {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeMember(&buf, string(e.id), e.profile); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON keeps executor order. Executor keys are normalized but not
// validated so documents written by newer versions survive a round trip.
func (d *Document) UnmarshalJSON(data []byte) error {
	var out Document
	err := decodeOrderedObject(data, func(key string, raw json.RawMessage) error {
		var p ExecutorProfile
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("executor %s: %w", key, err)
		}
		out = out.WithProfile(models.NormalizeAgentID(key), p)
		return nil
	})
	if err != nil {
		return err
	}
	*d = out
	return nil
}

func writeMember(buf *bytes.Buffer, key string, value interface{}) error {
	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	v, err := json.Marshal(value)
	if err != nil {
		return err
	}
	buf.Write(k)
	buf.WriteByte(':')
	buf.Write(v)
	return nil
}

// decodeOrderedObject calls fn for each member of a JSON object in source
// order. A JSON null is treated as an empty object.
func decodeOrderedObject(data []byte, fn func(key string, raw json.RawMessage) error) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("expected JSON object, got %v", tok)
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("expected object key, got %v", keyTok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if err := fn(key, raw); err != nil {
			return err
		}
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
