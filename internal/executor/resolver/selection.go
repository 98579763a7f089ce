package resolver

import (
	"encoding/json"

	"github.com/kandev/kanrun/internal/executor/models"
)

// Selection is the user's explicit picks during the current session.
// A set Variant (Value or Null) marks the variant as user-selected.
type Selection struct {
	Executor         Field[models.AgentID]
	Variant          Field[string]
	ModelID          Field[string]
	AgentID          Field[string]
	ReasoningID      Field[string]
	PermissionPolicy Field[models.PermissionPolicy]
}

// Overrides are per-field picks layered onto a Selection. ModelID holds a
// composite provider/model key, see models.ModelInfo.Key.
type Overrides struct {
	ModelID          Field[string]
	AgentID          Field[string]
	ReasoningID      Field[string]
	PermissionPolicy Field[models.PermissionPolicy]
}

// VariantSelected reports whether the user picked a variant this session.
func (s Selection) VariantSelected() bool { return s.Variant.IsSet() }

// IsEmpty reports whether no field is set.
func (s Selection) IsEmpty() bool {
	return !s.Executor.IsSet() && !s.Variant.IsSet() && !s.ModelID.IsSet() &&
		!s.AgentID.IsSet() && !s.ReasoningID.IsSet() && !s.PermissionPolicy.IsSet()
}

// WithExecutor discards everything but the new executor; the previous
// variant and overrides belonged to another executor's option space.
func (s Selection) WithExecutor(executor models.AgentID) Selection {
	return Selection{Executor: Value(executor)}
}

// WithVariant keeps only the executor and records the variant as
// user-selected. A nil variant selects the default.
func (s Selection) WithVariant(variant *string) Selection {
	return Selection{Executor: s.Executor, Variant: FromPtr(variant)}
}

// WithOverrides applies every set field of o. Changing the model without
// naming a reasoning option resets reasoning to the default.
func (s Selection) WithOverrides(o Overrides) Selection {
	out := s
	if o.ModelID.IsSet() {
		out.ModelID = o.ModelID
		if !o.ReasoningID.IsSet() {
			out.ReasoningID = Null[string]()
		}
	}
	if o.AgentID.IsSet() {
		out.AgentID = o.AgentID
	}
	if o.ReasoningID.IsSet() {
		out.ReasoningID = o.ReasoningID
	}
	if o.PermissionPolicy.IsSet() {
		out.PermissionPolicy = o.PermissionPolicy
	}
	return out
}

// selectionJSON keeps absent and null distinct: pointers-to-raw are nil when
// the key is missing.
type selectionJSON struct {
	Executor         *json.RawMessage `json:"executor,omitempty"`
	Variant          *json.RawMessage `json:"variant,omitempty"`
	ModelID          *json.RawMessage `json:"model_id,omitempty"`
	AgentID          *json.RawMessage `json:"agent_id,omitempty"`
	ReasoningID      *json.RawMessage `json:"reasoning_id,omitempty"`
	PermissionPolicy *json.RawMessage `json:"permission_policy,omitempty"`
}

// MarshalJSON omits Unset fields and writes null for Null.
func (s Selection) MarshalJSON() ([]byte, error) {
	var out selectionJSON
	var err error
	if out.Executor, err = encodeField(s.Executor); err != nil {
		return nil, err
	}
	if out.Variant, err = encodeField(s.Variant); err != nil {
		return nil, err
	}
	if out.ModelID, err = encodeField(s.ModelID); err != nil {
		return nil, err
	}
	if out.AgentID, err = encodeField(s.AgentID); err != nil {
		return nil, err
	}
	if out.ReasoningID, err = encodeField(s.ReasoningID); err != nil {
		return nil, err
	}
	if out.PermissionPolicy, err = encodeField(s.PermissionPolicy); err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// UnmarshalJSON maps missing keys to Unset and null to Null.
func (s *Selection) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var out Selection
	if err := decodeField(raw, "executor", &out.Executor); err != nil {
		return err
	}
	if err := decodeField(raw, "variant", &out.Variant); err != nil {
		return err
	}
	if err := decodeField(raw, "model_id", &out.ModelID); err != nil {
		return err
	}
	if err := decodeField(raw, "agent_id", &out.AgentID); err != nil {
		return err
	}
	if err := decodeField(raw, "reasoning_id", &out.ReasoningID); err != nil {
		return err
	}
	if err := decodeField(raw, "permission_policy", &out.PermissionPolicy); err != nil {
		return err
	}
	*s = out
	return nil
}

// UnmarshalJSON uses the Selection encoding; executor and variant are ignored.
func (o *Overrides) UnmarshalJSON(data []byte) error {
	var s Selection
	if err := s.UnmarshalJSON(data); err != nil {
		return err
	}
	*o = Overrides{
		ModelID:          s.ModelID,
		AgentID:          s.AgentID,
		ReasoningID:      s.ReasoningID,
		PermissionPolicy: s.PermissionPolicy,
	}
	return nil
}

func encodeField[T any](f Field[T]) (*json.RawMessage, error) {
	if !f.IsSet() {
		return nil, nil
	}
	b, err := f.MarshalJSON()
	if err != nil {
		return nil, err
	}
	raw := json.RawMessage(b)
	return &raw, nil
}

func decodeField[T any](raw map[string]json.RawMessage, key string, f *Field[T]) error {
	v, ok := raw[key]
	if !ok {
		return nil
	}
	return f.UnmarshalJSON(v)
}
