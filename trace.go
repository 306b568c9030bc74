package observable

import "encoding/json"

// Trace captures what each data layer contributed at a path.
type Trace struct {
	Path   string       `json:"path"`
	Value  any          `json:"value,omitempty"`
	Found  bool         `json:"found"`
	Layers []Provenance `json:"layers"`
}

// Provenance details one layer's value at a traced path.
type Provenance struct {
	Layer      string `json:"layer"`
	Label      string `json:"label,omitempty"`
	Priority   int    `json:"priority"`
	SnapshotID string `json:"snapshot_id,omitempty"`
	Value      any    `json:"value,omitempty"`
	Found      bool   `json:"found"`
}

// Winner returns the strongest layer that sets the path.
func (t Trace) Winner() (Provenance, bool) {
	for _, p := range t.Layers {
		if p.Found {
			return p, true
		}
	}
	return Provenance{}, false
}

// ToJSON serialises the trace for logging or transport.
func (t Trace) ToJSON() ([]byte, error) {
	type alias Trace
	return json.Marshal(alias(t))
}

// TraceFromJSON decodes a payload produced by ToJSON.
func TraceFromJSON(payload []byte) (Trace, error) {
	type alias Trace
	var trace alias
	if err := json.Unmarshal(payload, &trace); err != nil {
		return Trace{}, err
	}
	return Trace(trace), nil
}
