package orchestrator

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/maastricht-university/pase-pipeline/checkpoint"
)

// Summary describes a model and the shapes produced by its last forward pass.
type Summary struct {
	RunID       string          `json:"run_id"`
	SessionID   string          `json:"session_id,omitempty"`
	Model       string          `json:"model"`
	Variant     string          `json:"variant"`
	GeneratedAt time.Time       `json:"generated_at"`
	EmbDim      int             `json:"emb_dim"`
	Workers     []WorkerSummary `json:"workers"`
}

type WorkerSummary struct {
	Name       string `json:"name"`
	Group      string `json:"group"`
	Kind       string `json:"kind"`
	Attention  bool   `json:"attention,omitempty"`
	Prediction []int  `json:"prediction_shape,omitempty"`
	Label      []int  `json:"label_shape,omitempty"`
	Mask       []int  `json:"mask_channels,omitempty"`
}

// Summarize describes m. out may be nil when no forward pass ran.
func Summarize(m Model, out *Output) Summary {
	s := Summary{
		RunID:       uuid.NewString(),
		Model:       m.Name(),
		Variant:     string(m.Variant()),
		GeneratedAt: time.Now(),
		EmbDim:      m.Encoder().EmbDim(),
	}

	var masks map[string][]int
	if c, ok := m.(*Chunking); ok {
		masks = map[string][]int{}
		for name, sel := range c.Masks() {
			var idx []int
			for i, v := range sel.Data() {
				if v != 0 {
					idx = append(idx, i)
				}
			}
			masks[name] = idx
		}
	}

	for _, w := range m.Workers() {
		ws := WorkerSummary{
			Name:      w.Name,
			Group:     w.Group.String(),
			Kind:      w.Kind.String(),
			Attention: w.Attention,
			Mask:      masks[w.Name],
		}
		if out != nil {
			if p, ok := out.Predictions[w.Name]; ok {
				ws.Prediction = p.Shape()
			}
			if l, ok := out.Labels[w.Name]; ok {
				ws.Label = l.Shape()
			}
		}
		s.Workers = append(s.Workers, ws)
	}
	return s
}

func mkSessionDir(outputsRoot string) (string, string, error) {
	ts := time.Now().Format("20060102-150405")
	sid := "session_" + ts
	dir := filepath.Join(outputsRoot, sid)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", err
	}
	return sid, dir, nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Persist writes summary.json and, when withWeights is set, a checkpoint of
// m into a fresh session directory under outputsRoot. It returns the
// session directory.
func Persist(outputsRoot string, m Model, s Summary, withWeights bool) (string, error) {
	sid, dir, err := mkSessionDir(outputsRoot)
	if err != nil {
		return "", err
	}
	s.SessionID = sid
	if err := writeJSON(filepath.Join(dir, "summary.json"), s); err != nil {
		return "", err
	}
	if !withWeights {
		return dir, nil
	}

	f, err := os.Create(filepath.Join(dir, m.Name()+checkpoint.Ext))
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := checkpoint.Save(f, m.Name(), m.Modules()); err != nil {
		return "", err
	}
	return dir, nil
}
