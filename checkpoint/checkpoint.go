package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/maastricht-university/pase-pipeline/clients"
	"github.com/maastricht-university/pase-pipeline/layers"
)

const Ext = ".ckpt"

var ErrNoCheckpoint = errors.New("no checkpoint found")

var log = logrus.WithField("component", "checkpoint")

// Module is a named trainable network in model order.
type Module struct {
	Name string
	MLP  *layers.MLP
}

type Entry struct {
	Module  string `json:"module"`
	Network string `json:"network"`
}

// Checkpoint is an ordered list of serialized networks.
type Checkpoint struct {
	Model   string  `json:"model"`
	Entries []Entry `json:"entries"`
}

// Save writes modules, in order, as a checkpoint document.
func Save(w io.Writer, model string, modules []Module) error {
	ck := Checkpoint{Model: model}
	for _, m := range modules {
		s, err := m.MLP.Marshal(m.Name)
		if err != nil {
			return fmt.Errorf("serialize %s: %w", m.Name, err)
		}
		ck.Entries = append(ck.Entries, Entry{Module: m.Name, Network: s})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(ck)
}

func Decode(b []byte) (*Checkpoint, error) {
	var ck Checkpoint
	if err := json.Unmarshal(b, &ck); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &ck, nil
}

// Apply loads every entry whose module exists in modules. With loadLast
// false the final entry, the output layer of the last module, is skipped.
// Entries for unknown modules are ignored. Returns the names applied.
func Apply(ck *Checkpoint, modules []Module, loadLast bool) ([]string, error) {
	byName := make(map[string]*layers.MLP, len(modules))
	for _, m := range modules {
		byName[m.Name] = m.MLP
	}

	entries := ck.Entries
	if !loadLast && len(entries) > 0 {
		entries = entries[:len(entries)-1]
	}

	var applied []string
	for _, e := range entries {
		mlp, ok := byName[e.Module]
		if !ok {
			log.WithField("module", e.Module).Debug("skipping checkpoint entry with no matching module")
			continue
		}
		if err := mlp.Unmarshal(e.Module, e.Network); err != nil {
			return applied, err
		}
		applied = append(applied, e.Module)
	}
	return applied, nil
}

// Loader resolves a checkpoint path. Paths may be local files or
// directories, s3://bucket/key or http(s):// URLs. For a directory or an
// s3 prefix ending in "/" the lexicographically last *.ckpt is used.
type Loader struct {
	HTTP *clients.HTTP
	// S3 is created on first use of an s3:// path.
	S3 func(ctx context.Context) (*clients.S3, error)
}

func (l *Loader) Load(ctx context.Context, path string) (*Checkpoint, error) {
	b, from, err := l.read(ctx, path)
	if err != nil {
		return nil, err
	}
	ck, err := Decode(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", from, err)
	}
	log.WithFields(logrus.Fields{"source": from, "entries": len(ck.Entries)}).Info("checkpoint loaded")
	return ck, nil
}

func (l *Loader) read(ctx context.Context, path string) ([]byte, string, error) {
	switch {
	case strings.HasPrefix(path, "s3://"):
		return l.readS3(ctx, path)
	case strings.HasPrefix(path, "http://"), strings.HasPrefix(path, "https://"):
		h := l.HTTP
		if h == nil {
			h = clients.NewHTTP()
		}
		b, err := h.Fetch(ctx, path)
		return b, path, err
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, path, err
	}
	if fi.IsDir() {
		matches, err := filepath.Glob(filepath.Join(path, "*"+Ext))
		if err != nil {
			return nil, path, err
		}
		if len(matches) == 0 {
			return nil, path, fmt.Errorf("%s: %w", path, ErrNoCheckpoint)
		}
		sort.Strings(matches)
		path = matches[len(matches)-1]
	}
	b, err := os.ReadFile(path)
	return b, path, err
}

func (l *Loader) readS3(ctx context.Context, path string) ([]byte, string, error) {
	if l.S3 == nil {
		return nil, path, fmt.Errorf("%s: no s3 client configured", path)
	}
	c, err := l.S3(ctx)
	if err != nil {
		return nil, path, err
	}
	bucket, key, err := clients.ParseS3Path(path)
	if err != nil {
		return nil, path, err
	}
	if key == "" || strings.HasSuffix(key, "/") {
		keys, err := c.List(ctx, bucket, key)
		if err != nil {
			return nil, path, err
		}
		var ckpts []string
		for _, k := range keys {
			if strings.HasSuffix(k, Ext) {
				ckpts = append(ckpts, k)
			}
		}
		if len(ckpts) == 0 {
			return nil, path, fmt.Errorf("%s: %w", path, ErrNoCheckpoint)
		}
		sort.Strings(ckpts)
		key = ckpts[len(ckpts)-1]
	}
	from := fmt.Sprintf("s3://%s/%s", bucket, key)
	b, err := c.Download(ctx, bucket, key)
	return b, from, err
}
