package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Variant string

const (
	VariantPase      Variant = "pase"
	VariantAttention Variant = "attention"
	VariantChunking  Variant = "chunking"
)

// Minion describes one worker: its task name plus task specific parameters
// (hidden_size, num_outputs, ...).
type Minion struct {
	Name   string         `yaml:"name" mapstructure:"name"`
	Params map[string]any `yaml:",inline" mapstructure:",remain"`
}

// Int returns the integer parameter key, or def when absent.
func (m Minion) Int(key string, def int) (int, error) {
	v, ok := m.Params[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("minion %s: %s must be an integer, got %v", m.Name, key, n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("minion %s: %s must be an integer, got %T", m.Name, key, v)
	}
}

// Frontend selects and parameterises the encoder. Presence of the aspp or
// aspp_res key selects the dilated pyramid encoders; otherwise the framed
// waveform encoder is built from the remaining keys.
type Frontend struct {
	ASPP      any    `yaml:"aspp" mapstructure:"aspp"`
	ASPPRes   any    `yaml:"aspp_res" mapstructure:"aspp_res"`
	SincOut   int    `yaml:"sinc_out" mapstructure:"sinc_out"`
	HiddenDim int    `yaml:"hidden_dim" mapstructure:"hidden_dim"`
	FrameSize int    `yaml:"frame_size" mapstructure:"frame_size"`
	Hop       int    `yaml:"hop" mapstructure:"hop"`
	EmbDim    int    `yaml:"emb_dim" mapstructure:"emb_dim"`
	Hidden    []int  `yaml:"hidden" mapstructure:"hidden"`
	Dilations []int  `yaml:"dilations" mapstructure:"dilations"`
	Activ     string `yaml:"activation" mapstructure:"activation"`
}

type Attention struct {
	HiddenSize int    `yaml:"hidden_size" mapstructure:"hidden_size"`
	TopK       int    `yaml:"topk" mapstructure:"topk"`
	Activ      string `yaml:"activation" mapstructure:"activation"`
}

type Model struct {
	Variant        Variant  `yaml:"variant" mapstructure:"variant"`
	Name           string   `yaml:"name" mapstructure:"name"`
	ClsList        []string `yaml:"cls_lst" mapstructure:"cls_lst"`
	RegrList       []string `yaml:"regr_lst" mapstructure:"regr_lst"`
	ChunkSize      int      `yaml:"chunk_size" mapstructure:"chunk_size"`
	PretrainedCkpt string   `yaml:"pretrained_ckpt" mapstructure:"pretrained_ckpt"`
	LoadLast       *bool    `yaml:"load_last" mapstructure:"load_last"`
}

type S3 struct {
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
	Region    string `yaml:"region" mapstructure:"region"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
}

type Root struct {
	Model     Model     `yaml:"model" mapstructure:"model"`
	Frontend  Frontend  `yaml:"frontend" mapstructure:"frontend"`
	Attention Attention `yaml:"att" mapstructure:"att"`
	Minions   []Minion  `yaml:"minions" mapstructure:"minions"`
	S3        S3        `yaml:"s3" mapstructure:"s3"`
	LogLvl    string    `yaml:"log_level" mapstructure:"log_level"`
	Paths     struct {
		Outputs string `yaml:"outputs" mapstructure:"outputs"`
	} `yaml:"paths" mapstructure:"paths"`
}

// ShouldLoadLast reports whether the last checkpoint entry is applied.
// Defaults to true.
func (m Model) ShouldLoadLast() bool {
	return m.LoadLast == nil || *m.LoadLast
}

// Parse decodes a YAML document.
func Parse(r io.Reader) (*Root, error) {
	doc, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Root
	if err := yaml.Unmarshal(doc, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Frontend.markPresent(doc); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Load reads the config at path. With an empty path it guesses
// config/<CONFIG_ENV>/config.yaml and src/shared/config.yaml. Environment
// variables prefixed with PASE_ override file values (PASE_MODEL_VARIANT,
// PASE_S3_SECRET_KEY, ...).
func Load(path string) (*Root, error) {
	v := viper.New()
	v.SetEnvPrefix("pase")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{
		"model.variant", "model.name", "model.chunk_size", "model.pretrained_ckpt",
		"s3.endpoint", "s3.region", "s3.access_key", "s3.secret_key",
		"log_level", "paths.outputs",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Join("config", env))
		v.AddConfigPath(filepath.Join("src", "shared"))
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Root
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", v.ConfigFileUsed(), err)
	}
	// viper drops keys holding an empty map or null, so encoder selection
	// reads key presence from the file itself.
	doc, err := os.ReadFile(v.ConfigFileUsed())
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := cfg.Frontend.markPresent(doc); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// markPresent sets ASPP and ASPPRes to a non-nil value when the document
// names the key, whatever its value.
func (f *Frontend) markPresent(doc []byte) error {
	var raw struct {
		Frontend map[string]any `yaml:"frontend"`
	}
	if err := yaml.Unmarshal(doc, &raw); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	if _, ok := raw.Frontend["aspp"]; ok && f.ASPP == nil {
		f.ASPP = map[string]any{}
	}
	if _, ok := raw.Frontend["aspp_res"]; ok && f.ASPPRes == nil {
		f.ASPPRes = map[string]any{}
	}
	return nil
}

func (c *Root) applyDefaults() {
	if c.Model.Variant == "" {
		c.Model.Variant = VariantPase
	}
	if c.Model.Name == "" {
		c.Model.Name = "adversarial"
	}
	if c.Paths.Outputs == "" {
		c.Paths.Outputs = "outputs"
	}
	if c.LogLvl == "" {
		c.LogLvl = "info"
	}
}
