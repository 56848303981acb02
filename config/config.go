package config

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/script-bridge/errors"
)

// validate is shared; validator instances cache struct metadata.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Libraries lists the script standard libraries that can be opened.
var Libraries = []string{"base", "table", "string", "math", "coroutine", "os", "io", "debug", "package", "channel"}

// Config is the bridge configuration.
type Config struct {
	Handles   Handles   `yaml:"handles" json:"handles"`
	Async     Async     `yaml:"async" json:"async"`
	Callbacks Callbacks `yaml:"callbacks" json:"callbacks"`
	Script    Script    `yaml:"script" json:"script"`
	FastPath  FastPath  `yaml:"fastpath" json:"fastpath"`
	Log       Log       `yaml:"log" json:"log"`
}

// Handles configures the handle table.
type Handles struct {
	// Max bounds the handle ids issued over the table's life. Zero means
	// the full int32 range.
	Max int32 `yaml:"max" json:"max,omitempty" validate:"gte=0" jsonschema:"minimum=0"`
}

// Async configures the completion bridge.
type Async struct {
	// HighWater is the queue length that logs a growth warning. Zero
	// disables the warning.
	HighWater int `yaml:"high_water" json:"high_water" validate:"gte=0" jsonschema:"minimum=0,default=1024"`
}

// Callbacks configures the script callback slot table.
type Callbacks struct {
	MaxSlots int `yaml:"max_slots" json:"max_slots" validate:"gte=1,lte=1048576" jsonschema:"minimum=1,maximum=1048576,default=4096"`
}

// Script configures the script engine.
type Script struct {
	// Libraries opened in each state. os, io, debug and package give
	// scripts access outside the sandbox.
	Libraries     []string `yaml:"libraries" json:"libraries" validate:"dive,oneof=base table string math coroutine os io debug package channel"`
	ChunkName     string   `yaml:"chunk_name" json:"chunk_name,omitempty"`
	CallStackSize int      `yaml:"call_stack_size" json:"call_stack_size,omitempty" validate:"gte=0" jsonschema:"minimum=0"`
	RegistrySize  int      `yaml:"registry_size" json:"registry_size,omitempty" validate:"gte=0" jsonschema:"minimum=0"`
	// Console installs console.log, console.warn, console.error and
	// console.info routed to the logger.
	Console bool `yaml:"console" json:"console"`
}

// FastPath configures fast-call bindings.
type FastPath struct {
	// MaxArity is the largest argument count scripts may pass to a binding.
	MaxArity int `yaml:"max_arity" json:"max_arity" validate:"gte=0,lte=6" jsonschema:"minimum=0,maximum=6,default=6"`
}

// Log configures logging.
type Log struct {
	Level       string `yaml:"level" json:"level" validate:"omitempty,oneof=debug info warn error" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Development bool   `yaml:"development" json:"development"`
}

// Default returns the default configuration: a sandboxed script state with
// base, table, string, math and coroutine libraries.
func Default() *Config {
	return &Config{
		Async:     Async{HighWater: 1024},
		Callbacks: Callbacks{MaxSlots: 4096},
		Script: Script{
			Libraries: []string{"base", "table", "string", "math", "coroutine"},
			ChunkName: "script",
			Console:   true,
		},
		FastPath: FastPath{MaxArity: 6},
		Log:      Log{Level: "info"},
	}
}

// Load reads a YAML configuration file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path(path).Detail("cannot read configuration").Cause(err).Build()
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !stderrors.Is(err, io.EOF) {
		return nil, errors.ParseFailed("configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return errors.New(errors.PhaseConfig, errors.KindInvalidData).
			Path(strings.Split(fe.Namespace(), ".")[1:]...).
			Detail("%s fails %q constraint (value %v)", fe.Namespace(), fe.Tag(), fe.Value()).
			Cause(err).Build()
	}
	return errors.New(errors.PhaseConfig, errors.KindInvalidData).Cause(err).Build()
}

// Marshal encodes c as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Schema returns the JSON schema of the configuration file.
func Schema() ([]byte, error) {
	r := jsonschema.Reflector{
		ExpandedStruct: true,
		FieldNameTag:   "yaml",
	}
	s := r.Reflect(&Config{})
	s.Title = "script-bridge configuration"
	out, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return out, nil
}
