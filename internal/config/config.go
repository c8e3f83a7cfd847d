package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the top-level configuration for the mutation factory.
type Config struct {
	Target   TargetConfig   `mapstructure:"TARGET"`
	LLM      LLMConfig      `mapstructure:"LLM"`
	Log      LogConfig      `mapstructure:"LOG"`
	CSV      CSVConfig      `mapstructure:"CSV"`
	FilePath FilePathConfig `mapstructure:"FILE_PATH"`
	Workers  WorkersConfig  `mapstructure:"WORKERS"`
	Others   OthersConfig   `mapstructure:"OTHERS"`
}

// TargetConfig identifies the database engine under test. Both fields are
// interpolated into the LLM prompts.
type TargetConfig struct {
	DBMS        string `mapstructure:"DBMS"`
	DBMSVersion string `mapstructure:"DBMS_VERSION"`
}

// LLMConfig holds the credentials for the remote model.
type LLMConfig struct {
	APIKey  string `mapstructure:"API_KEY"`
	Model   string `mapstructure:"MODEL"`
	BaseURL string `mapstructure:"BASE_URL"`
}

// LogConfig holds the per-stage log file paths.
type LogConfig struct {
	MainLogPath       string `mapstructure:"MAIN_LOG_PATH"`
	ParserLogPath     string `mapstructure:"PARSER_LOG_PATH"`
	GeneratorLogPath  string `mapstructure:"GENERATOR_LOG_PATH"`
	FixerLogPath      string `mapstructure:"FIXER_LOG_PATH"`
	StructuralLogPath string `mapstructure:"STRUCTURAL_LOG_PATH"`
	LLMLogPath        string `mapstructure:"LLM_LOG_PATH"`
	Level             string `mapstructure:"LEVEL"`
}

// CSVConfig holds the per-stage telemetry file paths.
type CSVConfig struct {
	MainCSVPath       string `mapstructure:"MAIN_CSV_PATH"`
	ParserCSVPath     string `mapstructure:"PARSER_CSV_PATH"`
	GeneratorCSVPath  string `mapstructure:"GENERATOR_CSV_PATH"`
	FixerCSVPath      string `mapstructure:"FIXER_CSV_PATH"`
	StructuralCSVPath string `mapstructure:"STRUCTURAL_CSV_PATH"`
}

// FilePathConfig holds the output directories. Each must either not exist
// yet or be empty at startup; see PrepareDirectories.
type FilePathConfig struct {
	ParsedSQLPath        string `mapstructure:"PARSED_SQL_PATH"`
	GeneratedMutatorPath string `mapstructure:"GENERATED_MUTATOR_PATH"`
	StructuralMutatePath string `mapstructure:"STRUCTURAL_MUTATE_PATH"`
	MutatorFixTmpPath    string `mapstructure:"MUTATOR_FIX_TMP_PATH"`
}

// WorkersConfig holds per-stage worker counts.
type WorkersConfig struct {
	Parser     int `mapstructure:"PARSER"`
	Generator  int `mapstructure:"GENERATOR"`
	Fixer      int `mapstructure:"FIXER"`
	Structural int `mapstructure:"STRUCTURAL"`
}

// OthersConfig holds the tuning knobs.
type OthersConfig struct {
	// FixMutatorTryTime is the per-phase retry ceiling of the fixer.
	FixMutatorTryTime int `mapstructure:"FIX_MUTATOR_TRY_TIME"`

	// LLMFormatErrorMaxRetry bounds format-error retries in the parser,
	// generator, and structural stages.
	LLMFormatErrorMaxRetry int `mapstructure:"LLM_FORMAT_ERROR_MAX_RETRY"`

	// MutateBudget is the variant count returned by fuzz_count.
	MutateBudget int `mapstructure:"MUTATE_BUDGET"`

	// StructuralCadence routes every Kth selection of a seed to the
	// structural stage instead of the token pipeline.
	StructuralCadence int `mapstructure:"STRUCTURAL_CADENCE"`

	// QueueCapacity bounds all five pipeline queues.
	QueueCapacity int `mapstructure:"QUEUE_CAPACITY"`

	// PythonPath is the interpreter used for artifact checking and
	// execution.
	PythonPath string `mapstructure:"PYTHON_PATH"`
}

// envVarPattern matches environment variable placeholders: ${VAR_NAME} or $VAR_NAME
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// resolveEnvVars replaces environment variable placeholders in a string
// with their values. Unset variables are left as-is.
func resolveEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match
		if strings.HasPrefix(match, "${") && strings.HasSuffix(match, "}") {
			varName = match[2 : len(match)-1]
		} else if strings.HasPrefix(match, "$") {
			varName = match[1:]
		}

		if value, ok := os.LookupEnv(varName); ok {
			return value
		}
		return match
	})
}

// resolveInMap recursively resolves environment variables in map values.
func resolveInMap(m map[string]interface{}) {
	for k, v := range m {
		switch val := v.(type) {
		case string:
			resolved := resolveEnvVars(val)
			if resolved != val {
				m[k] = resolved
			}
		case map[string]interface{}:
			resolveInMap(val)
		case []interface{}:
			resolveInSlice(val)
		}
	}
}

// resolveInSlice resolves environment variables in slice elements.
func resolveInSlice(s []interface{}) {
	for i, v := range s {
		switch val := v.(type) {
		case string:
			s[i] = resolveEnvVars(val)
		case map[string]interface{}:
			resolveInMap(val)
		}
	}
}

// Load reads the configuration file at path, resolves environment
// variable placeholders in all string values, applies defaults and
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	settings := v.AllSettings()
	resolveInMap(settings)

	resolved := viper.New()
	for key, value := range settings {
		resolved.Set(key, value)
	}

	var cfg Config
	if err := resolved.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config data: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyDefaults fills unset tuning knobs with their defaults.
func (c *Config) applyDefaults() {
	if c.Workers.Parser <= 0 {
		c.Workers.Parser = 1
	}
	if c.Workers.Generator <= 0 {
		c.Workers.Generator = 1
	}
	if c.Workers.Fixer <= 0 {
		c.Workers.Fixer = 1
	}
	if c.Workers.Structural <= 0 {
		c.Workers.Structural = 1
	}
	if c.Others.FixMutatorTryTime <= 0 {
		c.Others.FixMutatorTryTime = 3
	}
	if c.Others.LLMFormatErrorMaxRetry <= 0 {
		c.Others.LLMFormatErrorMaxRetry = 3
	}
	if c.Others.MutateBudget <= 0 {
		c.Others.MutateBudget = 64
	}
	if c.Others.StructuralCadence <= 0 {
		c.Others.StructuralCadence = 10
	}
	if c.Others.QueueCapacity <= 0 {
		c.Others.QueueCapacity = 1024
	}
	if c.Others.PythonPath == "" {
		c.Others.PythonPath = "python3"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// validate rejects configurations that cannot drive the pipeline.
func (c *Config) validate() error {
	if c.Target.DBMS == "" {
		return fmt.Errorf("config: TARGET.DBMS is required")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("config: LLM.MODEL is required")
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("config: LLM.BASE_URL is required")
	}
	required := map[string]string{
		"FILE_PATH.PARSED_SQL_PATH":        c.FilePath.ParsedSQLPath,
		"FILE_PATH.GENERATED_MUTATOR_PATH": c.FilePath.GeneratedMutatorPath,
		"FILE_PATH.STRUCTURAL_MUTATE_PATH": c.FilePath.StructuralMutatePath,
		"FILE_PATH.MUTATOR_FIX_TMP_PATH":   c.FilePath.MutatorFixTmpPath,
	}
	for key, value := range required {
		if value == "" {
			return fmt.Errorf("config: %s is required", key)
		}
	}
	return nil
}

// PrepareDirectories enforces the startup directory rule: every output
// directory must either not exist (it is created) or exist and be empty.
// A non-empty directory aborts the run so results of different runs never
// mix. Log and CSV parent directories are created unconditionally.
func (c *Config) PrepareDirectories() error {
	outputDirs := []string{
		c.FilePath.ParsedSQLPath,
		c.FilePath.GeneratedMutatorPath,
		c.FilePath.StructuralMutatePath,
		c.FilePath.MutatorFixTmpPath,
	}
	for _, dir := range outputDirs {
		if err := prepareEmptyDir(dir); err != nil {
			return err
		}
	}

	parents := []string{
		c.Log.MainLogPath, c.Log.ParserLogPath, c.Log.GeneratorLogPath,
		c.Log.FixerLogPath, c.Log.StructuralLogPath, c.Log.LLMLogPath,
		c.CSV.MainCSVPath, c.CSV.ParserCSVPath, c.CSV.GeneratorCSVPath,
		c.CSV.FixerCSVPath, c.CSV.StructuralCSVPath,
	}
	for _, p := range parents {
		if p == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", p, err)
		}
	}
	return nil
}

// prepareEmptyDir creates dir if missing and fails if it exists non-empty.
func prepareEmptyDir(dir string) error {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("output path %s exists and is not a directory", dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	if len(entries) > 0 {
		return fmt.Errorf("output directory %s is not empty, refusing to mix runs", dir)
	}
	return nil
}
