package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"pathoflow/internal/domain/entity"
)

type Config struct {
	Root          string
	ModelsDir     string
	PipelinesDir  string
	LibraryDir    string
	BackendsFile  string
	ProjectDir    string
	RunDB         string
	Workers       int
	AdvancedMode  bool
	Magnification float64
	LogLevel      slog.Level
	ONNXLibrary   string

	TelegramToken  string
	TelegramChatID int64
}

func Load() (*Config, error) {
	// Загружаем .env файл (игнорируем ошибку если файла нет)
	_ = godotenv.Load()

	root := getEnv("PATHOFLOW_ROOT", "")
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		root = filepath.Join(home, "fastpathology")
	}

	workers, err := getEnvAsInt("PATHOFLOW_WORKERS", 2)
	if err != nil {
		return nil, err
	}
	advanced, err := getEnvAsBool("PATHOFLOW_ADVANCED_MODE", false)
	if err != nil {
		return nil, err
	}
	magnification, err := getEnvAsFloat("PATHOFLOW_MAGNIFICATION", 40)
	if err != nil {
		return nil, err
	}
	chatID, err := getEnvAsInt64("TELEGRAM_CHAT_ID", 0)
	if err != nil {
		return nil, err
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(getEnv("PATHOFLOW_LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("PATHOFLOW_LOG_LEVEL: %w", err)
	}

	cfg := &Config{
		Root:           root,
		ModelsDir:      getEnv("PATHOFLOW_MODELS_DIR", filepath.Join(root, "data", "Models")),
		PipelinesDir:   getEnv("PATHOFLOW_PIPELINES_DIR", filepath.Join(root, "data", "Pipelines")),
		LibraryDir:     getEnv("PATHOFLOW_LIBRARY_DIR", filepath.Join(root, "lib")),
		BackendsFile:   getEnv("PATHOFLOW_BACKENDS_FILE", filepath.Join(root, "backends.yaml")),
		ProjectDir:     getEnv("PATHOFLOW_PROJECT_DIR", ""),
		RunDB:          getEnv("PATHOFLOW_RUN_DB", ""),
		Workers:        workers,
		AdvancedMode:   advanced,
		Magnification:  magnification,
		LogLevel:       level,
		ONNXLibrary:    getEnv("ONNXRUNTIME_LIBRARY", ""),
		TelegramToken:  getEnv("TELEGRAM_TOKEN", ""),
		TelegramChatID: chatID,
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate проверяет значения после чтения окружения
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("PATHOFLOW_WORKERS must be > 0")
	}
	if c.Magnification <= 0 {
		return fmt.Errorf("PATHOFLOW_MAGNIFICATION must be > 0")
	}
	if c.TelegramToken != "" && c.TelegramChatID == 0 {
		return fmt.Errorf("TELEGRAM_CHAT_ID is required when TELEGRAM_TOKEN is set")
	}
	return nil
}

// BackendsFile описание установленных движков
type BackendsFile struct {
	Backends []BackendEntry `yaml:"backends"`
}

type BackendEntry struct {
	Name    string   `yaml:"name"`
	Devices []string `yaml:"devices"`
	Formats []string `yaml:"formats"`
}

// LoadBackends читает файл описания движков; отсутствующий файл: пустой список
func LoadBackends(path string) ([]entity.BackendDescriptor, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backends file: %w", err)
	}

	var file BackendsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse backends file: %w", err)
	}

	descriptors := make([]entity.BackendDescriptor, 0, len(file.Backends))
	for i, b := range file.Backends {
		d, err := b.descriptor()
		if err != nil {
			return nil, fmt.Errorf("backends[%d]: %w", i, err)
		}
		descriptors = append(descriptors, d)
	}
	return descriptors, nil
}

func (b BackendEntry) descriptor() (entity.BackendDescriptor, error) {
	if strings.TrimSpace(b.Name) == "" {
		return entity.BackendDescriptor{}, fmt.Errorf("name is required")
	}
	if len(b.Formats) == 0 {
		return entity.BackendDescriptor{}, fmt.Errorf("%s: at least one format is required", b.Name)
	}
	d := entity.BackendDescriptor{Name: entity.BackendName(b.Name), Available: true}
	for _, dev := range b.Devices {
		switch device := entity.Device(strings.ToLower(dev)); device {
		case entity.DeviceCPU, entity.DeviceGPU:
			d.Devices = append(d.Devices, device)
		default:
			return entity.BackendDescriptor{}, fmt.Errorf("%s: unknown device %q", b.Name, dev)
		}
	}
	for _, f := range b.Formats {
		d.Formats = append(d.Formats, entity.ParseFormat(f))
	}
	return d, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getEnvAsInt(key string, def int) (int, error) {
	v := getEnv(key, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvAsInt64(key string, def int64) (int64, error) {
	v := getEnv(key, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvAsFloat(key string, def float64) (float64, error) {
	v := getEnv(key, "")
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func getEnvAsBool(key string, def bool) (bool, error) {
	v := getEnv(key, "")
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
