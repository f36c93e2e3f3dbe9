package config

import (
	"os"
	"path/filepath"
	"testing"
)

type testCfg struct {
	Name string `yaml:"name"`
	Port int    `yaml:"port"`
}

func (c *testCfg) Validate() error {
	if c.Port == 0 {
		return os.ErrInvalid
	}
	return nil
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("TEST_CFG_NAME", "from-env")
	path := writeFile(t, "name: ${TEST_CFG_NAME}\nport: 8080\n")

	var cfg testCfg
	if err := Load(path, &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "from-env" || cfg.Port != 8080 {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeFile(t, "name: x\nport: 0\n")
	var cfg testCfg
	if err := Load(path, &cfg); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	var cfg testCfg
	if err := Load("/does/not/exist.yaml", &cfg); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadWithDefaults_FallsBack(t *testing.T) {
	defPath := writeFile(t, "name: default\nport: 1\n")
	var cfg testCfg
	if err := LoadWithDefaults("/does/not/exist.yaml", defPath, &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "default" {
		t.Errorf("cfg = %+v", cfg)
	}
}
