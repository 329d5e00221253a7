package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Task file defaults.
const (
	DefaultController  = "127.0.0.1:9097"
	DefaultHTTPProxy   = "http://127.0.0.1:7890"
	DefaultIntervalSec = 30.0
	DefaultVerifyCount = 3
)

// ErrExists is returned by WriteTemplate when the file is already there.
var ErrExists = errors.New("config file already exists")

// TaskFile is the content of config.yaml. JSON files parse too.
type TaskFile struct {
	Clash      ClashSection      `yaml:"clash" json:"clash"`
	Monitoring MonitoringSection `yaml:"monitoring" json:"monitoring"`
	Tasks      []TaskEntry       `yaml:"tasks" json:"tasks"`
}

// ClashSection locates the controller and the proxy probes go through.
type ClashSection struct {
	Controller string `yaml:"controller" json:"controller"`
	Secret     string `yaml:"secret,omitempty" json:"secret,omitempty"`
	HTTPProxy  string `yaml:"http_proxy" json:"http_proxy"`
}

type MonitoringSection struct {
	IntervalSec  float64 `yaml:"interval_sec" json:"interval_sec"`
	MaxRotations int     `yaml:"max_rotations" json:"max_rotations"`
	Once         bool    `yaml:"once" json:"once"`
	VerifyCount  int     `yaml:"verify_count" json:"verify_count"`
}

// Interval is IntervalSec as a duration.
func (m MonitoringSection) Interval() time.Duration {
	return time.Duration(m.IntervalSec * float64(time.Second))
}

type TaskEntry struct {
	Name      string `yaml:"name" json:"name"`
	GroupName string `yaml:"proxy_group_name" json:"proxy_group_name"`
	Service   string `yaml:"service_name" json:"service_name"`
	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// IsEnabled reports whether the task runs.
func (t TaskEntry) IsEnabled() bool { return t.Enabled == nil || *t.Enabled }

// LoadTasks reads, parses and validates the task file at path.
func LoadTasks(path string) (*TaskFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseTasks(data)
}

// ParseTasks parses a task file, applies defaults and validates it.
// ${VAR} references are replaced with the environment value.
func ParseTasks(data []byte) (*TaskFile, error) {
	data = expandEnvReferences(data)

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var tf TaskFile
	if err := dec.Decode(&tf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("config file is empty")
		}
		return nil, fmt.Errorf("failed to parse config yaml: %w", err)
	}

	tf.applyDefaults()
	if err := tf.Validate(); err != nil {
		return nil, err
	}
	return &tf, nil
}

func (tf *TaskFile) applyDefaults() {
	if tf.Clash.Controller == "" {
		tf.Clash.Controller = DefaultController
	}
	if tf.Clash.HTTPProxy == "" {
		tf.Clash.HTTPProxy = DefaultHTTPProxy
	}
	if tf.Monitoring.IntervalSec == 0 {
		tf.Monitoring.IntervalSec = DefaultIntervalSec
	}
	if tf.Monitoring.VerifyCount == 0 {
		tf.Monitoring.VerifyCount = DefaultVerifyCount
	}
}

// Validate reports every problem in the file at once.
func (tf *TaskFile) Validate() error {
	var errs []error
	if tf.Monitoring.IntervalSec < 0 {
		errs = append(errs, errors.New("monitoring.interval_sec must not be negative"))
	}
	if tf.Monitoring.MaxRotations < 0 {
		errs = append(errs, errors.New("monitoring.max_rotations must not be negative"))
	}
	if tf.Monitoring.VerifyCount < 0 {
		errs = append(errs, errors.New("monitoring.verify_count must not be negative"))
	}
	if len(tf.Tasks) == 0 {
		errs = append(errs, errors.New("no task configured"))
	}

	seen := make(map[string]bool, len(tf.Tasks))
	for i, t := range tf.Tasks {
		if strings.TrimSpace(t.Name) == "" {
			errs = append(errs, fmt.Errorf("tasks[%d]: name is required", i))
		} else if seen[t.Name] {
			errs = append(errs, fmt.Errorf("tasks[%d]: duplicate name %q", i, t.Name))
		}
		seen[t.Name] = true
		if strings.TrimSpace(t.GroupName) == "" {
			errs = append(errs, fmt.Errorf("tasks[%d]: proxy_group_name is required", i))
		}
		if strings.TrimSpace(t.Service) == "" {
			errs = append(errs, fmt.Errorf("tasks[%d]: service_name is required", i))
		}
	}
	return errors.Join(errs...)
}

// Template returns a commented example task file.
func Template() []byte {
	return []byte(`# relayswitch task file.
clash:
  # Controller REST API, host:port or URL.
  controller: "` + DefaultController + `"
  # Bearer secret of the controller, empty when none.
  secret: ""
  # HTTP proxy the service probes go through.
  http_proxy: "` + DefaultHTTPProxy + `"

monitoring:
  interval_sec: 30
  # Pause after this many consecutive switches, 0 never pauses.
  max_rotations: 0
  # Stop each task at its first successful probe.
  once: false
  # Probes right after start or a switch.
  verify_count: 3

# Services: bilibili_mainland, bilibili_hk_mc_tw, chatgpt, gemini,
# youtube_premium, bahamut_anime, netflix, prime_video.
tasks:
  - name: netflix
    proxy_group_name: "Netflix"
    service_name: netflix
    enabled: true
  - name: chatgpt
    proxy_group_name: "OpenAI"
    service_name: chatgpt
    enabled: false
`)
}

// WriteTemplate writes Template to path, creating parent directories. It
// keeps an existing file unless force is set.
func WriteTemplate(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	// The file may carry the controller secret.
	if err := os.WriteFile(path, Template(), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

var envReference = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvReferences replaces ${VAR} with its value.
// Example: secret: "${CLASH_SECRET}" -> secret: "s3cr3t"
func expandEnvReferences(data []byte) []byte {
	return envReference.ReplaceAllFunc(data, func(m []byte) []byte {
		name := envReference.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}
