// Package config loads and validates Anna's TOML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like "60s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config mirrors the recognized keys in spec §6.6.
type Config struct {
	Persona   Persona   `toml:"persona"`
	Advice    Advice    `toml:"advice"`
	Signals   Signals   `toml:"signals"`
	QuickScan QuickScan `toml:"quickscan"`

	RPC      RPC            `toml:"rpc"`
	Paths    Paths          `toml:"paths"`
	LLM      LLM            `toml:"llm"`
	Autonomy AutonomyConfig `toml:"autonomy"`
}

// Persona controls the confidence/observation model and its samplers.
type Persona struct {
	Enabled             bool           `toml:"enabled"`
	ConfidenceThreshold float64        `toml:"confidence_threshold"`
	MinObservationDays  int            `toml:"min_observation_days"`
	Sampler             PersonaSampler `toml:"sampler"`
	Infer               PersonaInfer   `toml:"infer"`
	Trigger             PersonaTrigger `toml:"trigger"`
}

type PersonaSampler struct {
	Enable       bool    `toml:"enable"`
	IntervalSecs int     `toml:"interval_secs"`
	MaxProcs     int     `toml:"max_procs"`
	LoadAvgCap   float64 `toml:"loadavg_cap"`
}

type PersonaInfer struct {
	DailyAt       string  `toml:"daily_at"`
	WindowDays    int     `toml:"window_days"`
	ChangeEpsilon float64 `toml:"change_epsilon"`
}

type PersonaTrigger struct {
	Enable              bool `toml:"enable"`
	DebounceSecs        int  `toml:"debounce_secs"`
	PkgChurnThreshold   int  `toml:"pkg_churn_threshold"`
	ShellHistThreshold  int  `toml:"shell_hist_threshold"`
	BrowserNavThreshold int  `toml:"browser_nav_threshold"`
}

type Advice struct {
	Enabled              bool    `toml:"enabled"`
	DiskFreeThreshold    float64 `toml:"disk_free_threshold"`
	CheckIntervalMinutes int     `toml:"check_interval_minutes"`
	CooldownHours        int     `toml:"cooldown_hours"`
}

type Signals struct {
	AllowShellHistory   bool `toml:"allow_shell_history"`
	AllowBrowserHistory bool `toml:"allow_browser_history"`
}

type QuickScan struct {
	Enable      bool            `toml:"enable"`
	TimeoutSecs int             `toml:"timeout_secs"`
	Checks      map[string]bool `toml:"check"`
}

// RPC configures the Unix-domain-socket JSON-RPC server (§4.N, §6.1).
type RPC struct {
	SocketPath      string   `toml:"socket_path"`
	MaxConcurrent   int      `toml:"max_concurrent"`
	RequestDeadline Duration `toml:"request_deadline"`
	QueueDepth      int      `toml:"queue_depth"`
}

// Paths configures the on-disk layout (§6.2). All are defaults the daemon
// also reports back via StatusSnapshot.
type Paths struct {
	CasesJSONL      string `toml:"cases_jsonl"`
	CasesDir        string `toml:"cases_dir"`
	RecipesDir      string `toml:"recipes_dir"`
	KnowledgeDir    string `toml:"knowledge_dir"`
	TelemetryDir    string `toml:"telemetry_dir"`
	UpdateStateFile string `toml:"update_state_file"`
	OpsLog          string `toml:"ops_log"`
}

// LLM configures the external on-host inference server contract (§1, §4.F/H).
type LLM struct {
	Endpoint string   `toml:"endpoint"`
	Model    string   `toml:"model"`
	Timeout  Duration `toml:"timeout"`
}

// AutonomyConfig configures the Autonomy Manager's tier and cooldowns (§4.M).
type AutonomyConfig struct {
	Tier                string   `toml:"tier"` // observer, assisted, autonomous
	AssistedThreshold   float64  `toml:"assisted_threshold"`
	AutonomousThreshold float64  `toml:"autonomous_threshold"`
	ActionCooldown      Duration `toml:"action_cooldown"`
}

// Default returns a Config populated with the defaults referenced throughout
// the spec (snapshot freshness windows live with their owning package).
func Default() Config {
	return Config{
		Persona: Persona{
			Enabled:             true,
			ConfidenceThreshold: 0.7,
			MinObservationDays:  3,
			Sampler: PersonaSampler{
				Enable:       true,
				IntervalSecs: 30,
				MaxProcs:     4,
				LoadAvgCap:   2.0,
			},
		},
		Advice: Advice{
			Enabled:              true,
			DiskFreeThreshold:    10,
			CheckIntervalMinutes: 15,
			CooldownHours:        6,
		},
		QuickScan: QuickScan{
			Enable:      true,
			TimeoutSecs: 10,
		},
		RPC: RPC{
			SocketPath:      "/var/run/anna/annad.sock",
			MaxConcurrent:   32,
			RequestDeadline: Duration{30 * time.Second},
			QueueDepth:      64,
		},
		Paths: Paths{
			CasesJSONL:      "/var/lib/anna/cases.jsonl",
			CasesDir:        "/var/lib/anna/cases",
			RecipesDir:      "/var/lib/anna/recipes",
			KnowledgeDir:    "/var/lib/anna/knowledge",
			TelemetryDir:    "/var/lib/anna/telemetry",
			UpdateStateFile: "/var/lib/anna/update_state.json",
			OpsLog:          "/var/log/anna/ops.log",
		},
		LLM: LLM{
			Endpoint: "http://127.0.0.1:8080",
			Model:    "anna-local",
			Timeout:  Duration{20 * time.Second},
		},
		Autonomy: AutonomyConfig{
			Tier:                "assisted",
			AssistedThreshold:   0.8,
			AutonomousThreshold: 0.5,
			ActionCooldown:      Duration{10 * time.Minute},
		},
	}
}

// Load reads and parses a TOML config file, falling back to Default() for
// any key the file omits. Unknown keys in the file are ignored by
// BurntSushi/toml's decode path, matching §6.6's forward compatibility
// requirement.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}
