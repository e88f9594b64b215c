// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"gopkg.in/yaml.v3"
	"k8s.io/utils/ptr"

	"github.com/sustainable-computing-io/msrio/internal/msr"
)

// Config represents the complete application configuration
type (
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	}
	Host struct {
		SysFS  string `yaml:"sysfs"`
		ProcFS string `yaml:"procfs"`
	}

	// MSR device and register table settings
	MSR struct {
		DevicePath      string `yaml:"devicePath"`      // per cpu template with %d
		SafeDevicePath  string `yaml:"safeDevicePath"`  // per cpu template with %d, tried first
		BatchDevicePath string `yaml:"batchDevicePath"` // msr-safe batch device
		CPUID           string `yaml:"cpuid"`           // hex model id; empty to detect
		PluginPath      string `yaml:"pluginPath"`      // directory of msr_*.json|yaml custom registers
		FixedCounters   *bool  `yaml:"fixedCounters"`   // program the fixed counters on first use
		SaveRestore     *bool  `yaml:"saveRestore"`     // restore controls on shutdown
	}

	// Development mode settings; disabled by default
	Dev struct {
		FakeMSR struct {
			Enabled *bool `yaml:"enabled"`
		} `yaml:"fake-msr"`
	}
	Web struct {
		Config          string   `yaml:"configFile"`
		ListenAddresses []string `yaml:"listenAddresses"`
	}

	Monitor struct {
		Interval  time.Duration `yaml:"interval"`  // Interval between batch reads
		Staleness time.Duration `yaml:"staleness"` // Time after which sampled values are considered stale

		// Groups selects predefined sets of signals to sample
		Groups Group `yaml:"groups"`
		// Signals are sampled in addition to the groups
		Signals []string `yaml:"signals"`
	}

	// Exporter configuration
	StdoutExporter struct {
		Enabled *bool `yaml:"enabled"`
	}

	PrometheusExporter struct {
		Enabled         *bool    `yaml:"enabled"`
		DebugCollectors []string `yaml:"debugCollectors"`
	}

	Exporter struct {
		Stdout     StdoutExporter     `yaml:"stdout"`
		Prometheus PrometheusExporter `yaml:"prometheus"`
	}

	// Debug configuration
	PprofDebug struct {
		Enabled *bool `yaml:"enabled"`
	}

	Debug struct {
		Pprof PprofDebug `yaml:"pprof"`
	}

	Config struct {
		Log      Log      `yaml:"log"`
		Host     Host     `yaml:"host"`
		MSR      MSR      `yaml:"msr"`
		Monitor  Monitor  `yaml:"monitor"`
		Exporter Exporter `yaml:"exporter"`
		Web      Web      `yaml:"web"`
		Debug    Debug    `yaml:"debug"`
		Dev      Dev      `yaml:"dev"` // WARN: do not expose dev settings as flags
	}
)

type SkipValidation int

const (
	SkipHostValidation SkipValidation = 1
)

// DefaultListenAddress is where the API server listens unless configured
const DefaultListenAddress = ":28284"

const (
	// Flags
	LogLevelFlag  = "log.level"
	LogFormatFlag = "log.format"

	HostSysFSFlag  = "host.sysfs"
	HostProcFSFlag = "host.procfs"

	MSRDevicePathFlag      = "msr.device-path"
	MSRSafeDevicePathFlag  = "msr.safe-device-path"
	MSRBatchDevicePathFlag = "msr.batch-device-path"
	MSRCPUIDFlag           = "msr.cpuid"
	MSRPluginPathFlag      = "msr.plugin-path"
	MSRFixedCounters       = "msr.fixed-counters" // not a flag
	MSRSaveRestoreFlag     = "msr.save-restore"

	MonitorIntervalFlag = "monitor.interval"
	MonitorStaleness    = "monitor.staleness" // not a flag
	MonitorGroupFlag    = "monitor.group"
	MonitorSignalFlag   = "monitor.signal"

	pprofEnabledFlag = "debug.pprof"

	WebConfigFlag        = "web.config-file"
	WebListenAddressFlag = "web.listen-address"

	// Exporters
	ExporterStdoutEnabledFlag = "exporter.stdout"

	ExporterPrometheusEnabledFlag = "exporter.prometheus"
	// NOTE: not a flag
	ExporterPrometheusDebugCollectors = "exporter.prometheus.debug-collectors"

// WARN:  dev settings shouldn't be exposed as flags as flags are intended for end users
)

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	cfg := &Config{
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Host: Host{
			SysFS:  "/sys",
			ProcFS: "/proc",
		},
		MSR: MSR{
			DevicePath:      "/dev/cpu/%d/msr",
			SafeDevicePath:  "/dev/cpu/%d/msr_safe",
			BatchDevicePath: "/dev/cpu/msr_batch",
			FixedCounters:   ptr.To(true),
			SaveRestore:     ptr.To(false),
		},
		Monitor: Monitor{
			Interval:  5 * time.Second,
			Staleness: 500 * time.Millisecond,
			Groups:    GroupEnergy | GroupPower | GroupFrequency,
			Signals:   []string{},
		},
		Exporter: Exporter{
			Stdout: StdoutExporter{
				Enabled: ptr.To(false),
			},
			Prometheus: PrometheusExporter{
				Enabled:         ptr.To(true),
				DebugCollectors: []string{"go"},
			},
		},
		Debug: Debug{
			Pprof: PprofDebug{
				Enabled: ptr.To(false),
			},
		},
		Web: Web{
			ListenAddresses: []string{DefaultListenAddress},
		},
	}

	cfg.Dev.FakeMSR.Enabled = ptr.To(false)
	return cfg
}

// Load loads configuration from an io.Reader
func Load(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.sanitize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// FromFile loads configuration from a file
func FromFile(filePath string) (*Config, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer func() { _ = file.Close() }()

	return Load(file)
}

type ConfigUpdaterFn func(*Config) error

// RegisterFlags registers command-line flags with kingpin app
// and returns ConfigUpdaterFn that updates the config from parsed flags
// as command line arguments override config file settings
func RegisterFlags(app *kingpin.Application) ConfigUpdaterFn {
	// track flags that were explicitly set
	flagsSet := map[string]bool{}

	app.PreAction(func(ctx *kingpin.ParseContext) error {
		// Clear the map in case this function is called multiple times
		flagsSet = map[string]bool{}

		for _, element := range ctx.Elements {
			if flag, ok := element.Clause.(*kingpin.FlagClause); ok && element.Value != nil {
				flagsSet[flag.Model().Name] = true
			}
		}
		return nil
	})

	// Logging
	logLevel := app.Flag(LogLevelFlag, "Logging level: debug, info, warn, error").Default("info").Enum("debug", "info", "warn", "error")
	logFormat := app.Flag(LogFormatFlag, "Logging format: text or json").Default("text").Enum("text", "json")
	// host
	hostSysFS := app.Flag(HostSysFSFlag, "Host sysfs path").Default("/sys").ExistingDir()
	hostProcFS := app.Flag(HostProcFSFlag, "Host procfs path").Default("/proc").ExistingDir()

	// msr
	msrDevicePath := app.Flag(MSRDevicePathFlag, "MSR device path template, %d is replaced by the cpu").Default("/dev/cpu/%d/msr").String()
	msrSafeDevicePath := app.Flag(MSRSafeDevicePathFlag, "msr-safe device path template, tried before the msr device").Default("/dev/cpu/%d/msr_safe").String()
	msrBatchDevicePath := app.Flag(MSRBatchDevicePathFlag, "msr-safe batch device path").Default("/dev/cpu/msr_batch").String()
	msrCPUID := app.Flag(MSRCPUIDFlag, "CPU model id in hex selecting the register table; detected when empty").Default("").String()
	msrPluginPath := app.Flag(MSRPluginPathFlag, "Directory with msr_*.json or msr_*.yaml custom register tables").Default("").String()
	msrSaveRestore := app.Flag(MSRSaveRestoreFlag, "Save controls at startup and restore them on shutdown").Default("false").Bool()

	// monitor
	monitorInterval := app.Flag(MonitorIntervalFlag,
		"Interval between reads of the sampled signals; 0 to disable").Default("5s").Duration()
	groups := GroupEnergy | GroupPower | GroupFrequency
	app.Flag(MonitorGroupFlag, "Signal groups to sample ("+strings.Join(ValidGroups(), ",")+")").SetValue(NewGroupValue(&groups))
	monitorSignals := app.Flag(MonitorSignalFlag, "Additional signal to sample; may be repeated").Strings()

	enablePprof := app.Flag(pprofEnabledFlag, "Enable pprof debug endpoints").Default("false").Bool()
	webConfig := app.Flag(WebConfigFlag, "Web config file path").Default("").String()
	webListenAddresses := app.Flag(WebListenAddressFlag, "Web server listen addresses").Default(DefaultListenAddress).Strings()

	// exporters
	stdoutExporterEnabled := app.Flag(ExporterStdoutEnabledFlag, "Enable stdout exporter").Default("false").Bool()

	prometheusExporterEnabled := app.Flag(ExporterPrometheusEnabledFlag, "Enable Prometheus exporter").Default("true").Bool()

	return func(cfg *Config) error {
		// Logging settings
		if flagsSet[LogLevelFlag] {
			cfg.Log.Level = *logLevel
		}

		if flagsSet[LogFormatFlag] {
			cfg.Log.Format = *logFormat
		}

		if flagsSet[HostSysFSFlag] {
			cfg.Host.SysFS = *hostSysFS
		}

		if flagsSet[HostProcFSFlag] {
			cfg.Host.ProcFS = *hostProcFS
		}

		// msr settings
		if flagsSet[MSRDevicePathFlag] {
			cfg.MSR.DevicePath = *msrDevicePath
		}
		if flagsSet[MSRSafeDevicePathFlag] {
			cfg.MSR.SafeDevicePath = *msrSafeDevicePath
		}
		if flagsSet[MSRBatchDevicePathFlag] {
			cfg.MSR.BatchDevicePath = *msrBatchDevicePath
		}
		if flagsSet[MSRCPUIDFlag] {
			cfg.MSR.CPUID = *msrCPUID
		}
		if flagsSet[MSRPluginPathFlag] {
			cfg.MSR.PluginPath = *msrPluginPath
		}
		if flagsSet[MSRSaveRestoreFlag] {
			cfg.MSR.SaveRestore = msrSaveRestore
		}

		// monitor settings
		if flagsSet[MonitorIntervalFlag] {
			cfg.Monitor.Interval = *monitorInterval
		}
		if flagsSet[MonitorGroupFlag] {
			cfg.Monitor.Groups = groups
		}
		if flagsSet[MonitorSignalFlag] {
			cfg.Monitor.Signals = *monitorSignals
		}

		if flagsSet[pprofEnabledFlag] {
			cfg.Debug.Pprof.Enabled = enablePprof
		}

		if flagsSet[WebConfigFlag] {
			cfg.Web.Config = *webConfig
		}

		if flagsSet[WebListenAddressFlag] {
			cfg.Web.ListenAddresses = *webListenAddresses
		}

		if flagsSet[ExporterStdoutEnabledFlag] {
			cfg.Exporter.Stdout.Enabled = stdoutExporterEnabled
		}

		if flagsSet[ExporterPrometheusEnabledFlag] {
			cfg.Exporter.Prometheus.Enabled = prometheusExporterEnabled
		}

		cfg.sanitize()
		return cfg.Validate()
	}
}

func (c *Config) sanitize() {
	c.Log.Level = strings.TrimSpace(c.Log.Level)
	c.Log.Format = strings.TrimSpace(c.Log.Format)
	c.Host.SysFS = strings.TrimSpace(c.Host.SysFS)
	c.Host.ProcFS = strings.TrimSpace(c.Host.ProcFS)
	c.MSR.DevicePath = strings.TrimSpace(c.MSR.DevicePath)
	c.MSR.SafeDevicePath = strings.TrimSpace(c.MSR.SafeDevicePath)
	c.MSR.BatchDevicePath = strings.TrimSpace(c.MSR.BatchDevicePath)
	c.MSR.CPUID = strings.TrimSpace(c.MSR.CPUID)
	c.MSR.PluginPath = strings.TrimSpace(c.MSR.PluginPath)
	c.Web.Config = strings.TrimSpace(c.Web.Config)
	for i := range c.Web.ListenAddresses {
		c.Web.ListenAddresses[i] = strings.TrimSpace(c.Web.ListenAddresses[i])
	}

	for i := range c.Monitor.Signals {
		c.Monitor.Signals[i] = strings.TrimSpace(c.Monitor.Signals[i])
	}

	for i := range c.Exporter.Prometheus.DebugCollectors {
		c.Exporter.Prometheus.DebugCollectors[i] = strings.TrimSpace(c.Exporter.Prometheus.DebugCollectors[i])
	}
}

// Validate checks for configuration errors
func (c *Config) Validate(skips ...SkipValidation) error {
	validationSkipped := make(map[SkipValidation]bool, len(skips))
	for _, v := range skips {
		validationSkipped[v] = true
	}
	var errs []string
	{ // log level

		validLogLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}

		// Validate logging settings
		if _, valid := validLogLevels[c.Log.Level]; !valid {
			errs = append(errs, fmt.Sprintf("invalid log level: %s", c.Log.Level))
		}
	}
	{ // log format
		validFormats := map[string]bool{
			"text": true,
			"json": true,
		}
		if _, valid := validFormats[c.Log.Format]; !valid {
			errs = append(errs, fmt.Sprintf("invalid log format: %s", c.Log.Format))
		}
	}

	{ // Validate host settings
		if _, skip := validationSkipped[SkipHostValidation]; !skip {
			if err := canReadDir(c.Host.SysFS); err != nil {
				errs = append(errs, fmt.Sprintf("invalid sysfs path: %s: %s ", c.Host.SysFS, err.Error()))
			}
			if err := canReadDir(c.Host.ProcFS); err != nil {
				errs = append(errs, fmt.Sprintf("invalid procfs path: %s: %s ", c.Host.ProcFS, err.Error()))
			}
		}
	}
	{ // MSR
		for _, p := range []struct{ flag, path string }{
			{MSRDevicePathFlag, c.MSR.DevicePath},
			{MSRSafeDevicePathFlag, c.MSR.SafeDevicePath},
		} {
			if strings.Count(p.path, "%d") != 1 {
				errs = append(errs, fmt.Sprintf("invalid %s %q: must contain %%d exactly once", p.flag, p.path))
			}
		}
		if c.MSR.BatchDevicePath == "" {
			errs = append(errs, fmt.Sprintf("%s cannot be empty", MSRBatchDevicePathFlag))
		}
		if c.MSR.CPUID != "" {
			if _, err := msr.ParseModelID(c.MSR.CPUID); err != nil {
				errs = append(errs, fmt.Sprintf("invalid cpuid %q: must be a hex model id", c.MSR.CPUID))
			}
		}
		if c.MSR.PluginPath != "" {
			if err := canReadDir(c.MSR.PluginPath); err != nil {
				errs = append(errs, fmt.Sprintf("invalid plugin path: %s: %s", c.MSR.PluginPath, err.Error()))
			}
		}
	}
	{ // Web config file
		if c.Web.Config != "" {
			if err := canReadFile(c.Web.Config); err != nil {
				errs = append(errs, fmt.Sprintf("invalid web config file. path: %q: %s", c.Web.Config, err.Error()))
			}
		}
	}
	{ // Web listen addresses
		if len(c.Web.ListenAddresses) == 0 {
			errs = append(errs, "at least one web listen address must be specified")
		}
		for _, addr := range c.Web.ListenAddresses {
			if addr == "" {
				errs = append(errs, "web listen address cannot be empty")
				continue
			}
			if err := validateListenAddress(addr); err != nil {
				errs = append(errs, fmt.Sprintf("invalid web listen address %q: %s", addr, err.Error()))
			}
		}
	}
	{ // Monitor
		if c.Monitor.Interval < 0 {
			errs = append(errs, fmt.Sprintf("invalid monitor interval: %s can't be negative", c.Monitor.Interval))
		}
		if c.Monitor.Staleness < 0 {
			errs = append(errs, fmt.Sprintf("invalid monitor staleness: %s can't be negative", c.Monitor.Staleness))
		}
		for _, s := range c.Monitor.Signals {
			if s == "" {
				errs = append(errs, "monitor signal cannot be empty")
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, ", "))
	}

	return nil
}

func canReadDir(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}

	defer func() {
		// ignored on purpose
		_ = f.Close()
	}()

	_, err = f.ReadDir(1)
	if err != nil && err != io.EOF {
		return err
	}

	return nil
}

func canReadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}

	defer func() {
		// ignored on purpose
		_ = f.Close()
	}()
	buf := make([]byte, 8)
	_, err = f.Read(buf)
	if err != nil {
		return err
	}

	return nil
}

func validateListenAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address cannot be empty")
	}

	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address format: %w", err)
	}

	// host can be empty for listening on all interfaces
	return validatePort(port)
}

func validatePort(port string) error {
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("port must be numeric, got %s", port)
	}

	if portNum < 1 || portNum > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", portNum)
	}
	return nil
}

func (c *Config) String() string {
	bytes, err := yaml.Marshal(c)
	if err == nil {
		return string(bytes)
	}
	// NOTE:  this code path should not happen but if it does (i.e if yaml marshal) fails
	// for some reason, manually build the string
	return c.manualString()
}

func (c *Config) manualString() string {
	cfgs := []struct {
		Name  string
		Value string
	}{
		{LogLevelFlag, c.Log.Level},
		{LogFormatFlag, c.Log.Format},
		{HostSysFSFlag, c.Host.SysFS},
		{HostProcFSFlag, c.Host.ProcFS},
		{MSRDevicePathFlag, c.MSR.DevicePath},
		{MSRSafeDevicePathFlag, c.MSR.SafeDevicePath},
		{MSRBatchDevicePathFlag, c.MSR.BatchDevicePath},
		{MSRCPUIDFlag, c.MSR.CPUID},
		{MSRPluginPathFlag, c.MSR.PluginPath},
		{MSRFixedCounters, fmt.Sprintf("%v", ptr.Deref(c.MSR.FixedCounters, true))},
		{MSRSaveRestoreFlag, fmt.Sprintf("%v", ptr.Deref(c.MSR.SaveRestore, false))},
		{MonitorIntervalFlag, c.Monitor.Interval.String()},
		{MonitorStaleness, c.Monitor.Staleness.String()},
		{MonitorGroupFlag, c.Monitor.Groups.String()},
		{MonitorSignalFlag, strings.Join(c.Monitor.Signals, ", ")},
		{ExporterStdoutEnabledFlag, fmt.Sprintf("%v", ptr.Deref(c.Exporter.Stdout.Enabled, false))},
		{ExporterPrometheusEnabledFlag, fmt.Sprintf("%v", ptr.Deref(c.Exporter.Prometheus.Enabled, false))},
		{ExporterPrometheusDebugCollectors, strings.Join(c.Exporter.Prometheus.DebugCollectors, ", ")},
		{pprofEnabledFlag, fmt.Sprintf("%v", ptr.Deref(c.Debug.Pprof.Enabled, false))},
	}
	sb := strings.Builder{}

	for _, cfg := range cfgs {
		sb.WriteString(cfg.Name)
		sb.WriteString(": ")
		sb.WriteString(cfg.Value)
		sb.WriteString("\n")
	}

	return sb.String()
}
