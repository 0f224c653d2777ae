// Package wizard provides an interactive setup wizard for scaffolding a
// relay configuration file.
package wizard

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/adteven/shadowrelay/internal/config"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	noteStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// Result contains the wizard output.
type Result struct {
	Config     *config.Config
	ConfigPath string
}

// Wizard manages the interactive setup process.
type Wizard struct {
	existingCfg *config.Config
}

// New creates a new setup wizard.
func New() *Wizard {
	return &Wizard{}
}

// LoadExisting loads path as a starting point for defaults, if it exists.
func (w *Wizard) LoadExisting(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load existing config: %w", err)
	}
	w.existingCfg = cfg
	return nil
}

// Run executes the interactive setup wizard and returns the resulting
// configuration and the path the caller should write it to.
func (w *Wizard) Run() (*Result, error) {
	w.printBanner()

	address, method, password, err := w.askServer()
	if err != nil {
		return nil, err
	}

	connectTimeout, idleTimeout, err := w.askTimeouts()
	if err != nil {
		return nil, err
	}

	nameservers, ipv6First, err := w.askDNS()
	if err != nil {
		return nil, err
	}

	outboundACL, err := w.askACL()
	if err != nil {
		return nil, err
	}

	metricsEnabled, metricsAddress, err := w.askMetrics()
	if err != nil {
		return nil, err
	}

	logLevel, err := w.askLogLevel()
	if err != nil {
		return nil, err
	}

	configPath, err := w.askConfigPath()
	if err != nil {
		return nil, err
	}

	cfg := config.Default()
	cfg.Servers = []config.ServerConfig{
		{
			Name:           "main",
			Address:        address,
			Method:         method,
			Password:       password,
			ConnectTimeout: connectTimeout,
			IdleTimeout:    idleTimeout,
		},
	}
	cfg.DNS.Nameservers = nameservers
	cfg.IPv6First = ipv6First
	cfg.ACL.Outbound = outboundACL
	cfg.Metrics.Enabled = metricsEnabled
	cfg.Metrics.Address = metricsAddress
	cfg.Log.Level = logLevel

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("generated config is invalid: %w", err)
	}

	return &Result{Config: cfg, ConfigPath: configPath}, nil
}

// Write renders cfg as YAML and writes it to path.
func (w *Wizard) Write(cfg *config.Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

func (w *Wizard) printBanner() {
	fmt.Println(titleStyle.Render("shadowrelay setup"))
	fmt.Println(noteStyle.Render("Scaffolds a new server configuration file."))
	fmt.Println()
}

func (w *Wizard) askServer() (address, method, password string, err error) {
	address = "0.0.0.0:8388"
	method = "chacha20-ietf-poly1305"
	generate := true

	if w.existingCfg != nil && len(w.existingCfg.Servers) > 0 {
		address = w.existingCfg.Servers[0].Address
		method = w.existingCfg.Servers[0].Method
		password = w.existingCfg.Servers[0].Password
		generate = false
	}

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Listen address").
				Description("Address and port to accept connections on").
				Value(&address),
			huh.NewSelect[string]().
				Title("AEAD method").
				Options(
					huh.NewOption("chacha20-ietf-poly1305 (recommended)", "chacha20-ietf-poly1305"),
					huh.NewOption("aes-256-gcm", "aes-256-gcm"),
					huh.NewOption("aes-128-gcm", "aes-128-gcm"),
				).
				Value(&method),
			huh.NewConfirm().
				Title("Generate a random pre-shared key?").
				Value(&generate),
		),
	).Run()
	if err != nil {
		return "", "", "", fmt.Errorf("server setup: %w", err)
	}

	if generate {
		password, err = randomPassword()
		if err != nil {
			return "", "", "", err
		}
		fmt.Println(noteStyle.Render(fmt.Sprintf("Generated password: %s", password)))
	} else if password == "" {
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Pre-shared key").
					EchoMode(huh.EchoModePassword).
					Value(&password),
			),
		).Run()
		if err != nil {
			return "", "", "", fmt.Errorf("server setup: %w", err)
		}
	}

	return address, method, password, nil
}

func randomPassword() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func (w *Wizard) askTimeouts() (connect, idle time.Duration, err error) {
	connect = 10 * time.Second
	idle = 5 * time.Minute
	connectStr := connect.String()
	idleStr := idle.String()

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Outbound connect timeout").
				Value(&connectStr).
				Validate(validateDuration),
			huh.NewInput().
				Title("Idle timeout (0 to disable)").
				Value(&idleStr).
				Validate(validateDuration),
		),
	).Run()
	if err != nil {
		return 0, 0, fmt.Errorf("timeout setup: %w", err)
	}

	connect, _ = time.ParseDuration(connectStr)
	idle, _ = time.ParseDuration(idleStr)
	return connect, idle, nil
}

func validateDuration(s string) error {
	_, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("not a valid duration (e.g. 10s, 5m): %w", err)
	}
	return nil
}

func (w *Wizard) askDNS() (nameservers []string, ipv6First bool, err error) {
	var nameserversCSV string
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Custom DNS nameservers (comma-separated, blank for system default)").
				Value(&nameserversCSV),
			huh.NewConfirm().
				Title("Prefer IPv6 addresses when resolving domain targets?").
				Value(&ipv6First),
		),
	).Run()
	if err != nil {
		return nil, false, fmt.Errorf("dns setup: %w", err)
	}

	for _, ns := range strings.Split(nameserversCSV, ",") {
		ns = strings.TrimSpace(ns)
		if ns != "" {
			nameservers = append(nameservers, ns)
		}
	}
	return nameservers, ipv6First, nil
}

func (w *Wizard) askACL() (outbound []string, err error) {
	restrict := false
	var rulesCSV string

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Restrict outbound destinations with an ACL?").
				Description("Leave unrestricted to relay any destination").
				Value(&restrict),
		),
	).Run()
	if err != nil {
		return nil, fmt.Errorf("acl setup: %w", err)
	}
	if !restrict {
		return nil, nil
	}

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Allowed outbound rules (comma-separated CIDRs or domains)").
				Value(&rulesCSV),
		),
	).Run()
	if err != nil {
		return nil, fmt.Errorf("acl setup: %w", err)
	}

	for _, rule := range strings.Split(rulesCSV, ",") {
		rule = strings.TrimSpace(rule)
		if rule != "" {
			outbound = append(outbound, rule)
		}
	}
	return outbound, nil
}

func (w *Wizard) askMetrics() (enabled bool, address string, err error) {
	address = "127.0.0.1:9388"
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable the Prometheus /metrics endpoint?").
				Value(&enabled),
		),
	).Run()
	if err != nil {
		return false, "", fmt.Errorf("metrics setup: %w", err)
	}
	if !enabled {
		return false, address, nil
	}

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Metrics listen address").
				Value(&address),
		),
	).Run()
	if err != nil {
		return false, "", fmt.Errorf("metrics setup: %w", err)
	}
	return true, address, nil
}

func (w *Wizard) askLogLevel() (string, error) {
	level := "info"
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Log level").
				Options(
					huh.NewOption("debug", "debug"),
					huh.NewOption("info", "info"),
					huh.NewOption("warn", "warn"),
					huh.NewOption("error", "error"),
				).
				Value(&level),
		),
	).Run()
	if err != nil {
		return "", fmt.Errorf("log setup: %w", err)
	}
	return level, nil
}

func (w *Wizard) askConfigPath() (string, error) {
	path := "./config.yaml"
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Write configuration to").
				Value(&path),
		),
	).Run()
	if err != nil {
		return "", fmt.Errorf("config path: %w", err)
	}
	return path, nil
}

// contains reports whether item is present in slice.
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
