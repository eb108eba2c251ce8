package setup

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
	"github.com/stino180/invest-simply/config"
	"gopkg.in/yaml.v3"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

const envFile = ".env"

// Answers values collected by the wizard.
type Answers struct {
	Addr          string
	TLSDomains    string
	DatabaseDSN   string
	Hosts         string
	TestnetURL    string
	SweepInterval string
	Slippage      string
	LogFormat     string
	GenerateKey   bool
}

func defaultAnswers() Answers {
	return Answers{
		Addr:          ":8080",
		DatabaseDSN:   "data/invest.db",
		Hosts:         "public",
		SweepInterval: "1m",
		Slippage:      "1",
		LogFormat:     "console",
		GenerateKey:   true,
	}
}

func step(title string) {
	fmt.Print("\033[H\033[2J") // Clear screen
	fmt.Println(headerStyle.Render("INVEST-SIMPLY CONFIG WIZARD"))
	fmt.Println(stepStyle.Render(title))
}

// RunTUI launches the terminal configuration wizard.
func RunTUI() error {
	a := defaultAnswers()
	var confirm bool

	step("STEP 1: SERVER")
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Where should the API listen?\n"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Listen address").
				Description("host:port, e.g. :8080").
				Value(&a.Addr).
				Validate(func(s string) error {
					if !strings.Contains(s, ":") {
						return fmt.Errorf("must be host:port")
					}
					return nil
				}),
			huh.NewInput().
				Title("TLS domains").
				Description("Comma separated; empty disables automatic TLS").
				Value(&a.TLSDomains),
		),
	).Run()
	if err != nil {
		return err
	}

	step("STEP 2: DATABASE")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Database DSN").
				Description("SQLite path or postgres:// URL").
				Value(&a.DatabaseDSN).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("dsn cannot be empty")
					}
					return nil
				}),
		),
	).Run()
	if err != nil {
		return err
	}

	step("STEP 3: EXCHANGE")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Exchange hosts").
				Options(
					huh.NewOption("Public mainnet and testnet", "public"),
					huh.NewOption("Custom testnet host", "custom"),
				).
				Value(&a.Hosts),
		),
	).Run()
	if err != nil {
		return err
	}
	if a.Hosts == "custom" {
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Testnet URL").
					Value(&a.TestnetURL),
			),
		).Run()
		if err != nil {
			return err
		}
	}

	step("STEP 4: RECURRING BUYS")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Sweep interval").
				Description("How often due plans are checked (e.g. 30s, 1m)").
				Value(&a.SweepInterval).
				Validate(func(s string) error {
					_, err := time.ParseDuration(s)
					return err
				}),
			huh.NewInput().
				Title("Default slippage %").
				Description("Used when a request does not set one (0-50)").
				Value(&a.Slippage).
				Validate(validateSlippage),
		),
	).Run()
	if err != nil {
		return err
	}

	step("STEP 5: LOGGING AND SECRETS")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Log format").
				Options(
					huh.NewOption("Console", "console"),
					huh.NewOption("JSON", "json"),
				).
				Value(&a.LogFormat),
			huh.NewConfirm().
				Title("Generate a master key?").
				Description(fmt.Sprintf("Written to %s as %s. Keep it: agent keys cannot be opened without it.", envFile, config.EnvMasterKey)).
				Value(&a.GenerateKey),
		),
	).Run()
	if err != nil {
		return err
	}

	step("FINAL CONFIRMATION")
	summary := fmt.Sprintf(
		"Address: %s\nTLS: %s\nDatabase: %s\nHosts: %s\nSweep: %s\nSlippage: %s%%\nLog: %s\n",
		a.Addr, orNone(a.TLSDomains), a.DatabaseDSN, a.Hosts, a.SweepInterval, a.Slippage, a.LogFormat,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save and start").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}
	if !confirm {
		return fmt.Errorf("setup cancelled by user")
	}

	data, err := yaml.Marshal(BuildConfig(a))
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}
	if err := os.WriteFile(config.GeneratedFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}

	msg := fmt.Sprintf("\n✓ Configuration saved to %s", config.GeneratedFile)
	if a.GenerateKey && os.Getenv(config.EnvMasterKey) == "" {
		key, err := GenerateMasterKey()
		if err != nil {
			return err
		}
		if err := AppendEnv(envFile, config.EnvMasterKey, key); err != nil {
			return err
		}
		msg += fmt.Sprintf("\n✓ Master key written to %s", envFile)
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(msg + "\nStarting server..."))
	time.Sleep(1500 * time.Millisecond) // small pause to read success message
	return nil
}

// BuildConfig converts wizard answers into the yaml config layout.
func BuildConfig(a Answers) config.ConfigTmp {
	var c config.ConfigTmp
	c.Server.Addr = a.Addr
	for _, d := range strings.Split(a.TLSDomains, ",") {
		if d = strings.TrimSpace(d); d != "" {
			c.Server.TLSDomains = append(c.Server.TLSDomains, d)
		}
	}
	c.Database.DSN = a.DatabaseDSN
	if a.Hosts == "custom" {
		c.Exchange.TestnetURL = strings.TrimSpace(a.TestnetURL)
	}
	c.DCA.SweepInterval, _ = time.ParseDuration(a.SweepInterval)
	c.DCA.DefaultSlippageStr = a.Slippage
	c.Log.Format = a.LogFormat
	return c
}

// GenerateMasterKey returns a random 32 byte key, hex encoded.
func GenerateMasterKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate master key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// AppendEnv adds key=value to the env file at path unless key is already set there.
func AppendEnv(path, key, value string) error {
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	for _, line := range strings.Split(string(existing), "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), key+"=") {
			return fmt.Errorf("%s is already set in %s", key, path)
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	prefix := ""
	if len(existing) > 0 && !strings.HasSuffix(string(existing), "\n") {
		prefix = "\n"
	}
	if _, err := fmt.Fprintf(f, "%s%s=%s\n", prefix, key, value); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func validateSlippage(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(50)) {
		return fmt.Errorf("must be between 0 and 50")
	}
	return nil
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "none"
	}
	return s
}
