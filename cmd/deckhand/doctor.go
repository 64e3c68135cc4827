package deckhand

import (
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/igorsilveira/deckhand/pkg/config"
	"github.com/igorsilveira/deckhand/pkg/worker"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose issues with the Deckhand installation",
	RunE:  runDoctor,
}

type checkResult struct {
	name   string
	ok     bool
	detail string
}

func runDoctor(cmd *cobra.Command, args []string) error {
	fmt.Printf("Deckhand Doctor v%s\n", version)
	fmt.Printf("Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("Go: %s\n\n", runtime.Version())

	checks := []checkResult{
		checkDataDir(),
		checkConfig(),
		checkAuditDB(cfg),
		checkGenerator(cfg),
		checkOutputDir(cfg),
	}
	client := &http.Client{Timeout: 2 * time.Second}
	for _, s := range checkServices(cfg, client) {
		checks = append(checks, checkResult{"Service " + s.name, s.ready, s.detail})
	}

	passed, failed := 0, 0
	for _, c := range checks {
		status := "✓"
		if !c.ok {
			status = "✗"
			failed++
		} else {
			passed++
		}
		fmt.Printf("  %s %s: %s\n", status, c.name, c.detail)
	}

	fmt.Printf("\n%d passed, %d failed\n", passed, failed)

	if failed > 0 {
		return fmt.Errorf("%d checks failed", failed)
	}
	return nil
}

func checkDataDir() checkResult {
	dir := config.DataDir()
	info, err := os.Stat(dir)
	if err != nil {
		return checkResult{"Data directory", false, fmt.Sprintf("%s does not exist", dir)}
	}
	if !info.IsDir() {
		return checkResult{"Data directory", false, fmt.Sprintf("%s is not a directory", dir)}
	}
	return checkResult{"Data directory", true, dir}
}

func checkConfig() checkResult {
	path := cfgFile
	if path == "" {
		path = config.DefaultConfigPath()
	}
	if _, err := os.Stat(path); err != nil {
		return checkResult{"Config file", false, fmt.Sprintf("%s not found (using defaults)", path)}
	}
	c, err := config.Load(path)
	if err != nil {
		return checkResult{"Config file", false, fmt.Sprintf("parse error: %s", err)}
	}
	return checkResult{"Config file", true, fmt.Sprintf("%s (coordinator port %d)", path, c.Coordinator.Port)}
}

func checkAuditDB(c *config.Config) checkResult {
	if !c.Audit.Enabled {
		return checkResult{"Audit log", true, "disabled"}
	}
	info, err := os.Stat(c.Audit.DSN)
	if err != nil {
		return checkResult{"Audit log", false, fmt.Sprintf("%s not found (will be created on first start)", c.Audit.DSN)}
	}
	return checkResult{"Audit log", true, fmt.Sprintf("%s (%d KB)", c.Audit.DSN, info.Size()/1024)}
}

func checkGenerator(c *config.Config) checkResult {
	name := "Generator"
	if _, err := worker.NewGenerator(c.Generator); err != nil {
		return checkResult{name, false, err.Error()}
	}
	switch c.Generator.Driver {
	case "openai":
		if os.Getenv(c.Generator.APIKeyEnv) == "" {
			return checkResult{name, false, fmt.Sprintf("%s not set", c.Generator.APIKeyEnv)}
		}
		return checkResult{name, true, fmt.Sprintf("openai (%s)", c.Generator.Model)}
	case "ollama":
		return checkResult{name, true, fmt.Sprintf("ollama at %s (%s)", c.Generator.BaseURL, c.Generator.Model)}
	default:
		return checkResult{name, true, "built-in template"}
	}
}

func checkOutputDir(c *config.Config) checkResult {
	dir := c.Agents.Build.OutputDir
	info, err := os.Stat(dir)
	if err != nil {
		return checkResult{"Output directory", true, fmt.Sprintf("%s (will be created by the builder)", dir)}
	}
	if !info.IsDir() {
		return checkResult{"Output directory", false, fmt.Sprintf("%s is not a directory", dir)}
	}
	return checkResult{"Output directory", true, dir}
}
