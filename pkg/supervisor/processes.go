package supervisor

import (
	"fmt"

	"github.com/igorsilveira/deckhand/pkg/config"
)

// Processes lists the deckhand services in start order: the directory,
// the three workers, then the coordinator. Each runs as a subcommand of
// exe and is ready once its /readyz answers.
func Processes(exe, configPath string, cfg *config.Config) []Process {
	withConfig := func(args ...string) []string {
		if configPath != "" {
			args = append(args, "--config", configPath)
		}
		return args
	}
	readyURL := func(port int) string {
		return fmt.Sprintf("http://127.0.0.1:%d/readyz", port)
	}
	return []Process{
		{Name: "directory", Program: exe, Args: withConfig("directory"), ReadyURL: readyURL(cfg.Directory.Port)},
		{Name: "outliner", Program: exe, Args: withConfig("worker", "outline"), ReadyURL: readyURL(cfg.Agents.Outline.Port)},
		{Name: "copywriter", Program: exe, Args: withConfig("worker", "draft"), ReadyURL: readyURL(cfg.Agents.Draft.Port)},
		{Name: "builder", Program: exe, Args: withConfig("worker", "build"), ReadyURL: readyURL(cfg.Agents.Build.Port)},
		{Name: "coordinator", Program: exe, Args: withConfig("coordinator"), ReadyURL: readyURL(cfg.Coordinator.Port)},
	}
}
