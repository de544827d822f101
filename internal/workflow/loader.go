package workflow

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"relaybot/internal/domain"
)

// LoadFromDirectory loads workflow definitions from YAML files in a
// directory. Files must have a .yaml or .yml extension and conform to the
// WorkflowDefinition schema. Invalid files are skipped with a warning.
func LoadFromDirectory(dir string, logger *slog.Logger) ([]domain.WorkflowDefinition, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Debug("workflows directory does not exist, skipping", "dir", dir)
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read workflows dir: %w", err)
	}

	var defs []domain.WorkflowDefinition
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("cannot read workflow file", "path", path, "err", err)
			continue
		}

		var def domain.WorkflowDefinition
		if err := yaml.Unmarshal(data, &def); err != nil {
			logger.Warn("cannot parse workflow file", "path", path, "err", err)
			continue
		}

		if def.Name == "" {
			def.Name = strings.TrimSuffix(name, filepath.Ext(name))
		}
		if err := validateDefinition(def); err != nil {
			logger.Warn("invalid workflow file", "path", path, "err", err)
			continue
		}

		logger.Info("loaded workflow definition", "name", def.Name, "path", path)
		defs = append(defs, def)
	}

	return defs, nil
}

func validateDefinition(def domain.WorkflowDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !validService(def.SourceService) {
		return fmt.Errorf("source must be mail or telegram, got %q", def.SourceService)
	}
	if !validService(def.DestinationService) {
		return fmt.Errorf("destination must be mail or telegram, got %q", def.DestinationService)
	}
	if def.DestinationService == "mail" && def.TargetRecipient == "" {
		return fmt.Errorf("targetRecipient is required for mail destinations")
	}
	if def.DestinationService == "telegram" && def.TargetChatID == "" {
		return fmt.Errorf("targetChatId is required for telegram destinations")
	}
	return nil
}

func validService(name string) bool {
	return name == "mail" || name == "telegram"
}
