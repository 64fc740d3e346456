package playbook

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"

	"github.com/pablintino/deploy-executor/internal/models"
	"github.com/pablintino/deploy-executor/internal/utils"
)

var placeholderRegex = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// LoadVariables reads one or more flat TOML variable files. Later files
// override earlier ones. Nested tables are rejected: the variable set is a
// flat name to value mapping by contract.
func LoadVariables(paths ...string) (map[string]string, error) {
	koanfInstance := koanf.New(".")
	for _, path := range paths {
		if err := koanfInstance.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: cannot load variables file %s: %v", utils.ErrConfig, path, err)
		}
	}
	vars := make(map[string]string)
	for key, value := range koanfInstance.All() {
		if placeholderRegex.MatchString(key) {
			return nil, fmt.Errorf("%w: variable name %q contains a placeholder", utils.ErrConfig, key)
		}
		if strings.Contains(key, ".") {
			return nil, fmt.Errorf("%w: variable %q is nested, only flat declarations are supported", utils.ErrConfig, key)
		}
		vars[key] = fmt.Sprintf("%v", value)
	}
	return vars, nil
}

// LoadTasks reads the ordered YAML task list from path.
func LoadTasks(path string) ([]models.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read task list %s: %v", utils.ErrConfig, path, err)
	}
	var tasks []models.Task
	if err := yaml.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("%w: malformed task list %s: %v", utils.ErrConfig, path, err)
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("%w: task list %s declares no tasks", utils.ErrConfig, path)
	}
	for index := range tasks {
		if err := validateTask(&tasks[index], index); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

// Resolve substitutes {{ name }} placeholders in every task parameter from
// the variable set. Any reference to an undefined variable fails before a
// single remote command runs.
func Resolve(tasks []models.Task, vars map[string]string) ([]models.Task, error) {
	resolved := make([]models.Task, len(tasks))
	for index, task := range tasks {
		expanded, err := resolveTask(task, vars)
		if err != nil {
			return nil, err
		}
		resolved[index] = expanded
	}
	return resolved, nil
}

func resolveTask(task models.Task, vars map[string]string) (models.Task, error) {
	expand := func(value *string) error {
		out, err := expandPlaceholders(*value, vars, task.Name)
		if err != nil {
			return err
		}
		*value = out
		return nil
	}
	fields := []*string{&task.Name}
	if task.Packages != nil {
		packages := *task.Packages
		packages.Names = append([]string(nil), task.Packages.Names...)
		task.Packages = &packages
		for index := range packages.Names {
			fields = append(fields, &packages.Names[index])
		}
	}
	if task.User != nil {
		user := *task.User
		task.User = &user
		fields = append(fields, &user.Name, &user.Home, &user.Shell)
	}
	if task.Artifact != nil {
		artifact := *task.Artifact
		task.Artifact = &artifact
		fields = append(fields, &artifact.Source, &artifact.Dest, &artifact.Owner)
	}
	if task.Command != nil {
		command := *task.Command
		task.Command = &command
		fields = append(fields, &command.Cmd, &command.Chdir, &command.User, &command.Creates)
	}
	if task.Check != nil {
		check := *task.Check
		task.Check = &check
		fields = append(fields, &check.Cmd, &check.Expect)
	}
	for _, field := range fields {
		if err := expand(field); err != nil {
			return task, err
		}
	}
	return task, nil
}

func expandPlaceholders(value string, vars map[string]string, taskName string) (string, error) {
	var missing string
	expanded := placeholderRegex.ReplaceAllStringFunc(value, func(match string) string {
		name := placeholderRegex.FindStringSubmatch(match)[1]
		resolved, ok := vars[name]
		if !ok {
			if missing == "" {
				missing = name
			}
			return match
		}
		return resolved
	})
	if missing != "" {
		return "", fmt.Errorf("%w: task %q references undefined variable %q", utils.ErrConfig, taskName, missing)
	}
	return expanded, nil
}

func validateTask(task *models.Task, index int) error {
	if task.Name == "" {
		return fmt.Errorf("%w: task at position %d has no name", utils.ErrConfig, index)
	}
	blocks := 0
	for _, set := range []bool{
		task.Packages != nil,
		task.User != nil,
		task.Artifact != nil,
		task.Command != nil,
		task.Check != nil,
	} {
		if set {
			blocks++
		}
	}
	if blocks != 1 {
		return fmt.Errorf("%w: task %q must declare exactly one operation, got %d", utils.ErrConfig, task.Name, blocks)
	}
	switch task.Kind() {
	case models.TaskKindPackages:
		if len(task.Packages.Names) == 0 {
			return fmt.Errorf("%w: task %q declares no package names", utils.ErrConfig, task.Name)
		}
	case models.TaskKindUser:
		if task.User.Name == "" {
			return fmt.Errorf("%w: task %q declares no user name", utils.ErrConfig, task.Name)
		}
	case models.TaskKindArtifact:
		if task.Artifact.Source == "" || task.Artifact.Dest == "" {
			return fmt.Errorf("%w: task %q requires artifact source and dest", utils.ErrConfig, task.Name)
		}
	case models.TaskKindCommand:
		if task.Command.Cmd == "" {
			return fmt.Errorf("%w: task %q declares no command", utils.ErrConfig, task.Name)
		}
	case models.TaskKindCheck:
		if task.Check.Cmd == "" {
			return fmt.Errorf("%w: task %q declares no check command", utils.ErrConfig, task.Name)
		}
	}
	return nil
}
