// Package language maps language ids to sandbox images and command templates.
package language

import (
	"strings"

	appErr "judgeline/pkg/errors"

	"github.com/google/shlex"
)

const (
	placeholderSource = "{src}"
	placeholderBinary = "{bin}"
)

// Language describes how to build and run one submission language.
// Commands are shell-like templates split with shlex; {src} and {bin} expand
// to SourceFile and BinaryFile, both relative to the workspace root.
type Language struct {
	ID             string `yaml:"id"`
	Image          string `yaml:"image"`
	SourceFile     string `yaml:"sourceFile"`
	BinaryFile     string `yaml:"binaryFile"`
	CompileCommand string `yaml:"compileCommand"`
	RunCommand     string `yaml:"runCommand"`
}

// Compiled reports whether the language has a compile step.
func (l Language) Compiled() bool {
	return strings.TrimSpace(l.CompileCommand) != ""
}

// CompileArgs returns the expanded compile argv, or nil for interpreted languages.
func (l Language) CompileArgs() ([]string, error) {
	if !l.Compiled() {
		return nil, nil
	}
	return l.expand(l.CompileCommand)
}

// RunArgs returns the expanded run argv.
func (l Language) RunArgs() ([]string, error) {
	return l.expand(l.RunCommand)
}

func (l Language) expand(template string) ([]string, error) {
	parts, err := shlex.Split(template)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidFormat, "parse command of language %s failed", l.ID)
	}
	if len(parts) == 0 {
		return nil, appErr.Newf(appErr.InvalidFormat, "empty command for language %s", l.ID)
	}
	replacer := strings.NewReplacer(placeholderSource, l.SourceFile, placeholderBinary, l.BinaryFile)
	for i, part := range parts {
		parts[i] = replacer.Replace(part)
	}
	return parts, nil
}

// Validate checks that the entry can be executed.
func (l Language) Validate() error {
	if strings.TrimSpace(l.ID) == "" {
		return appErr.ValidationError("id", "required")
	}
	if strings.TrimSpace(l.Image) == "" {
		return appErr.ValidationError("image", "required for language "+l.ID)
	}
	if strings.TrimSpace(l.SourceFile) == "" || strings.ContainsAny(l.SourceFile, `/\`) {
		return appErr.ValidationError("sourceFile", "must be a plain file name for language "+l.ID)
	}
	if strings.TrimSpace(l.RunCommand) == "" {
		return appErr.ValidationError("runCommand", "required for language "+l.ID)
	}
	if strings.Contains(l.CompileCommand+l.RunCommand, placeholderBinary) && l.BinaryFile == "" {
		return appErr.ValidationError("binaryFile", "required when {bin} is used for language "+l.ID)
	}
	if _, err := l.CompileArgs(); err != nil {
		return err
	}
	if _, err := l.RunArgs(); err != nil {
		return err
	}
	return nil
}
