package compiler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
)

// LoadMode controls how errors are handled while loading a bundle.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// Load error codes (E001-E099).
const (
	ErrCodeGeneric     = "E001" // generic/unknown error
	ErrCodeScanError   = "E002" // directory scan error
	ErrCodeNoFiles     = "E003" // no CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeEmpty       = "E007" // no rules or recurring configs declared
)

// Bundle is every definition declared in a set of CUE files.
//
// Rules live under the top-level `rule` struct and recurring configs under
// `recurring`, both keyed by a label:
//
//	rule: "label-urgent": { board: "b1", trigger: type: "card_created", actions: [...] }
//	recurring: standup: { card: "tmpl-standup", cron: "0 9 * * 1-5" }
type Bundle struct {
	Rules     []CompiledRule
	Recurring []CompiledRecurring
	FileCount int
}

// LoadError is a load or compile failure with an error code and, when
// known, a CUE source position.
type LoadError struct {
	Code    string
	Path    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	prefix := e.Code
	if e.Path != "" {
		prefix = e.Code + " " + e.Path
	}
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), prefix, e.Message)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// Load reads a CUE file, or every CUE file of a directory, and compiles and
// validates the rules and recurring configs it declares.
//
// In LoadModeFailFast the first error is returned alone. In
// LoadModeCollectAll every failing definition is reported and the bundle
// holds the ones that succeeded.
func Load(path string, mode LoadMode) (*Bundle, []error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("path not found: %s", path)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing path: %v", err)}}
	}

	var (
		value cue.Value
		files int
	)
	if info.IsDir() {
		value, files, err = buildDir(path)
	} else {
		value, err = buildFile(path)
		files = 1
	}
	if err != nil {
		return nil, []error{err}
	}

	bundle := &Bundle{FileCount: files}
	var errs []error
	collect := func(e error) bool {
		errs = append(errs, e)
		return mode == LoadModeFailFast
	}

	if stop := eachField(value, "rule", func(label string, v cue.Value) bool {
		rule, err := CompileRule(v)
		if err != nil {
			return collect(convertCompileError(err, "rule."+label))
		}
		if verrs := ValidateRule(rule.Definition); len(verrs) > 0 {
			return collect(convertValidationErrors(verrs, "rule."+label))
		}
		bundle.Rules = append(bundle.Rules, *rule)
		return false
	}, collect); stop {
		return bundle, errs
	}

	if stop := eachField(value, "recurring", func(label string, v cue.Value) bool {
		rec, err := CompileRecurring(v)
		if err != nil {
			return collect(convertCompileError(err, "recurring."+label))
		}
		if verrs := ValidateRecurring(rec.Definition); len(verrs) > 0 {
			return collect(convertValidationErrors(verrs, "recurring."+label))
		}
		bundle.Recurring = append(bundle.Recurring, *rec)
		return false
	}, collect); stop {
		return bundle, errs
	}

	if len(bundle.Rules) == 0 && len(bundle.Recurring) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeEmpty, Message: "no rules or recurring configs found"})
	}
	return bundle, errs
}

// eachField calls fn for every field of the top-level struct name. It
// returns true once fn or onErr asks to stop.
func eachField(value cue.Value, name string, fn func(label string, v cue.Value) bool, onErr func(error) bool) bool {
	section := value.LookupPath(cue.ParsePath(name))
	if !section.Exists() {
		return false
	}
	iter, err := section.Fields()
	if err != nil {
		return onErr(&LoadError{Code: ErrCodeGeneric, Path: name, Message: fmt.Sprintf("iterating %s: %v", name, err)})
	}
	for iter.Next() {
		if fn(iter.Selector().Unquoted(), iter.Value()) {
			return true
		}
	}
	return false
}

func buildDir(dir string) (cue.Value, int, error) {
	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(cueFiles) == 0 {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	value := cuecontext.New().BuildInstance(inst)
	if err := value.Err(); err != nil {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}
	return value, len(cueFiles), nil
}

func buildFile(path string) (cue.Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("reading %s: %v", path, err)}
	}
	value := cuecontext.New().CompileBytes(data, cue.Filename(path))
	if err := value.Err(); err != nil {
		if cerr := formatCUEError(err); cerr != nil {
			var ce *CompileError
			if errors.As(cerr, &ce) {
				return cue.Value{}, &LoadError{Code: ErrCodeBuildFailed, Message: ce.Message, Pos: ce.Pos}
			}
		}
		return cue.Value{}, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}
	return value, nil
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func convertCompileError(err error, path string) *LoadError {
	var compileErr *CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    ErrCodeGeneric,
			Path:    path,
			Message: compileErr.Field + ": " + compileErr.Message,
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{Code: ErrCodeGeneric, Path: path, Message: err.Error()}
}

// convertValidationErrors reports the first validation error's code; the
// message lists all of them.
func convertValidationErrors(verrs ValidationErrors, path string) *LoadError {
	return &LoadError{Code: verrs[0].Code, Path: path, Message: verrs.Error()}
}
