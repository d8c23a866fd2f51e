package process

import (
	"os"
	"strconv"
	"strings"
)

// ExecutionRequest describes one target invocation. It is immutable once
// built; accessors hand out copies.
type ExecutionRequest struct {
	executablePath   string
	arguments        []string
	environment      map[string]string
	stdin            []byte
	workingDirectory string
}

type requestOptions struct {
	environment      map[string]string
	allowList        *EnvAllowList
	stdin            []byte
	workingDirectory string
}

type RequestOption func(*requestOptions)

// WithEnvironment replaces the source environment (the launcher's own by
// default). The source is still filtered through the allow-list.
func WithEnvironment(env map[string]string) RequestOption {
	return func(o *requestOptions) {
		o.environment = env
	}
}

func WithAllowList(allowList EnvAllowList) RequestOption {
	return func(o *requestOptions) {
		o.allowList = &allowList
	}
}

// WithStdin supplies the bytes the target reads on stdin. Without it the
// target's stdin is /dev/null.
func WithStdin(stdin []byte) RequestOption {
	return func(o *requestOptions) {
		o.stdin = stdin
	}
}

func WithWorkingDirectory(dir string) RequestOption {
	return func(o *requestOptions) {
		o.workingDirectory = dir
	}
}

func NewExecutionRequest(executablePath string, arguments []string, opts ...RequestOption) *ExecutionRequest {
	options := requestOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	source := options.environment
	if source == nil {
		source = ParseEnviron(os.Environ())
	}
	allowList := DefaultEnvAllowList()
	if options.allowList != nil {
		allowList = *options.allowList
	}

	var stdin []byte
	if options.stdin != nil {
		stdin = append([]byte(nil), options.stdin...)
	}

	return &ExecutionRequest{
		executablePath:   executablePath,
		arguments:        append([]string(nil), arguments...),
		environment:      allowList.Filter(source),
		stdin:            stdin,
		workingDirectory: options.workingDirectory,
	}
}

func (r *ExecutionRequest) ExecutablePath() string {
	return r.executablePath
}

func (r *ExecutionRequest) Arguments() []string {
	return append([]string(nil), r.arguments...)
}

func (r *ExecutionRequest) Environment() map[string]string {
	env := make(map[string]string, len(r.environment))
	for name, value := range r.environment {
		env[name] = value
	}
	return env
}

// Environ returns the filtered environment as sorted KEY=VALUE entries.
func (r *ExecutionRequest) Environ() []string {
	return Environ(r.environment)
}

// Stdin returns a copy of the explicit stdin, or nil when none was supplied.
func (r *ExecutionRequest) Stdin() []byte {
	if r.stdin == nil {
		return nil
	}
	return append([]byte(nil), r.stdin...)
}

func (r *ExecutionRequest) WorkingDirectory() string {
	return r.workingDirectory
}

// CommandLine renders path and arguments for audit output, quoting words
// that contain whitespace or quotes.
func (r *ExecutionRequest) CommandLine() string {
	words := make([]string, 0, len(r.arguments)+1)
	for _, word := range append([]string{r.executablePath}, r.arguments...) {
		if word == "" || strings.ContainsAny(word, " \t\n\"'\\") {
			word = strconv.Quote(word)
		}
		words = append(words, word)
	}
	return strings.Join(words, " ")
}
