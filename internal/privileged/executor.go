// Package privileged runs the root-only system operations behind a single Executor
// capability, so the swap and memory logic can be exercised without root.
package privileged

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrOperationFailed is returned (wrapped in *OpError) when a privileged operation fails
var ErrOperationFailed = errors.New("privileged operation failed")

// Kind names a privileged operation
type Kind string

const (
	SetKernelParam  Kind = "set-kernel-param"
	SyncFilesystems Kind = "sync"
	DropCaches      Kind = "drop-caches"
	AllocateZero    Kind = "allocate-zero-file"
	SetOwnerOnly    Kind = "set-owner-only"
	FormatSwap      Kind = "format-swap"
	ActivateSwap    Kind = "activate-swap"
	DeactivateSwap  Kind = "deactivate-swap"
	DeleteFile      Kind = "delete-file"
	ListActiveSwaps Kind = "list-active-swaps"
)

// Operation is one privileged request. Only the fields relevant to Kind are set.
type Operation struct {
	Kind   Kind
	Path   string
	Name   string
	Value  string
	SizeMB int
}

func (op Operation) String() string {
	switch op.Kind {
	case SetKernelParam:
		return fmt.Sprintf("%s %s=%s", op.Kind, op.Name, op.Value)
	case DropCaches:
		return fmt.Sprintf("%s %s", op.Kind, op.Value)
	case AllocateZero:
		return fmt.Sprintf("%s %s (%d MB)", op.Kind, op.Path, op.SizeMB)
	case SyncFilesystems, ListActiveSwaps:
		return string(op.Kind)
	default:
		return fmt.Sprintf("%s %s", op.Kind, op.Path)
	}
}

// OpError reports a failed operation together with the command output
type OpError struct {
	Op     Operation
	Output string
	Err    error
}

func (e *OpError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + out
	}
	return msg
}

// Unwrap lets errors.Is match both ErrOperationFailed and the underlying cause
func (e *OpError) Unwrap() []error {
	return []error{ErrOperationFailed, e.Err}
}

// Executor runs privileged operations. Output is only meaningful for ListActiveSwaps.
type Executor interface {
	Execute(ctx context.Context, op Operation) (string, error)
}

// KernelParam sets a sysctl parameter
func KernelParam(name, value string) Operation {
	return Operation{Kind: SetKernelParam, Name: name, Value: value}
}

// Sync flushes filesystem buffers
func Sync() Operation { return Operation{Kind: SyncFilesystems} }

// DropCachesMode writes mode (1 page cache, 2 slab, 3 both) to /proc/sys/vm/drop_caches
func DropCachesMode(mode int) Operation {
	return Operation{Kind: DropCaches, Value: strconv.Itoa(mode)}
}

// Allocate writes a zero-filled file of sizeMB at path
func Allocate(path string, sizeMB int) Operation {
	return Operation{Kind: AllocateZero, Path: path, SizeMB: sizeMB}
}

// OwnerOnly restricts path to mode 0600
func OwnerOnly(path string) Operation { return Operation{Kind: SetOwnerOnly, Path: path} }

// Format writes a swap signature to path
func Format(path string) Operation { return Operation{Kind: FormatSwap, Path: path} }

// Activate enables path as a swap area
func Activate(path string) Operation { return Operation{Kind: ActivateSwap, Path: path} }

// Deactivate disables the swap area at path
func Deactivate(path string) Operation { return Operation{Kind: DeactivateSwap, Path: path} }

// Delete removes path
func Delete(path string) Operation { return Operation{Kind: DeleteFile, Path: path} }

// ListSwaps lists the active swap areas, one raw-escaped path per line
func ListSwaps() Operation { return Operation{Kind: ListActiveSwaps} }

// ShellExecutor maps operations to system commands
type ShellExecutor struct {
	// UseSudo prefixes every command with sudo
	UseSudo bool
	// Timeout bounds each command; zero means no limit
	Timeout time.Duration

	run func(ctx context.Context, name string, args ...string) (string, error)
}

// NewShellExecutor creates a shell-backed executor
func NewShellExecutor(useSudo bool, timeout time.Duration) *ShellExecutor {
	return &ShellExecutor{
		UseSudo: useSudo,
		Timeout: timeout,
		run:     runCommandSilent,
	}
}

// runCommandSilent executes a command and returns its combined output
func runCommandSilent(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	return string(output), err
}

// Command returns the argv for op, before any sudo prefix
func Command(op Operation) ([]string, error) {
	switch op.Kind {
	case SetKernelParam:
		return []string{"sysctl", "-w", op.Name + "=" + op.Value}, nil
	case SyncFilesystems:
		return []string{"sync"}, nil
	case DropCaches:
		return []string{"sh", "-c", "echo " + op.Value + " > /proc/sys/vm/drop_caches"}, nil
	case AllocateZero:
		return []string{"dd", "if=/dev/zero", "of=" + op.Path, "bs=1M", "count=" + strconv.Itoa(op.SizeMB)}, nil
	case SetOwnerOnly:
		return []string{"chmod", "600", op.Path}, nil
	case FormatSwap:
		return []string{"mkswap", op.Path}, nil
	case ActivateSwap:
		return []string{"swapon", op.Path}, nil
	case DeactivateSwap:
		return []string{"swapoff", op.Path}, nil
	case DeleteFile:
		return []string{"rm", "-f", op.Path}, nil
	case ListActiveSwaps:
		return []string{"swapon", "--show=NAME", "--noheadings", "--raw"}, nil
	default:
		return nil, fmt.Errorf("unknown operation %q", op.Kind)
	}
}

// Execute runs op. The caller's cancellation is not propagated: an operation that
// has started runs to completion or until Timeout expires.
func (s *ShellExecutor) Execute(ctx context.Context, op Operation) (string, error) {
	argv, err := Command(op)
	if err != nil {
		return "", &OpError{Op: op, Err: err}
	}
	if s.UseSudo {
		argv = append([]string{"sudo"}, argv...)
	}

	opCtx := context.WithoutCancel(ctx)
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(opCtx, s.Timeout)
		defer cancel()
	}

	output, err := s.run(opCtx, argv[0], argv[1:]...)
	if err != nil {
		if opCtx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("timed out after %s: %w", s.Timeout, err)
		}
		return output, &OpError{Op: op, Output: output, Err: err}
	}
	return output, nil
}

// ActiveSwaps lists the active swap areas as a set of cleaned absolute paths.
// Callers must look up cleaned absolute paths too.
func ActiveSwaps(ctx context.Context, ex Executor) (map[string]bool, error) {
	out, err := ex.Execute(ctx, ListSwaps())
	if err != nil {
		return nil, err
	}

	active := make(map[string]bool)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		active[filepath.Clean(UnescapeRaw(line))] = true
	}
	return active, nil
}

// UnescapeRaw decodes the \xNN escapes swapon --raw uses for whitespace and
// other unsafe bytes. Malformed escapes are kept as is.
func UnescapeRaw(s string) string {
	if !strings.Contains(s, `\x`) {
		return s
	}

	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) && s[i+1] == 'x' {
			if v, err := strconv.ParseUint(s[i+2:i+4], 16, 8); err == nil {
				b.WriteByte(byte(v))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// EscapeRaw is the inverse of UnescapeRaw for whitespace and backslashes
func EscapeRaw(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case ' ', '\t', '\n', '\\':
			fmt.Fprintf(&b, `\x%02x`, c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
