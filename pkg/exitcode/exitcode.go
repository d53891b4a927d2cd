// Package exitcode provides standardized exit codes for storyblok-assets-cleanup
package exitcode

// Exit codes for the CLI
const (
	Success         = 0
	GeneralError    = 1
	ConfigError     = 2
	FileSystemError = 4
	NetworkError    = 5
	AuthError       = 6
	CacheError      = 7
	// PipelineAborted means a backup failed while continue-on-download-failure was off.
	PipelineAborted = 10
	// Interrupted follows the shell convention of 128+SIGINT.
	Interrupted = 130
)

// String returns a human-readable description of the exit code
func String(code int) string {
	switch code {
	case Success:
		return "Success"
	case GeneralError:
		return "General error"
	case ConfigError:
		return "Configuration error"
	case FileSystemError:
		return "File system error"
	case NetworkError:
		return "Network error"
	case AuthError:
		return "Authentication error"
	case CacheError:
		return "Cache error"
	case PipelineAborted:
		return "Pipeline aborted"
	case Interrupted:
		return "Interrupted"
	default:
		return "Unknown error"
	}
}
