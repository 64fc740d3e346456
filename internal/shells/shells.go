package shells

// RemoteShell renders task operations into single command lines that can be
// handed to a remote shell over one SSH session.
type RemoteShell interface {
	// Script bundles the given commands into one fail-fast bash script
	// transported base64-encoded so quoting survives the remote shell.
	Script(commands ...string) string
	// RunAs wraps a command so it executes as the given user from the
	// given directory. Empty user or chdir leave that part out.
	RunAs(cmd string, user string, chdir string) string
	// Background wraps a command for fire-and-forget execution bounded
	// by timeoutSeconds. The wrapper returns immediately.
	Background(cmd string, timeoutSeconds uint64) string
}
