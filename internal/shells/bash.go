package shells

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/pablintino/deploy-executor/internal/config"
)

type bashRemoteShell struct {
	shellConfig *config.ShellConfig
}

func NewBashRemoteShell(shellConfig *config.ShellConfig) *bashRemoteShell {
	return &bashRemoteShell{shellConfig: shellConfig}
}

func (b *bashRemoteShell) Script(commands ...string) string {
	var buf bytes.Buffer
	addBashHeader(&buf, b.shellConfig.Tracing)
	for _, cmd := range commands {
		buf.WriteString(cmd + "\n")
	}
	encoded := base64.StdEncoding.EncodeToString(buf.Bytes())
	return fmt.Sprintf("echo %s | base64 -d | /bin/bash", encoded)
}

func (b *bashRemoteShell) RunAs(cmd string, user string, chdir string) string {
	if chdir != "" {
		cmd = fmt.Sprintf("cd %s && %s", shellQuote(chdir), cmd)
	}
	if user != "" {
		cmd = fmt.Sprintf("sudo -n -u %s -H /bin/bash -c %s", shellQuote(user), shellQuote(cmd))
	}
	return cmd
}

func (b *bashRemoteShell) Background(cmd string, timeoutSeconds uint64) string {
	bounded := cmd
	if timeoutSeconds > 0 {
		bounded = fmt.Sprintf("timeout %d /bin/bash -c %s", timeoutSeconds, shellQuote(cmd))
	}
	return fmt.Sprintf("nohup %s >/dev/null 2>&1 & disown", bounded)
}

func addBashHeader(buf *bytes.Buffer, traceEnabled bool) {
	buf.WriteString("#!/bin/bash\n")
	buf.WriteString(fmt.Sprintf("set %s\n", buildBashOpts(traceEnabled)))
}

func buildBashOpts(traceEnabled bool) string {
	opts := "-eu"
	if traceEnabled {
		opts += "x"
	}
	opts += "o pipefail"
	return opts
}

func shellQuote(value string) string {
	if value == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}
