package verify

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/pablintino/deploy-executor/internal/connection"
	"github.com/pablintino/deploy-executor/internal/models"
	"github.com/pablintino/deploy-executor/internal/utils"
)

// Report is the outcome of one status check: the captured output lines and
// whether the optional expectation matched.
type Report struct {
	Lines    []string
	ExitCode int
	Matched  bool
}

type Verifier struct {
	logger *zap.SugaredLogger
}

func NewVerifier(logger *zap.SugaredLogger) *Verifier {
	return &Verifier{logger: logger}
}

// Verify runs the status-check command and surfaces its output lines.
// Without an expect pattern success only means the command executed; with
// one, at least one output line has to match it.
func (v *Verifier) Verify(ctx context.Context, conn connection.Connection, params *models.CheckParams) (*Report, error) {
	var expectRegex *regexp.Regexp
	if params.Expect != "" {
		compiled, err := regexp.Compile(params.Expect)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid expect pattern %q: %v", utils.ErrConfig, params.Expect, err)
		}
		expectRegex = compiled
	}

	result, err := conn.Run(ctx, params.Cmd)
	if err != nil {
		return nil, fmt.Errorf("%w: status check could not run: %v", utils.ErrVerification, err)
	}

	report := &Report{
		Lines:    splitLines(result.Stdout),
		ExitCode: result.ExitCode,
	}
	for _, line := range report.Lines {
		v.logger.Infow("status check output", "line", line)
	}

	if expectRegex == nil {
		return report, nil
	}
	for _, line := range report.Lines {
		if expectRegex.MatchString(line) {
			report.Matched = true
			return report, nil
		}
	}
	return report, fmt.Errorf("%w: no status output line matches %q", utils.ErrVerification, params.Expect)
}

func splitLines(output string) []string {
	trimmed := strings.TrimRight(output, "\n")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}
