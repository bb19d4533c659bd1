package consent

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/fishare/fishare/internal/logging"
)

// CLIOracle prompts the operator on the terminal using an interactive
// confirm form. When stdout is not a TTY (piped output, service mode) it
// auto-denies and logs a warning instead of blocking on input that will
// never arrive.
type CLIOracle struct {
	logger *slog.Logger
}

// NewCLIOracle constructs a CLIOracle.
func NewCLIOracle(logger *slog.Logger) *CLIOracle {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &CLIOracle{logger: logger.With(logging.KeyComponent, "consent")}
}

// RequestConsent implements Oracle.
func (c *CLIOracle) RequestConsent(ctx context.Context, peerName string, numFiles int, totalBytes uint64) bool {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		c.logger.Warn("auto-denying incoming transfer: not running in an interactive terminal",
			logging.KeyPeerName, peerName)
		return false
	}

	title := fmt.Sprintf("%s wants to send %d file(s) (%s). Accept?",
		peerName, numFiles, humanize.Bytes(totalBytes))

	accept := false
	resultCh := make(chan bool, 1)

	go func() {
		confirm := huh.NewConfirm().
			Title(title).
			Affirmative("Accept").
			Negative("Reject").
			Value(&accept)

		if err := confirm.Run(); err != nil {
			c.logger.Warn("consent prompt failed", logging.KeyError, err)
			resultCh <- false
			return
		}
		resultCh <- accept
	}()

	select {
	case <-ctx.Done():
		c.logger.Warn("consent prompt timed out, denying transfer", logging.KeyPeerName, peerName)
		return false
	case result := <-resultCh:
		return result
	}
}
