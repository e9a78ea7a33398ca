package device

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"mcq-autopilot/internal/mcq"
	"mcq-autopilot/pkg/logging/logging"
)

var ErrOptionNotFound = errors.New("device: option not found on screen")

// ADBDispatcher taps the screen with `adb shell input tap` and finds option
// elements through uiautomator dumps.
type ADBDispatcher struct {
	runner   Runner
	maxDepth int
}

func NewADBDispatcher(runner Runner, maxDepth int) *ADBDispatcher {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &ADBDispatcher{runner: runner, maxDepth: maxDepth}
}

func (d *ADBDispatcher) TapAt(ctx context.Context, x, y int) error {
	if x < 0 || y < 0 {
		return fmt.Errorf("device: invalid tap point (%d, %d)", x, y)
	}
	_, err := d.runner.Run(ctx, "shell", "input", "tap", strconv.Itoa(x), strconv.Itoa(y))
	return err
}

// ActivateOption taps the center of the first on-screen element labelled
// with letter.
func (d *ADBDispatcher) ActivateOption(ctx context.Context, letter mcq.Letter) error {
	dump, err := d.runner.Run(ctx, "exec-out", "uiautomator", "dump", "/dev/tty")
	if err != nil {
		return err
	}
	root, err := ParseUITree(dump)
	if err != nil {
		return err
	}

	node, ok := FindOptionNode(root, letter, d.maxDepth)
	if !ok {
		return fmt.Errorf("%w: %s", ErrOptionNotFound, letter)
	}

	c := node.Center()
	logging.L(ctx).Debug("option_node_found",
		zap.String("letter", letter.String()),
		zap.String("text", node.Text),
		zap.Int("depth", node.Depth),
		zap.Int("x", c.X),
		zap.Int("y", c.Y),
	)
	return d.TapAt(ctx, c.X, c.Y)
}
