package pkg

import (
	"io"
	"os"

	"github.com/mitchellh/colorstring"
)

// StatusOutput receives the status lines of the pack commands.
var StatusOutput io.Writer = os.Stdout

// PrintTask announces a new top level step, e.g. "==> Packing needle.zip".
func PrintTask(msg string) {
	colorstring.Fprintf(StatusOutput, "[blue][bold]==>[default] %s\n", msg)
}

// PrintSubtask reports progress inside the current step.
func PrintSubtask(msg string) {
	colorstring.Fprintf(StatusOutput, "[green][bold]  ->[reset] %s\n", msg)
}

// PrintError reports a failed step in red.
func PrintError(msg string) {
	colorstring.Fprintf(StatusOutput, "[red][bold]  ->[reset] %s\n", msg)
}
