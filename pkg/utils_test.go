package pkg

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusPrinters(t *testing.T) {
	var out bytes.Buffer
	previous := StatusOutput
	StatusOutput = &out
	t.Cleanup(func() { StatusOutput = previous })

	PrintTask("Packing needle.zip")
	PrintSubtask("Done")
	PrintError("disk full")

	text := out.String()
	require.Contains(t, text, "==>")
	require.Contains(t, text, "->\x1b[0m Done\n")
	require.Contains(t, text, "\x1b[31m")
	require.Less(t, bytes.Index(out.Bytes(), []byte("Packing needle.zip")), bytes.Index(out.Bytes(), []byte("Done")))
	require.Less(t, bytes.Index(out.Bytes(), []byte("Done")), bytes.Index(out.Bytes(), []byte("disk full")))
}
