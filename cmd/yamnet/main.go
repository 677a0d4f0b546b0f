// Command yamnet samples ambient sound on a schedule and stores YAMNet
// classifications in SQLite.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/yamnet/internal/capture"
	"github.com/roach88/yamnet/internal/capture/portaudio"
	"github.com/roach88/yamnet/internal/classify/tflite"
	"github.com/roach88/yamnet/internal/cli"
)

func main() {
	root := cli.NewRootCommand(cli.Backends{
		Device: func() capture.Device { return portaudio.New(portaudio.DefaultFramesPerBuffer) },
		Model:  tflite.Backend{},
	})
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
