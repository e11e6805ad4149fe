// SPDX-License-Identifier: AGPL-3.0-or-later

// Command sirimitm runs the Siri man-in-the-middle proxy.
package main

import (
	"fmt"
	"os"

	"github.com/sirimitm/sirimitm/internal/cmd"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := cmd.NewCommand(version, commit).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
