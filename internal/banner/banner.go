// Package banner prints the startup header shown when the peercall
// daemon comes up.
package banner

import (
	"fmt"
	"strings"
)

const logo = `
======================================================================
 ____                          _ _
|  _ \ ___  ___ _ __ ___  __ _| | |
| |_) / _ \/ _ \ '__/ __|/ _` + "`" + ` | | |
|  __/  __/  __/ | | (__| (_| | | |
|_|   \___|\___|_|  \___|\__,_|_|_|
----------------------------------------------------------------------`

const footer = `======================================================================`

// ConfigLine is one label/value pair shown under the logo.
type ConfigLine struct {
	Label string
	Value string
}

// Print writes the logo, the service name and the effective
// configuration, with values aligned on the longest label.
func Print(serviceName string, config []ConfigLine) {
	fmt.Println(logo)
	fmt.Printf("%s\n", serviceName)

	maxLen := 0
	for _, c := range config {
		if len(c.Label) > maxLen {
			maxLen = len(c.Label)
		}
	}

	for _, c := range config {
		padding := strings.Repeat(" ", maxLen-len(c.Label))
		fmt.Printf("  %s%s : %s\n", c.Label, padding, c.Value)
	}

	fmt.Println()
	fmt.Println("Ready.")
	fmt.Println(footer)
	fmt.Println()
}
