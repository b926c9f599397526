// The main package for the ooi-harvest-request executable.
package main

import (
	"github.com/JakeFAU/ooi-harvest-request/cmd"
)

func main() {
	cmd.Execute()
}
