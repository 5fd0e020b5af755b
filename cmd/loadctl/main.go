// Command loadctl is the CLI entry point for the data loader module.
package main

import "github.com/griddata/loader/cmd"

func main() {
	cmd.Execute()
}
