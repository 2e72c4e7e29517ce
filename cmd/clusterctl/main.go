// Command clusterctl runs administrative tasks against a clusterpost
// deployment: schema migrations, token issuance and token distribution.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
